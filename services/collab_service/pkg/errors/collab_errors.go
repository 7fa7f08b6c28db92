package errors

import "errors"

var (
	// 屏幕共享会话相关
	ErrSessionAlreadyActive = errors.New("该频道或房间已有进行中的屏幕共享")
	ErrSessionNotFound      = errors.New("屏幕共享会话不存在或已结束")
	ErrControlNotAllowed    = errors.New("该会话不允许远程控制")

	// 参数校验相关
	ErrValidation = errors.New("参数校验失败")

	// 持久化相关，调用方可以重试
	ErrStore = errors.New("存储访问失败")
)
