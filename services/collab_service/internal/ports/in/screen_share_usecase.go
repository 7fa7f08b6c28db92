package in

import (
	"context"
	"encoding/json"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

// ScreenShareUseCase 屏幕共享协调用例接口
type ScreenShareUseCase interface {
	// StartSession 发起共享，目标已有进行中会话时返回 ErrSessionAlreadyActive
	StartSession(ctx context.Context, req *StartSessionRequest) (*entity.ScreenShareSession, error)
	// EndSession 结束共享
	EndSession(ctx context.Context, sessionID string, endedBy entity.Participant) (*entity.ScreenShareSession, error)
	// AddViewer 观看者加入，返回当前观看人数
	AddViewer(ctx context.Context, sessionID string, viewer entity.Participant) (*ViewerCount, error)
	// RemoveViewer 观看者离开，会话不存在时返回 nil, nil
	RemoveViewer(ctx context.Context, sessionID string, viewer entity.Participant) (*ViewerCount, error)
	// GetActiveSession 以存储为准查询进行中会话
	GetActiveSession(ctx context.Context, channelID, roomID uint64) (*entity.ScreenShareSession, error)
	// GetSession 内存中的会话快照
	GetSession(ctx context.Context, sessionID string) (*SessionSnapshot, error)

	// HandleSignaling 转发 WebRTC 信令到整个频道/房间，会话不存在时丢弃
	HandleSignaling(ctx context.Context, sessionID string, from entity.Participant, signal json.RawMessage) error
	// RequestControl 请求远程控制
	RequestControl(ctx context.Context, sessionID string, requester entity.Participant) error
	// GrantControl 授予远程控制（不校验调用者身份）
	GrantControl(ctx context.Context, sessionID string, to entity.Participant) error
	// RevokeControl 收回远程控制（不校验调用者身份）
	RevokeControl(ctx context.Context, sessionID string) error
	// SendRemoteInput 转发远程输入，不允许控制时静默忽略
	SendRemoteInput(ctx context.Context, sessionID string, input json.RawMessage) error

	// GetSessionHistory 历史会话
	GetSessionHistory(ctx context.Context, channelID, roomID uint64, limit int) ([]*entity.ScreenShareSession, error)
	// CleanupStaleSessions 回收超时会话，错误只记录日志
	CleanupStaleSessions(ctx context.Context) int64
}

// StartSessionRequest 发起共享请求
type StartSessionRequest struct {
	SharerType   string           `json:"sharerType" validate:"required,max=32"`
	SharerID     uint64           `json:"sharerId" validate:"required"`
	SharerName   string           `json:"sharerName" validate:"max=128"`
	ChannelID    uint64           `json:"channelId" validate:"required_without=RoomID,excluded_with=RoomID"`
	RoomID       uint64           `json:"roomId" validate:"required_without=ChannelID,excluded_with=ChannelID"`
	ShareType    entity.ShareType `json:"shareType" validate:"omitempty,oneof=screen window tab browser"`
	AllowControl bool             `json:"allowControl"`
	SiteCode     string           `json:"siteCode" validate:"max=32"`
}

// Sharer 共享者身份
func (r *StartSessionRequest) Sharer() entity.Participant {
	return entity.Participant{Type: r.SharerType, ID: r.SharerID, Name: r.SharerName}
}

// ViewerCount 观看人数
type ViewerCount struct {
	SessionID   string `json:"sessionId"`
	ViewerCount int    `json:"viewerCount"`
}

// SessionSnapshot 会话及当前观看者
type SessionSnapshot struct {
	Session *entity.ScreenShareSession `json:"session"`
	Viewers []entity.Viewer            `json:"viewers"`
}
