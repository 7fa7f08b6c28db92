package zlog

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 服务只开放这四个级别，配置校验和运行时切换共用
var levels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

var dynamicLevel = zap.NewAtomicLevel()

func initLevel(lvl string) { SetLevel(lvl) }

func parseLevel(lvl string) zapcore.Level {
	if l, ok := levels[strings.ToLower(lvl)]; ok {
		return l
	}
	return zapcore.InfoLevel
}

func validLevel(lvl string) bool {
	_, ok := levels[lvl]
	return ok
}

// SetLevel 运行时切换级别，未知值回到 info
func SetLevel(lvl string) {
	dynamicLevel.SetLevel(parseLevel(lvl))
}

// GetLevel 当前级别
func GetLevel() string {
	return dynamicLevel.Level().String()
}

// LevelHTTPHandler 挂在 /log/level 上，PUT ?v=debug 切换，其他方法只返回当前级别
func LevelHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			lvl := r.URL.Query().Get("v")
			if lvl == "" {
				lvl = r.FormValue("v")
			}
			SetLevel(lvl)
		}
		_, _ = w.Write([]byte(GetLevel()))
	}
}
