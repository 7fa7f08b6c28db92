package out

import (
	"context"
	"time"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

// ScreenShareRepository 屏幕共享会话与观看记录的持久化接口
// 查询不到时返回 nil, nil
type ScreenShareRepository interface {
	// Create 新建会话，目标已有进行中会话的唯一键冲突返回 ErrSessionAlreadyActive
	// StartedAt 为零值时由存储按自身时钟填写
	Create(ctx context.Context, session *entity.ScreenShareSession) error
	// GetBySessionID 按会话ID查询
	GetBySessionID(ctx context.Context, sessionID string) (*entity.ScreenShareSession, error)
	// FindActive 查询目标上最近的进行中会话
	FindActive(ctx context.Context, target entity.Target) (*entity.ScreenShareSession, error)
	// ListActive 所有进行中会话，用于重启恢复
	ListActive(ctx context.Context) ([]*entity.ScreenShareSession, error)
	// MarkEnded 仅当会话仍为 active 时结束，结束时间和时长由存储按自身时钟计算；没有命中返回 nil, nil
	MarkEnded(ctx context.Context, sessionID string) (*entity.ScreenShareSession, error)
	// EndStale 结束开始超过 maxAge 的进行中会话，返回被结束的会话ID和存储时钟下的截止时间
	EndStale(ctx context.Context, maxAge time.Duration) ([]string, time.Time, error)
	// ListHistory 目标上的历史会话，最新的在前
	ListHistory(ctx context.Context, target entity.Target, limit int) ([]*entity.ScreenShareSession, error)

	// AddViewer 新增观看记录
	AddViewer(ctx context.Context, viewer *entity.Viewer) error
	// MarkViewerLeft 给该观看者所有未离开的记录写入离开时间
	MarkViewerLeft(ctx context.Context, sessionID, viewerType string, viewerID uint64, leftAt time.Time) (int64, error)
	// ListOpenViewers 未离开的观看记录
	ListOpenViewers(ctx context.Context, sessionID string) ([]*entity.Viewer, error)
}
