package in

import (
	"context"
	"time"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

// PresenceUseCase 在线状态用例接口
type PresenceUseCase interface {
	// SetOnline 新连接建立，总会广播 online
	SetOnline(ctx context.Context, userID uint64, userType string) entity.PresenceRecord
	// SetOffline 连接断开，最后一条连接断开时广播 offline；未跟踪用户返回 nil
	SetOffline(ctx context.Context, userID uint64) *entity.PresenceRecord
	// UpdateActivity 刷新最后活跃时间
	UpdateActivity(ctx context.Context, userID uint64)

	// GetStatus 未知用户视为离线
	GetStatus(userID uint64) entity.PresenceStatus
	// GetPresenceInfo 未知用户返回零值记录
	GetPresenceInfo(userID uint64) entity.PresenceRecord
	// IsOnline 是否在线
	IsOnline(userID uint64) bool
	// GetOnlineUsers 所有在线用户
	GetOnlineUsers() []entity.PresenceRecord
	// GetOnlineUsersByType 按用户类型筛选在线用户
	GetOnlineUsersByType(userType string) []entity.PresenceRecord
	// GetBulkStatus 批量查询
	GetBulkStatus(userIDs []uint64) map[uint64]entity.PresenceRecord

	// SubscribeToUser 订阅目标用户的状态变化
	SubscribeToUser(targetUserID, subscriberID uint64)
	// UnsubscribeFromUser 取消订阅
	UnsubscribeFromUser(targetUserID, subscriberID uint64)
	// UnsubscribeAll 订阅者断开时取消其全部订阅
	UnsubscribeAll(subscriberID uint64)

	// BroadcastPresence 广播状态变化，投递失败只记录日志
	BroadcastPresence(ctx context.Context, userID uint64, status entity.PresenceStatus)
	// Cleanup 清理长时间离线的记录，返回清理数量
	Cleanup(ctx context.Context, maxAge time.Duration) int
}
