package out

import (
	"context"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
)

// Broadcaster 事件投递接口，实现必须可以被并发调用
type Broadcaster interface {
	// BroadcastToChannel 投递给频道内所有连接
	BroadcastToChannel(ctx context.Context, channelID uint64, event *entity.Event) error
	// BroadcastToRoom 投递给房间内所有连接
	BroadcastToRoom(ctx context.Context, roomID uint64, event *entity.Event) error
	// SendToUser 投递给某个用户的所有设备
	SendToUser(ctx context.Context, userID uint64, event *entity.Event) error
}

// BroadcastTo 按目标类型分发
func BroadcastTo(ctx context.Context, b Broadcaster, target entity.Target, event *entity.Event) error {
	switch target.Kind {
	case entity.TargetRoom:
		return b.BroadcastToRoom(ctx, target.ID, event)
	case entity.TargetUser:
		return b.SendToUser(ctx, target.ID, event)
	default:
		return b.BroadcastToChannel(ctx, target.ID, event)
	}
}
