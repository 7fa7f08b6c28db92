package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/hrportal/pkg/zlog"
	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/metrics"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
)

// Dispatcher 组装 presence_change 事件，逐个投递给订阅者并向全局频道投递一次
type Dispatcher struct {
	subs          *SubscriptionIndex
	broadcaster   out.Broadcaster
	globalChannel uint64
	now           func() time.Time
}

// NewDispatcher 创建事件分发器
func NewDispatcher(subs *SubscriptionIndex, broadcaster out.Broadcaster, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		subs:          subs,
		broadcaster:   broadcaster,
		globalChannel: entity.GlobalPresenceChannel,
		now:           now,
	}
}

// Dispatch 投递失败只记录日志，不影响在线状态
func (d *Dispatcher) Dispatch(ctx context.Context, rec entity.PresenceRecord, status entity.PresenceStatus) {
	if d.broadcaster == nil {
		return
	}

	event := entity.NewEvent(entity.EventPresenceChange, entity.PresenceChange{
		UserID:    rec.UserID,
		Status:    status,
		LastSeen:  rec.LastSeen,
		UserType:  rec.UserType,
		Timestamp: d.now().UnixMilli(),
	})
	metrics.PresenceBroadcasts.WithLabelValues(string(status)).Inc()

	for _, subscriberID := range d.subs.Subscribers(rec.UserID) {
		if err := d.broadcaster.SendToUser(ctx, subscriberID, event); err != nil {
			zlog.C(ctx).Warn("presence delivery failed",
				zap.Uint64("userID", rec.UserID),
				zap.Uint64("subscriberID", subscriberID),
				zap.Error(err))
		}
	}

	if err := d.broadcaster.BroadcastToChannel(ctx, d.globalChannel, event); err != nil {
		zlog.C(ctx).Warn("presence global broadcast failed",
			zap.Uint64("userID", rec.UserID),
			zap.Error(err))
	}
}
