package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/hrportal/pkg/zlog"
	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/metrics"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/in"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
)

const (
	// DefaultCleanupAge 离线超过该时长的记录会被清理
	DefaultCleanupAge = 24 * time.Hour
	mirrorTimeout     = 2 * time.Second
)

// Service 在线状态用例实现
type Service struct {
	registry    *Registry
	subs        *SubscriptionIndex
	dispatcher  *Dispatcher
	mirror      out.PresenceMirror
	mirrorQueue *mirrorQueue
	now         func() time.Time

	// 串行化“修改状态 + 入队广播”，保证同一用户的事件顺序与状态变化一致
	mu sync.Mutex
}

// Option 可选配置
type Option func(*Service)

// WithMirror 启用 Redis 镜像
func WithMirror(mirror out.PresenceMirror) Option {
	return func(s *Service) { s.mirror = mirror }
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService 创建在线状态用例
func NewService(broadcaster out.Broadcaster, opts ...Option) *Service {
	s := &Service{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = NewRegistry(s.now)
	s.subs = NewSubscriptionIndex()
	s.dispatcher = NewDispatcher(s.subs, broadcaster, s.now)
	if s.mirror != nil {
		s.mirrorQueue = newMirrorQueue(mirrorTimeout)
	}
	return s
}

var _ in.PresenceUseCase = (*Service)(nil)

// SetOnline 上线，同一用户多条连接也每次广播 online
func (s *Service) SetOnline(ctx context.Context, userID uint64, userType string) entity.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.registry.Connect(userID, userType)
	s.dispatcher.Dispatch(ctx, rec, entity.PresenceStatusOnline)
	s.afterChange(userID, func(ctx context.Context) error { return s.mirror.Save(ctx, rec) })
	return rec
}

// SetOffline 下线，仍有其他连接时只刷新最后活跃时间
func (s *Service) SetOffline(ctx context.Context, userID uint64) *entity.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, tracked := s.registry.Disconnect(userID)
	if !tracked {
		return nil
	}
	if rec.ConnectionCount > 0 {
		s.afterChange(userID, func(ctx context.Context) error { return s.mirror.Save(ctx, rec) })
		return &rec
	}
	s.dispatcher.Dispatch(ctx, rec, entity.PresenceStatusOffline)
	s.afterChange(userID, func(ctx context.Context) error { return s.mirror.MarkOffline(ctx, rec) })
	return &rec
}

// UpdateActivity 心跳
func (s *Service) UpdateActivity(ctx context.Context, userID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.registry.Touch(userID) {
		return
	}
	rec, _ := s.registry.Get(userID)
	if rec.IsOnline() {
		s.afterChange(userID, func(ctx context.Context) error { return s.mirror.Save(ctx, rec) })
	}
}

// GetStatus 查询状态
func (s *Service) GetStatus(userID uint64) entity.PresenceStatus {
	rec, _ := s.registry.Get(userID)
	return rec.Status
}

// GetPresenceInfo 查询完整记录
func (s *Service) GetPresenceInfo(userID uint64) entity.PresenceRecord {
	rec, _ := s.registry.Get(userID)
	return rec
}

// IsOnline 是否在线
func (s *Service) IsOnline(userID uint64) bool {
	return s.GetStatus(userID) == entity.PresenceStatusOnline
}

// GetOnlineUsers 所有在线用户
func (s *Service) GetOnlineUsers() []entity.PresenceRecord {
	return s.registry.Online("")
}

// GetOnlineUsersByType 按类型筛选在线用户
func (s *Service) GetOnlineUsersByType(userType string) []entity.PresenceRecord {
	if userType == "" {
		return []entity.PresenceRecord{}
	}
	return s.registry.Online(userType)
}

// GetBulkStatus 批量查询，未知用户返回离线记录
func (s *Service) GetBulkStatus(userIDs []uint64) map[uint64]entity.PresenceRecord {
	result := make(map[uint64]entity.PresenceRecord, len(userIDs))
	for _, userID := range userIDs {
		rec, _ := s.registry.Get(userID)
		result[userID] = rec
	}
	return result
}

// SubscribeToUser 订阅
func (s *Service) SubscribeToUser(targetUserID, subscriberID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs.Subscribe(targetUserID, subscriberID)
}

// UnsubscribeFromUser 取消订阅
func (s *Service) UnsubscribeFromUser(targetUserID, subscriberID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs.Unsubscribe(targetUserID, subscriberID)
}

// UnsubscribeAll 取消全部订阅
func (s *Service) UnsubscribeAll(subscriberID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs.RemoveSubscriber(subscriberID)
}

// BroadcastPresence 主动广播某用户状态
func (s *Service) BroadcastPresence(ctx context.Context, userID uint64, status entity.PresenceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _ := s.registry.Get(userID)
	s.dispatcher.Dispatch(ctx, rec, status)
}

// Cleanup 清理长时间离线的用户及其订阅关系
// 持锁完成，避免刚被清理的用户重新上线后订阅又被删掉
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultCleanupAge
	}

	s.mu.Lock()
	removed := s.registry.Sweep(s.now().Add(-maxAge))
	for _, userID := range removed {
		s.subs.RemoveTarget(userID)
		s.subs.RemoveSubscriber(userID)

		id := userID
		s.afterChange(id, func(ctx context.Context) error { return s.mirror.Remove(ctx, id) })
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		zlog.C(ctx).Info("presence cleanup", zap.Int("removed", len(removed)), zap.Duration("maxAge", maxAge))
	}
	return len(removed)
}

// Close 写完排队中的镜像状态，进程退出前调用
func (s *Service) Close() {
	if s.mirrorQueue != nil {
		s.mirrorQueue.close()
	}
}

// afterChange 更新在线人数并把镜像写入排队，需持有 s.mu
func (s *Service) afterChange(userID uint64, write mirrorWrite) {
	metrics.OnlineUsers.Set(float64(s.registry.OnlineCount()))
	if s.mirrorQueue == nil {
		return
	}
	s.mirrorQueue.enqueue(userID, write)
}
