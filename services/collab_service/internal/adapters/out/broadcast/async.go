package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/hrportal/services/collab_service/internal/domain/entity"
	"github.com/EthanQC/hrportal/services/collab_service/internal/metrics"
	"github.com/EthanQC/hrportal/services/collab_service/internal/ports/out"
)

var (
	ErrQueueFull = errors.New("broadcast queue full")
	ErrStopped   = errors.New("broadcaster not running")
)

// AsyncConfig 异步投递配置
type AsyncConfig struct {
	Shards         int
	QueueSize      int
	DeliverTimeout time.Duration
}

// DefaultAsyncConfig 默认配置
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		Shards:         8,
		QueueSize:      1024,
		DeliverTimeout: 5 * time.Second,
	}
}

type job struct {
	target entity.Target
	event  *entity.Event
}

// Async 按目标分片的异步投递，调用方只负责入队
// 同一目标总落在同一分片，保持先进先出；队列满时丢弃而不是阻塞
type Async struct {
	config  AsyncConfig
	next    out.Broadcaster
	ring    *shardRing
	queues  []chan job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewAsync 包装下游投递
func NewAsync(next out.Broadcaster, config AsyncConfig) *Async {
	def := DefaultAsyncConfig()
	if config.Shards <= 0 {
		config.Shards = def.Shards
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.DeliverTimeout <= 0 {
		config.DeliverTimeout = def.DeliverTimeout
	}
	return &Async{
		config: config,
		next:   next,
		ring:   newShardRing(config.Shards, 0),
	}
}

var _ out.Broadcaster = (*Async)(nil)

// Start 启动分片 worker
func (a *Async) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return
	}

	a.queues = make([]chan job, a.config.Shards)
	for i := range a.queues {
		a.queues[i] = make(chan job, a.config.QueueSize)
		a.wg.Add(1)
		go a.worker(a.queues[i])
	}
	a.running = true
	zap.L().Info("Async broadcaster started", zap.Int("shards", a.config.Shards))
}

// Stop 停止入队并投递完已排队的事件
func (a *Async) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	for _, q := range a.queues {
		close(q)
	}
	a.mu.Unlock()

	a.wg.Wait()
	zap.L().Info("Async broadcaster stopped")
}

func (a *Async) BroadcastToChannel(ctx context.Context, channelID uint64, event *entity.Event) error {
	return a.enqueue(entity.Target{Kind: entity.TargetChannel, ID: channelID}, event)
}

func (a *Async) BroadcastToRoom(ctx context.Context, roomID uint64, event *entity.Event) error {
	return a.enqueue(entity.Target{Kind: entity.TargetRoom, ID: roomID}, event)
}

func (a *Async) SendToUser(ctx context.Context, userID uint64, event *entity.Event) error {
	return a.enqueue(entity.Target{Kind: entity.TargetUser, ID: userID}, event)
}

func (a *Async) enqueue(target entity.Target, event *entity.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		metrics.BroadcastDropped.WithLabelValues("stopped").Inc()
		return ErrStopped
	}

	select {
	case a.queues[a.ring.Shard(target.Key())] <- job{target: target, event: event}:
		return nil
	default:
		metrics.BroadcastDropped.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

func (a *Async) worker(queue <-chan job) {
	defer a.wg.Done()

	for j := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.DeliverTimeout)
		if err := out.BroadcastTo(ctx, a.next, j.target, j.event); err != nil {
			zap.L().Warn("Async delivery failed",
				zap.String("event", string(j.event.Type)),
				zap.Stringer("target", j.target),
				zap.Error(err))
		}
		cancel()
	}
}
