package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type mirrorWrite func(ctx context.Context) error

// mirrorQueue 单协程按入队顺序写 Redis 镜像
// 同一用户未写出的旧状态会被新状态覆盖，队列长度不超过用户数，入队不会阻塞
type mirrorQueue struct {
	timeout time.Duration

	mu      sync.Mutex
	pending map[uint64]mirrorWrite
	order   []uint64
	closed  bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newMirrorQueue(timeout time.Duration) *mirrorQueue {
	q := &mirrorQueue{
		timeout: timeout,
		pending: make(map[uint64]mirrorWrite),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// enqueue 调用方需持有 Service.mu，保证入队顺序与状态变化顺序一致
func (q *mirrorQueue) enqueue(userID uint64, write mirrorWrite) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if _, ok := q.pending[userID]; !ok {
		q.order = append(q.order, userID)
	}
	q.pending[userID] = write
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close 写完已入队的状态后退出
func (q *mirrorQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
}

func (q *mirrorQueue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.wake:
			q.drain()
		case <-q.done:
			q.drain()
			return
		}
	}
}

func (q *mirrorQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.order) == 0 {
			q.mu.Unlock()
			return
		}
		userID := q.order[0]
		q.order = q.order[1:]
		write := q.pending[userID]
		delete(q.pending, userID)
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := write(ctx); err != nil {
			zap.L().Warn("presence mirror write failed", zap.Uint64("userID", userID), zap.Error(err))
		}
		cancel()
	}
}
