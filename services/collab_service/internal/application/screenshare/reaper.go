package screenshare

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EthanQC/hrportal/pkg/zlog"
)

// Sweep 一轮回收任务
type Sweep func(ctx context.Context)

// ReaperConfig 回收配置
type ReaperConfig struct {
	Interval time.Duration
	// 单轮回收的超时
	Timeout time.Duration
}

// DefaultReaperConfig 默认每小时一轮
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval: time.Hour,
		Timeout:  time.Minute,
	}
}

// Reaper 后台定时回收遗留会话和过期在线记录
type Reaper struct {
	config  ReaperConfig
	sweeps  []Sweep
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewReaper 创建回收器
func NewReaper(config ReaperConfig, sweeps ...Sweep) *Reaper {
	if config.Interval <= 0 {
		config.Interval = DefaultReaperConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultReaperConfig().Timeout
	}
	return &Reaper{config: config, sweeps: sweeps}
}

// Start 启动回收循环
func (r *Reaper) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reaper already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop()

	zap.L().Info("Stale session reaper started", zap.Duration("interval", r.config.Interval))
	return nil
}

// Stop 停止并等待当前一轮结束
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	zap.L().Info("Stale session reaper stopped")
}

func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(r.ctx)
		}
	}
}

// RunOnce 顺序执行所有回收任务
func (r *Reaper) RunOnce(ctx context.Context) {
	for i, sweep := range r.sweeps {
		if ctx.Err() != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		sweep(zlog.WithFields(sctx, zap.String("job", "reaper"), zap.Int("sweep", i)))
		cancel()
	}
}
