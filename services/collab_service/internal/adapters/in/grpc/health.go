package grpc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName gRPC 健康检查中的服务名
const ServiceName = "hr.collab.v1.CollabService"

// Probe 依赖探活，返回 nil 表示可用
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthConfig 探活配置
type HealthConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{Interval: 10 * time.Second, Timeout: 2 * time.Second}
}

// HealthReporter 定期探测 MySQL / Redis 等依赖，结果同时用于 gRPC 健康检查和 /health
type HealthReporter struct {
	config HealthConfig
	probes []Probe
	server *health.Server

	mu       sync.RWMutex
	failures map[string]string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHealthReporter(config HealthConfig, probes ...Probe) *HealthReporter {
	if config.Interval <= 0 {
		config.Interval = DefaultHealthConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultHealthConfig().Timeout
	}
	r := &HealthReporter{
		config:   config,
		probes:   probes,
		server:   health.NewServer(),
		failures: make(map[string]string),
	}
	// 第一轮探测前视为不可用
	r.setServing(false)
	return r
}

// Register 注册到 gRPC 服务器
func (r *HealthReporter) Register(s *gogrpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, r.server)
}

// Start 立即探测一次，之后按间隔探测
func (r *HealthReporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.RunOnce(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// Stop 停止探测并把状态置为 NOT_SERVING，负载均衡会先摘掉本节点
func (r *HealthReporter) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.server.Shutdown()
}

// RunOnce 执行一轮探测
func (r *HealthReporter) RunOnce(ctx context.Context) {
	failures := make(map[string]string)
	for _, p := range r.probes {
		probeCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		err := p.Check(probeCtx)
		cancel()
		if err != nil {
			failures[p.Name] = err.Error()
			zap.L().Warn("health probe failed", zap.String("probe", p.Name), zap.Error(err))
		}
	}

	r.mu.Lock()
	r.failures = failures
	r.mu.Unlock()
	r.setServing(len(failures) == 0)
}

// Status 最近一轮探测结果，失败的依赖 -> 错误信息
func (r *HealthReporter) Status() (bool, map[string]string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	failures := make(map[string]string, len(r.failures))
	for k, v := range r.failures {
		failures[k] = v
	}
	return len(failures) == 0, failures
}

func (r *HealthReporter) setServing(ok bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ok {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(ServiceName, status)
}
