package zlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
)

// collab_log_entries_total{service,level}，告警规则按 error 级别的增速触发
var logEntries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "log",
		Name:      "entries_total",
		Help:      "Log entries written by the collaboration service, by level.",
	},
	[]string{"service", "level"},
)

// RegisterMetrics 注册日志计数器，和服务其他指标放在同一个 registry
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(logEntries)
}

type countingCore struct {
	zapcore.Core
	entries *prometheus.CounterVec
	service string
}

func (c countingCore) With(fields []zapcore.Field) zapcore.Core {
	return countingCore{Core: c.Core.With(fields), entries: c.entries, service: c.service}
}

// Check 被级别过滤掉的日志不计数
func (c countingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}
	c.entries.WithLabelValues(c.service, ent.Level.String()).Inc()
	return c.Core.Check(ent, ce)
}

func wrapWithMetric(core zapcore.Core, cfg Config) zapcore.Core {
	if !cfg.EnableMetric {
		return core
	}
	return countingCore{Core: core, entries: logEntries, service: cfg.Service}
}
