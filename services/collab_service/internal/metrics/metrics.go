package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab",
		Subsystem: "presence",
		Name:      "online_users",
		Help:      "Users with at least one open connection on this node.",
	})

	PresenceBroadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "presence",
		Name:      "broadcasts_total",
		Help:      "Presence change events dispatched, by status.",
	}, []string{"status"})

	ActiveScreenShares = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "collab",
		Subsystem: "screen_share",
		Name:      "active_sessions",
		Help:      "Screen share sessions tracked in memory.",
	})

	ScreenShareReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "screen_share",
		Name:      "reaped_total",
		Help:      "Stale screen share sessions force-ended by the reaper.",
	})

	BroadcastDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "broadcast",
		Name:      "dropped_total",
		Help:      "Events dropped before delivery, by reason.",
	}, []string{"reason"})

	BroadcastFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Subsystem: "broadcast",
		Name:      "failed_total",
		Help:      "Delivery failures, by sink.",
	}, []string{"sink"})
)

// Register 注册全部采集器
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		OnlineUsers,
		PresenceBroadcasts,
		ActiveScreenShares,
		ScreenShareReaped,
		BroadcastDropped,
		BroadcastFailed,
	)
}
