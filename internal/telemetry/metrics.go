package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/cartographer/internal/httpserver"
)

var SnapshotsPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cartographer",
		Subsystem: "snapshot",
		Name:      "published_total",
		Help:      "Total number of topology snapshots published, by network.",
	},
	[]string{"network_id"},
)

var SnapshotPublishDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "cartographer",
		Subsystem: "snapshot",
		Name:      "publish_duration_seconds",
		Help:      "Time to assemble and publish one snapshot.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"network_id"},
)

var SnapshotCycleSkippedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cartographer",
		Subsystem: "snapshot",
		Name:      "cycle_skipped_total",
		Help:      "Total number of publish cycles skipped due to re-entrancy guard.",
	},
)

var NotificationsSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cartographer",
		Subsystem: "notification",
		Name:      "sent_total",
		Help:      "Total number of notification dispatch attempts by channel and outcome.",
	},
	[]string{"channel", "outcome"},
)

var NotificationsDeniedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cartographer",
		Subsystem: "notification",
		Name:      "denied_total",
		Help:      "Total number of notification decisions denied, by reason.",
	},
	[]string{"reason"},
)

var RateLimitRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cartographer",
		Subsystem: "ratelimit",
		Name:      "rejected_total",
		Help:      "Total number of requests rejected by the quota engine, by endpoint.",
	},
	[]string{"endpoint"},
)

var ProxyRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "cartographer",
		Subsystem: "proxy",
		Name:      "request_duration_seconds",
		Help:      "Proxy edge forwarding duration by downstream and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"downstream", "status"},
)

var PubSubConnectedClients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "cartographer",
		Subsystem: "pubsubgw",
		Name:      "connected_clients",
		Help:      "Current number of connected WebSocket clients.",
	},
)

var ScheduledBroadcastsSentTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cartographer",
		Subsystem: "notification",
		Name:      "scheduled_broadcasts_sent_total",
		Help:      "Total number of scheduled broadcasts transitioned to sent.",
	},
)

// All returns all cartographer-specific metrics for registry registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		SnapshotsPublishedTotal,
		SnapshotPublishDuration,
		SnapshotCycleSkippedTotal,
		NotificationsSentTotal,
		NotificationsDeniedTotal,
		RateLimitRejectedTotal,
		ProxyRequestDuration,
		PubSubConnectedClients,
		ScheduledBroadcastsSentTotal,
		httpserver.RequestDuration,
	}
}
