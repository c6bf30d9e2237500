package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	upgradeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "upgrade_seconds",
		Help:      "Latency spent upgrading HTTP connections to WebSockets.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	activeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "connections",
		Help:      "Active WebSocket connections.",
	})
)

func init() {
	prometheus.MustRegister(upgradeLatency, activeConnections)
}

var tracer = otel.Tracer("github.com/example/doc-collab-engine/ws")
