package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	queryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "store",
		Name:      "query_seconds",
		Help:      "Latency of document store queries.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"query", "outcome"})

	storeTracer = otel.Tracer("github.com/example/doc-collab-engine/store")
)

func init() {
	prometheus.MustRegister(queryLatency)
}

func observeQuery(name string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	queryLatency.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())
}
