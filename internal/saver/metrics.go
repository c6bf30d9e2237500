package saver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	saveLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "saver",
		Name:      "persist_seconds",
		Help:      "Latency of debounced document persistence.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"outcome"})

	pendingSaves = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "saver",
		Name:      "pending_timers",
		Help:      "Documents with an armed debounce timer.",
	})
)

func init() {
	prometheus.MustRegister(saveLatency, pendingSaves)
}

func observeSave(start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	saveLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
