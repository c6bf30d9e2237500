package collab

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Name:      "messages_total",
		Help:      "Inbound collaboration frames by type tag.",
	}, []string{"type"})

	joinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collab",
		Name:      "joins_total",
		Help:      "Join attempts by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(messagesTotal, joinsTotal)
}
