package room

import "github.com/prometheus/client_golang/prometheus"

var (
	liveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "room",
		Name:      "live",
		Help:      "Number of rooms currently held in the registry.",
	})

	roomSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "room",
		Name:      "sessions",
		Help:      "Registered sessions per document.",
	}, []string{"document"})
)

func init() {
	prometheus.MustRegister(liveRooms, roomSessions)
}
