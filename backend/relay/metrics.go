package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveryCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "deliveries",
		Subsystem: "relay",
		Help:      "Counter of message:new events handed to sessions, by outcome.",
	}, []string{"outcome"})

	publishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "publish_errors",
		Subsystem: "relay",
		Help:      "Counter of stored messages that could not be published to the bus.",
	})

	sessionsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "joined_sessions",
		Subsystem: "relay",
		Help:      "Number of sessions joined to a channel on this node.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(deliveryCounter)
	prometheus.MustRegister(publishErrors)
	prometheus.MustRegister(sessionsGauge)
}
