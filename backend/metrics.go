package backend

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "requests",
		Subsystem: "http",
		Help:      "Counter of HTTP requests by status code and method.",
	}, []string{"code", "method"})

	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "sent",
		Subsystem: "messages",
		Help:      "Counter of messages stored.",
	})

	authFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "failures",
		Subsystem: "auth",
		Help:      "Counter of rejected credentials by where they were presented.",
	}, []string{"via"})

	rateLimitedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "rate_limited",
		Subsystem: "auth",
		Help:      "Counter of authentication requests refused by the rate limiter.",
	})

	kdfBusy = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "busy",
		Subsystem: "kdf",
		Help:      "Counter of requests shed because no key derivation slot was free.",
	})

	kdfInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "in_flight",
		Subsystem: "kdf",
		Help:      "Number of password derivations running.",
	})

	connectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "connected",
		Subsystem: "sessions",
		Help:      "Number of open websocket connections.",
	})
)

func init() {
	prometheus.MustRegister(httpRequests)
	prometheus.MustRegister(messagesSent)
	prometheus.MustRegister(authFailures)
	prometheus.MustRegister(rateLimitedCounter)
	prometheus.MustRegister(kdfBusy)
	prometheus.MustRegister(kdfInFlight)
	prometheus.MustRegister(connectedSessions)
}
