package relay

import "github.com/prometheus/client_golang/prometheus"

var (
	// relayMessages counts inbound deliveries by tag and outcome.
	relayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genji_relay_messages_total",
			Help: "Inbound relay messages by tag and outcome.",
		},
		[]string{"tag", "outcome"},
	)

	// relayPublished counts outbound messages by tag.
	relayPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genji_relay_published_total",
			Help: "Outbound relay messages by tag.",
		},
		[]string{"tag"},
	)
)

func init() {
	prometheus.MustRegister(relayMessages, relayPublished)
}
