package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Filter decision counters, registered on the default registry so the
// application can expose them alongside its own metrics.
var (
	pairingRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostlink_pairing_rejects_total",
		Help: "Requests rejected by the pairing-token filter.",
	})

	identityRejects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostlink_identity_rejects_total",
		Help: "Requests rejected by the forwarded-identity filter.",
	})

	forwardedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hostlink_forwarded_requests_total",
		Help: "Requests processed by the forwarded-headers filter.",
	})
)
