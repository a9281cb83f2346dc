// Package observability holds the Prometheus collectors for the settlement
// engine. Exposed on /metrics by the API server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SettlementsTotal counts fresh settlements by outcome and actor.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_settlements_total",
		Help: "Orders settled, labeled by outcome and authorizing actor",
	}, []string{"outcome", "actor"})

	// DuplicateSettlements counts settlement attempts that hit the
	// idempotent already-settled branch.
	DuplicateSettlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topup_duplicate_settlements_total",
		Help: "Settlement attempts resolved as already settled",
	})

	// BadSignatures counts gateway notifications that failed HMAC
	// verification and were dropped without touching state.
	BadSignatures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topup_bad_signatures_total",
		Help: "Gateway notifications rejected for invalid signatures",
	})

	// NotificationsTotal counts processed gateway notifications by
	// disposition.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_gateway_notifications_total",
		Help: "Gateway notifications handled, labeled by disposition",
	}, []string{"disposition"})

	// WebhookDuration is the gateway webhook handling latency.
	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "topup_webhook_duration_seconds",
		Help:    "Latency distribution of gateway webhook handling",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})

	// NoticesDropped counts settlement notices dropped because the
	// delivery queue was full.
	NoticesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "topup_notices_dropped_total",
		Help: "Settlement notices dropped due to a full delivery queue",
	})
)
