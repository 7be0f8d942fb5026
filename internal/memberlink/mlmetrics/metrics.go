package mlmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts payment webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberlink",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total payment webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks payment webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "memberlink",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Payment webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// LinkOutcomes counts account link callbacks by outcome state.
	LinkOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberlink",
		Subsystem: "link",
		Name:      "outcomes_total",
		Help:      "Account link callbacks by outcome.",
	}, []string{"outcome"})

	// RoleSyncTotal counts role grants and revocations by result.
	RoleSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberlink",
		Subsystem: "role",
		Name:      "sync_total",
		Help:      "Member role grants and revocations by action and result.",
	}, []string{"action", "result"})

	// EmailSendsTotal counts transactional emails by kind and result.
	EmailSendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberlink",
		Subsystem: "email",
		Name:      "sends_total",
		Help:      "Transactional emails by kind and result.",
	}, []string{"kind", "result"})

	// ContactUpsertsTotal counts marketing list opt-ins by result.
	ContactUpsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memberlink",
		Subsystem: "contacts",
		Name:      "upserts_total",
		Help:      "Marketing list opt-ins by result.",
	}, []string{"result"})
)

// Result maps an error to a metric label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
