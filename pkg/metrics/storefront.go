package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Checkout outcomes.
const (
	CheckoutCreated           = "created"
	CheckoutInsufficientStock = "insufficient_stock"
	CheckoutRejected          = "rejected"
	CheckoutGatewayFailed     = "gateway_failed"
	CheckoutFailed            = "failed"
)

// Reconciliation results.
const (
	ReconcileApplied   = "applied"
	ReconcileDuplicate = "duplicate"
	ReconcileMismatch  = "mismatch"
	ReconcilePending   = "pending"
	ReconcileNoop      = "noop"
	ReconcileRejected  = "rejected"
)

// CheckoutMetrics counts checkout attempts and times gateway session creation.
type CheckoutMetrics struct {
	attempts *prometheus.CounterVec
	session  *prometheus.HistogramVec
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_attempts_total",
		Help:      "Checkout attempts by outcome.",
	}, []string{"outcome"})
	session := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "payment_session_duration_seconds",
		Help:      "Duration of hosted checkout session creation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})
	reg.MustRegister(attempts, session)
	return &CheckoutMetrics{attempts: attempts, session: session}
}

func (m *CheckoutMetrics) IncOutcome(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *CheckoutMetrics) ObserveSession(provider string, d time.Duration) {
	if m == nil || m.session == nil {
		return
	}
	m.session.WithLabelValues(normalizeLabel(provider)).Observe(d.Seconds())
}

// ReconciliationMetrics counts processed gateway notifications and polls.
type ReconciliationMetrics struct {
	events *prometheus.CounterVec
}

func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_reconciliation_total",
		Help:      "Payment notifications and verification polls by provider and result.",
	}, []string{"provider", "result"})
	reg.MustRegister(events)
	return &ReconciliationMetrics{events: events}
}

func (m *ReconciliationMetrics) Inc(provider, result string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}
