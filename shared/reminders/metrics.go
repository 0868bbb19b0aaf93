package reminders

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for staff notices. A nil *Metrics records nothing.
type Metrics struct {
	// NoticesTotal counts notices by outcome (sent, dropped, failed).
	NoticesTotal *prometheus.CounterVec

	// PendingNotices is the number of sessions found in the last check.
	PendingNotices prometheus.Gauge

	// SendDuration is the time to deliver one notice.
	SendDuration prometheus.Histogram

	// Retries is the total number of retry attempts.
	Retries prometheus.Counter

	// RateLimitWaits is the total number of rate limit waits.
	RateLimitWaits prometheus.Counter
}

// NewMetrics creates the notice metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		NoticesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_notices_total",
				Help:      "Total number of session-ending notices by outcome",
			},
			[]string{"outcome"},
		),

		PendingNotices: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_notices_pending",
				Help:      "Sessions awaiting a notice in the last check",
			},
		),

		SendDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_notice_send_duration_seconds",
				Help:      "Time to send a notice",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5},
			},
		),

		Retries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_notice_retries_total",
				Help:      "Total number of retry attempts",
			},
		),

		RateLimitWaits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_notice_rate_limit_waits_total",
				Help:      "Total number of rate limit waits",
			},
		),
	}
}

func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.NoticesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingNotices.Set(float64(n))
}

func (m *Metrics) ObserveSendDuration(seconds float64) {
	if m == nil {
		return
	}
	m.SendDuration.Observe(seconds)
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) IncRateLimitWaits() {
	if m == nil {
		return
	}
	m.RateLimitWaits.Inc()
}
