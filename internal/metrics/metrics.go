package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stationbook"

var (
	once sync.Once

	reservationCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_created_total",
			Help:      "Count of reservations created by initial status.",
		},
		[]string{"status"},
	)

	reservationTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transition_total",
			Help:      "Count of reservation status transitions.",
		},
		[]string{"from", "to"},
	)

	operationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Count of failed engine operations by error kind.",
		},
		[]string{"operation", "kind"},
	)

	slotCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_cache_total",
			Help:      "Slot availability cache lookups by result.",
		},
		[]string{"result"},
	)

	reconcileRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Count of reconciliation passes.",
		},
	)

	reconcileActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_actions_total",
			Help:      "Reconciliation outcomes by kind.",
		},
		[]string{"action"},
	)

	reconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent in one reconciliation pass.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5},
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservationCreated,
			reservationTransition,
			operationErrors,
			slotCache,
			reconcileRuns,
			reconcileActions,
			reconcileDuration,
			httpRequests,
		)
	})
}

func IncReservationCreated(status string) {
	reservationCreated.WithLabelValues(status).Inc()
}

func IncTransition(from, to string) {
	reservationTransition.WithLabelValues(from, to).Inc()
}

func IncOperationError(operation, kind string) {
	operationErrors.WithLabelValues(operation, kind).Inc()
}

func IncSlotCache(hit bool) {
	if hit {
		slotCache.WithLabelValues("hit").Inc()
		return
	}
	slotCache.WithLabelValues("miss").Inc()
}

func ObserveReconcile(seconds float64) {
	reconcileRuns.Inc()
	reconcileDuration.Observe(seconds)
}

func AddReconcileAction(action string, n int) {
	if n > 0 {
		reconcileActions.WithLabelValues(action).Add(float64(n))
	}
}

func IncHTTPRequest(route string, code int) {
	httpRequests.WithLabelValues(route, httpCode(code)).Inc()
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
