package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(reservationCreated.WithLabelValues("booked"))
	IncReservationCreated("booked")
	assert.Equal(t, before+1, testutil.ToFloat64(reservationCreated.WithLabelValues("booked")))

	hits := testutil.ToFloat64(slotCache.WithLabelValues("hit"))
	IncSlotCache(true)
	IncSlotCache(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(slotCache.WithLabelValues("hit")))

	completed := testutil.ToFloat64(reconcileActions.WithLabelValues("completed"))
	AddReconcileAction("completed", 0)
	AddReconcileAction("completed", 2)
	assert.Equal(t, completed+2, testutil.ToFloat64(reconcileActions.WithLabelValues("completed")))
}

func TestHTTPCode(t *testing.T) {
	assert.Equal(t, "2xx", httpCode(201))
	assert.Equal(t, "4xx", httpCode(409))
	assert.Equal(t, "5xx", httpCode(503))
}
