package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBookingMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveAllocation("booked")
	m.ObserveAllocation("booked")
	m.ObserveAllocation("no_availability")
	m.ObserveNotification("email", "confirmation", "sent")
	m.ObserveResolution(true)
	m.ObserveDispatch("sms", 0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.allocations.WithLabelValues("booked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocations.WithLabelValues("no_availability")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("email", "confirmation", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("new")))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *BookingMetrics
	assert.NotPanics(t, func() {
		m.ObserveAllocation("booked")
		m.ObserveResolution(false)
		m.ObserveNotification("sms", "reminder", "failed")
		m.ObserveDispatch("email", 1)
	})
}
