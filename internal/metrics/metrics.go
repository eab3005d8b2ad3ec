package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for allocation and notification flows.
// All methods are safe on a nil receiver.
type BookingMetrics struct {
	allocations      *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "allocations_total",
			Help:      "Slot allocation attempts by outcome",
		}, []string{"outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "patient_resolutions_total",
			Help:      "Patient identity resolutions by result",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Name:      "notifications_total",
			Help:      "Notification task transitions",
		}, []string{"channel", "kind", "status"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Name:      "dispatch_duration_seconds",
			Help:      "Latency of channel send calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.allocations, m.resolutions, m.notifications, m.dispatchDuration)
	return m
}

func (m *BookingMetrics) ObserveAllocation(outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveResolution(isNew bool) {
	if m == nil {
		return
	}
	result := "returning"
	if isNew {
		result = "new"
	}
	m.resolutions.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveNotification(channel, kind, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, kind, status).Inc()
}

func (m *BookingMetrics) ObserveDispatch(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(channel).Observe(seconds)
}
