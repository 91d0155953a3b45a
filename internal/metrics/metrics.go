package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduling_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	slotTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_slot_transitions_total",
			Help: "Slot state transitions by action and outcome",
		},
		[]string{"action", "result"},
	)

	bookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_bookings_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"result"},
	)

	slotsGeneratedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduling_slots_generated_total",
			Help: "Slots materialized from programs",
		},
	)

	programTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduling_program_transitions_total",
			Help: "Program status changes",
		},
		[]string{"from", "to"},
	)
)

var registerOnce sync.Once

// Register adds every collector to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			slotTransitionsTotal,
			bookingsTotal,
			slotsGeneratedTotal,
			programTransitionsTotal,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordSlotTransition(action, result string) {
	slotTransitionsTotal.WithLabelValues(action, result).Inc()
}

func RecordBooking(result string) {
	bookingsTotal.WithLabelValues(result).Inc()
}

func RecordSlotsGenerated(n int) {
	slotsGeneratedTotal.Add(float64(n))
}

func RecordProgramTransition(from, to string) {
	programTransitionsTotal.WithLabelValues(from, to).Inc()
}
