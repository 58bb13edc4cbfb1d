package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "checkout"

// Metrics holds the Prometheus collectors of the checkout engine. A nil
// *Metrics is valid and records nothing, so services and tests can skip it.
type Metrics struct {
	reservationsCreated   prometheus.Counter
	reservationsReleased  *prometheus.CounterVec
	reservationsConverted prometheus.Counter
	stockDeducted         prometheus.Counter
	ordersCreated         *prometheus.CounterVec
	checkoutFailures      *prometheus.CounterVec
	operationDuration     *prometheus.HistogramVec

	cleanupReleased prometheus.Counter
	cleanupFailures prometheus.Counter

	outboxPublished prometheus.Counter
	outboxFailures  prometheus.Counter

	cacheLookups *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		reservationsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "created_total",
			Help:      "Stock reservations created",
		}),
		// Labels: status (EXPIRED, CANCELLED)
		reservationsReleased: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "released_total",
			Help:      "Stock reservations released back to available stock",
		}, []string{"status"}),
		reservationsConverted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservations",
			Name:      "converted_total",
			Help:      "Stock reservations converted into order deductions",
		}),
		stockDeducted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "direct_deductions_total",
			Help:      "Order lines deducted without a covering reservation",
		}),
		// Labels: result (created, replayed)
		ordersCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "total",
			Help:      "Orders returned by the order protocol",
		}, []string{"result"}),
		// Labels: operation, code
		checkoutFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed checkout operations by error code",
		}, []string{"operation", "code"}),
		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of checkout protocol operations",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
		cleanupReleased: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "expired_total",
			Help:      "Reservations expired by the cleanup sweeper",
		}),
		cleanupFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "failures_total",
			Help:      "Reservations the sweeper failed to expire",
		}),
		outboxPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events published to Kafka",
		}),
		outboxFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "failures_total",
			Help:      "Outbox publish attempts that failed",
		}),
		// Labels: result (hit, miss, error)
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Availability cache lookups",
		}, []string{"result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) ReservationsCreated(n int) {
	if m == nil {
		return
	}
	m.reservationsCreated.Add(float64(n))
}

func (m *Metrics) ReservationReleased(status string) {
	if m == nil {
		return
	}
	m.reservationsReleased.WithLabelValues(status).Inc()
}

func (m *Metrics) ReservationsConverted(n int) {
	if m == nil {
		return
	}
	m.reservationsConverted.Add(float64(n))
}

func (m *Metrics) DirectDeductions(n int) {
	if m == nil {
		return
	}
	m.stockDeducted.Add(float64(n))
}

func (m *Metrics) OrderReturned(created bool) {
	if m == nil {
		return
	}
	result := "replayed"
	if created {
		result = "created"
	}
	m.ordersCreated.WithLabelValues(result).Inc()
}

func (m *Metrics) CheckoutFailed(operation, code string) {
	if m == nil {
		return
	}
	m.checkoutFailures.WithLabelValues(operation, code).Inc()
}

// ObserveOperation records how long an operation took since start.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) CleanupExpired(n int) {
	if m == nil {
		return
	}
	m.cleanupReleased.Add(float64(n))
}

func (m *Metrics) CleanupFailed() {
	if m == nil {
		return
	}
	m.cleanupFailures.Inc()
}

func (m *Metrics) OutboxPublished(n int) {
	if m == nil {
		return
	}
	m.outboxPublished.Add(float64(n))
}

func (m *Metrics) OutboxFailed() {
	if m == nil {
		return
	}
	m.outboxFailures.Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
