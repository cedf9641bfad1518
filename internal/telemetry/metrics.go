// Package telemetry wires logging, tracing and metrics for cartsync.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status gauge states.
var statusStates = []string{"idle", "pending", "error"}

// Metrics holds all Prometheus metrics for cartsync.
// Pass to components that need to record metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	GatewayRequests *prometheus.CounterVec
	GatewayDuration *prometheus.HistogramVec
	StoreOperations *prometheus.CounterVec
	StoreStatus     *prometheus.GaugeVec
	Checkouts       *prometheus.CounterVec
	Subscribers     prometheus.Gauge
	JournalErrors   prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		GatewayRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Name:      "gateway_requests_total",
				Help:      "Total remote cart calls",
			},
			[]string{"op", "result"}, // op=fetch/add/remove/checkout, result=ok/unauthorized/not_found/unavailable/invalid
		),
		GatewayDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cartsync",
				Name:      "gateway_request_duration_seconds",
				Help:      "Remote cart call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		StoreOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Name:      "store_operations_total",
				Help:      "Cart store operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		StoreStatus: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cartsync",
				Name:      "store_status",
				Help:      "Current cart store status (1 for the active state)",
			},
			[]string{"state"},
		),
		Checkouts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Name:      "checkouts_total",
				Help:      "Partial checkouts by result",
			},
			[]string{"result"}, // result=ok/denied/empty/error
		),
		Subscribers: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cartsync",
				Name:      "snapshot_subscribers",
				Help:      "Number of active snapshot subscribers",
			},
		),
		JournalErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Name:      "journal_write_errors_total",
				Help:      "Journal entries that could not be written",
			},
		),
		HTTPRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cartsync",
				Name:      "http_requests_total",
				Help:      "Status server requests",
			},
			[]string{"route", "status"}, // status=ok/error
		),
		HTTPDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cartsync",
				Name:      "http_request_duration_seconds",
				Help:      "Status server request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// ObserveGateway records one remote call.
func (m *Metrics) ObserveGateway(op, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(op, result).Inc()
	m.GatewayDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveOperation records a settled cart store operation.
func (m *Metrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(op, outcome).Inc()
}

// SetStatus flips the status gauge to state.
func (m *Metrics) SetStatus(state string) {
	if m == nil {
		return
	}
	for _, s := range statusStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.StoreStatus.WithLabelValues(s).Set(v)
	}
}

// ObserveCheckout records a checkout attempt.
func (m *Metrics) ObserveCheckout(result string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
}

// AddSubscribers moves the subscriber gauge by delta.
func (m *Metrics) AddSubscribers(delta float64) {
	if m == nil {
		return
	}
	m.Subscribers.Add(delta)
}

// JournalError counts a failed journal write.
func (m *Metrics) JournalError() {
	if m == nil {
		return
	}
	m.JournalErrors.Inc()
}

// ObserveHTTP records one status server request.
func (m *Metrics) ObserveHTTP(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}
