package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "custody"

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge

	// Engine metrics
	EngineOperations *prometheus.CounterVec
	EngineDuration   *prometheus.HistogramVec

	// Ledger metrics
	ConsistencyChecks        *prometheus.CounterVec
	ConsistencyDiscrepancies *prometheus.GaugeVec

	// Outbox metrics
	OutboxPublished *prometheus.CounterVec
	OutboxBacklog   prometheus.Gauge

	// Authentication metrics
	AuthFailures *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Served HTTP requests by route pattern and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration by route pattern",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Requests currently being served",
		}),

		EngineOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_operations_total",
				Help:      "Engine operations by outcome (applied, noop, error)",
			},
			[]string{"engine", "operation", "result"},
		),
		EngineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_operation_duration_seconds",
				Help:      "Duration of engine operations, including persistence",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"engine", "operation"},
		),

		ConsistencyChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consistency_checks_total",
				Help:      "Consistency checks by store and result",
			},
			[]string{"store", "result"},
		),
		ConsistencyDiscrepancies: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consistency_discrepancies",
				Help:      "Discrepancies found by the last consistency check",
			},
			[]string{"store"},
		),

		OutboxPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_events_published_total",
				Help:      "Outbox events handed to the event sink",
			},
			[]string{"event_type", "result"},
		),
		OutboxBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_backlog",
			Help:      "Unpublished events seen by the last poll",
		}),

		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Rejected requests by reason",
			},
			[]string{"reason"},
		),

		RateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
}

// ObserveHTTPRequest records a served request. route is the matched
// pattern, never the raw path.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// TrackInFlight moves the in-flight gauge by delta.
func (m *Metrics) TrackInFlight(delta int) {
	m.HTTPInFlight.Add(float64(delta))
}

// ObserveOperation implements usecase.Recorder.
func (m *Metrics) ObserveOperation(engine, op, result string, d time.Duration) {
	m.EngineOperations.WithLabelValues(engine, op, result).Inc()
	m.EngineDuration.WithLabelValues(engine, op).Observe(d.Seconds())
}

// ObserveConsistency records the outcome of a consistency check.
func (m *Metrics) ObserveConsistency(store string, discrepancies int) {
	result := "consistent"
	if discrepancies > 0 {
		result = "inconsistent"
	}
	m.ConsistencyChecks.WithLabelValues(store, result).Inc()
	m.ConsistencyDiscrepancies.WithLabelValues(store).Set(float64(discrepancies))
}

// ObservePublish records one outbox publish attempt.
func (m *Metrics) ObservePublish(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OutboxPublished.WithLabelValues(eventType, result).Inc()
}

// ObserveBacklog records the size of the last outbox poll.
func (m *Metrics) ObserveBacklog(n int) {
	m.OutboxBacklog.Set(float64(n))
}

// ObserveAuthFailure counts a rejected HTTP caller.
func (m *Metrics) ObserveAuthFailure(reason string) {
	m.AuthFailures.WithLabelValues(reason).Inc()
}

// ObserveRateLimited counts a throttled HTTP request.
func (m *Metrics) ObserveRateLimited() {
	m.RateLimitHits.Inc()
}
