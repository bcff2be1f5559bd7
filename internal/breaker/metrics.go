package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the database circuit breaker
type Metrics struct {
	successes      *prometheus.CounterVec
	failures       *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	stateChanges   *prometheus.CounterVec
	currentState   *prometheus.GaugeVec
	requestLatency *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered on the default
// registerer under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		successes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_breaker_successes_total",
				Help:      "Total number of successful database operations",
			},
			[]string{"breaker"},
		),
		failures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_breaker_failures_total",
				Help:      "Total number of failed database operations by failure class",
			},
			[]string{"breaker", "class"},
		),
		rejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_breaker_rejections_total",
				Help:      "Total number of operations rejected without reaching the database",
			},
			[]string{"breaker"},
		),
		stateChanges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_breaker_state_changes_total",
				Help:      "Total number of circuit breaker state changes",
			},
			[]string{"breaker", "from", "to"},
		),
		currentState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_breaker_state",
				Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"breaker"},
		),
		requestLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_breaker_operation_duration_seconds",
				Help:      "Database operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"breaker", "status"},
		),
	}
}

// RecordSuccess records a successful operation
func (m *Metrics) RecordSuccess(name string) {
	m.successes.WithLabelValues(name).Inc()
}

// RecordFailure records a failed operation with its failure class
func (m *Metrics) RecordFailure(name, class string) {
	m.failures.WithLabelValues(name, class).Inc()
}

// RecordRejection records a fast-failed operation
func (m *Metrics) RecordRejection(name string) {
	m.rejections.WithLabelValues(name).Inc()
}

// RecordStateChange records a state change
func (m *Metrics) RecordStateChange(name string, from, to State) {
	m.stateChanges.WithLabelValues(name, from.String(), to.String()).Inc()
	m.currentState.WithLabelValues(name).Set(float64(to))
}

// RecordLatency records operation latency
func (m *Metrics) RecordLatency(name string, duration float64, status string) {
	m.requestLatency.WithLabelValues(name, status).Observe(duration)
}
