package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the connection pool
type Metrics struct {
	activeLeases     *prometheus.GaugeVec
	totalConnections *prometheus.GaugeVec
	waiters          *prometheus.GaugeVec
	leasesGranted    *prometheus.CounterVec
	leasesReleased   *prometheus.CounterVec
	forcedReclaims   *prometheus.CounterVec
	acquireTimeouts  *prometheus.CounterVec
	acquireWait      *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered on the default
// registerer under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		activeLeases: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_pool_active_leases",
				Help:      "Number of leases currently held by callers",
			},
			[]string{"pool"},
		),
		totalConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_pool_connections",
				Help:      "Number of open connections owned by the pool",
			},
			[]string{"pool"},
		),
		waiters: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_pool_waiting_acquires",
				Help:      "Number of acquire calls blocked waiting for a lease",
			},
			[]string{"pool"},
		),
		leasesGranted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_pool_leases_granted_total",
				Help:      "Total number of leases granted",
			},
			[]string{"pool"},
		),
		leasesReleased: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_pool_leases_released_total",
				Help:      "Total number of leases released",
			},
			[]string{"pool"},
		),
		forcedReclaims: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_pool_forced_reclaims_total",
				Help:      "Total number of leases forcibly reclaimed at shutdown",
			},
			[]string{"pool"},
		),
		acquireTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_pool_acquire_timeouts_total",
				Help:      "Total number of acquires that timed out while the pool was saturated",
			},
			[]string{"pool"},
		),
		acquireWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_pool_acquire_wait_seconds",
				Help:      "Time spent waiting to acquire a lease",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pool"},
		),
	}
}
