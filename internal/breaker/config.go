package breaker

import (
	"time"

	"go.uber.org/zap"
)

// Config holds configuration for the circuit breaker. The zero value of any
// field is replaced by the corresponding default at construction.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that trips the breaker open.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before the next
	// call is allowed through as a half-open probe.
	RecoveryTimeout time.Duration

	// HalfOpenMaxAttempts is the number of concurrent probes allowed while
	// half-open. Probes beyond the limit fail fast.
	HalfOpenMaxAttempts int

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker again.
	SuccessThreshold int

	// MonitoringPeriod is the rolling window over which the failure rate
	// reported by Metrics and used by Healthy is computed.
	MonitoringPeriod time.Duration

	// TimeoutThreshold is the per-operation deadline. Operations exceeding
	// it are recorded as timeout failures.
	TimeoutThreshold time.Duration

	// MaxFailureAge is the maximum age of a failure sample before it is
	// evicted from the history.
	MaxFailureAge time.Duration

	// MaxFailureHistory bounds the failure sample buffer.
	MaxFailureHistory int

	// MaxResponseTimeHistory bounds the response-time sample buffer used
	// for percentile computation.
	MaxResponseTimeHistory int

	// DegradedFailureRate is the windowed failure rate at which Healthy
	// reports false even while the breaker is closed.
	DegradedFailureRate float64

	// OnStateChange is called whenever the state of the breaker changes.
	OnStateChange func(name string, from State, to State)

	// Clock overrides the time source. Used by tests; defaults to time.Now.
	Clock func() time.Time

	// Logger receives state transition logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics receives Prometheus observations when non-nil.
	Metrics *Metrics
}

// defaultConfig returns default configuration
func defaultConfig() Config {
	return Config{
		FailureThreshold:       5,
		RecoveryTimeout:        30 * time.Second,
		HalfOpenMaxAttempts:    1,
		SuccessThreshold:       2,
		MonitoringPeriod:       10 * time.Second,
		TimeoutThreshold:       5 * time.Second,
		MaxFailureAge:          time.Minute,
		MaxFailureHistory:      100,
		MaxResponseTimeHistory: 100,
		DegradedFailureRate:    0.5,
		Clock:                  time.Now,
	}
}

// merge merges user config with default config
func (c Config) merge() Config {
	config := defaultConfig()

	if c.FailureThreshold > 0 {
		config.FailureThreshold = c.FailureThreshold
	}
	if c.RecoveryTimeout > 0 {
		config.RecoveryTimeout = c.RecoveryTimeout
	}
	if c.HalfOpenMaxAttempts > 0 {
		config.HalfOpenMaxAttempts = c.HalfOpenMaxAttempts
	}
	if c.SuccessThreshold > 0 {
		config.SuccessThreshold = c.SuccessThreshold
	}
	if c.MonitoringPeriod > 0 {
		config.MonitoringPeriod = c.MonitoringPeriod
	}
	if c.TimeoutThreshold > 0 {
		config.TimeoutThreshold = c.TimeoutThreshold
	}
	if c.MaxFailureAge > 0 {
		config.MaxFailureAge = c.MaxFailureAge
	}
	if c.MaxFailureHistory > 0 {
		config.MaxFailureHistory = c.MaxFailureHistory
	}
	if c.MaxResponseTimeHistory > 0 {
		config.MaxResponseTimeHistory = c.MaxResponseTimeHistory
	}
	if c.DegradedFailureRate > 0 {
		config.DegradedFailureRate = c.DegradedFailureRate
	}
	if c.OnStateChange != nil {
		config.OnStateChange = c.OnStateChange
	}
	if c.Clock != nil {
		config.Clock = c.Clock
	}
	if c.Logger != nil {
		config.Logger = c.Logger
	}
	if c.Metrics != nil {
		config.Metrics = c.Metrics
	}

	return config
}
