// Package config loads the demo binary's settings from environment
// variables. The core packages themselves take flat construction-time
// options; this loader only feeds them.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all settings for the example binary.
type Config struct {
	Server  ServerConfig
	Pool    PoolConfig
	Breaker BreakerConfig
	Logging LogConfig
}

// ServerConfig holds the health/metrics HTTP listener settings.
type ServerConfig struct {
	Addr string `envconfig:"ADDR" default:":2112"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConnections int           `envconfig:"POOL_MAX_CONNECTIONS" default:"10"`
	AcquireTimeout time.Duration `envconfig:"POOL_ACQUIRE_TIMEOUT" default:"5s"`
	LeaseTimeout   time.Duration `envconfig:"POOL_LEASE_TIMEOUT" default:"30s"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold    int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	RecoveryTimeout     time.Duration `envconfig:"BREAKER_RECOVERY_TIMEOUT" default:"10s"`
	HalfOpenMaxAttempts int           `envconfig:"BREAKER_HALF_OPEN_MAX_ATTEMPTS" default:"1"`
	SuccessThreshold    int           `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2"`
	TimeoutThreshold    time.Duration `envconfig:"BREAKER_TIMEOUT_THRESHOLD" default:"2s"`
	DegradedFailureRate float64       `envconfig:"BREAKER_DEGRADED_FAILURE_RATE" default:"0.5"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Development bool `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
