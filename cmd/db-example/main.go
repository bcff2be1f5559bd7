// Demo binary: drives the resilience core against a scripted flaky in-memory
// driver so the circuit breaker's open/half-open/closed cycle is visible on
// the metrics endpoint.
//
// Run it, then check:
//
//	curl localhost:2112/metrics   # prometheus
//	curl localhost:2112/healthz   # combined health report
//	curl localhost:2112/readyz    # readiness probe
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ntbankey/db-resilience/internal/breaker"
	"github.com/ntbankey/db-resilience/internal/config"
	"github.com/ntbankey/db-resilience/internal/driver"
	"github.com/ntbankey/db-resilience/internal/middleware"
	"github.com/ntbankey/db-resilience/internal/pool"
	"github.com/ntbankey/db-resilience/internal/resilientdb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.Logging.Development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var requestNum atomic.Int64
	connector := driver.FakeConnector(func(c *driver.FakeConn) {
		c.ExecFunc = func(ctx context.Context, sql string, args ...any) (driver.Result, error) {
			return simulateExec(requestNum.Load())
		}
	})

	p := pool.New(connector, pool.Config{
		Name:           "demo",
		MaxConnections: cfg.Pool.MaxConnections,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		LeaseTimeout:   cfg.Pool.LeaseTimeout,
		Logger:         logger,
		Metrics:        pool.NewMetrics("demo"),
	})

	cb := breaker.New("demo", breaker.Config{
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		RecoveryTimeout:     cfg.Breaker.RecoveryTimeout,
		HalfOpenMaxAttempts: cfg.Breaker.HalfOpenMaxAttempts,
		SuccessThreshold:    cfg.Breaker.SuccessThreshold,
		TimeoutThreshold:    cfg.Breaker.TimeoutThreshold,
		DegradedFailureRate: cfg.Breaker.DegradedFailureRate,
		Logger:              logger,
		Metrics:             breaker.NewMetrics("demo"),
	})

	db := resilientdb.New(p, cb, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", middleware.HealthHandler(db))
	mux.Handle("/readyz", middleware.ReadinessHandler(db))

	go func() {
		logger.Info("serving health and metrics", zap.String("addr", cfg.Server.Addr))
		if err := http.ListenAndServe(cfg.Server.Addr, mux); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	logger.Info("starting demo load",
		zap.Int("failure_threshold", cfg.Breaker.FailureThreshold),
		zap.Duration("recovery_timeout", cfg.Breaker.RecoveryTimeout),
	)

	ctx := context.Background()
	for i := 1; i <= 30; i++ {
		requestNum.Store(int64(i))

		_, err := db.ExecuteQuery(ctx, "UPDATE accounts SET balance = balance - $1 WHERE id = $2", []any{10, i}, nil)

		var cbErr *breaker.CircuitBreakerError
		switch {
		case errors.As(err, &cbErr):
			logger.Warn("request rejected fast",
				zap.Int("request", i),
				zap.String("state", cbErr.State.String()),
			)
		case err != nil:
			logger.Warn("request failed", zap.Int("request", i), zap.Error(err))
		default:
			logger.Info("request ok", zap.Int("request", i))
		}

		m := db.Metrics()
		logger.Info("breaker status",
			zap.String("state", m.Breaker.State.String()),
			zap.Uint64("requests", m.Breaker.TotalRequests),
			zap.Uint64("failures", m.Breaker.TotalFailures),
			zap.Uint32("consecutive_failures", m.Breaker.ConsecutiveFailures),
			zap.Int("active_leases", m.Pool.ActiveLeases),
			zap.Bool("healthy", m.Healthy),
		)

		time.Sleep(500 * time.Millisecond)
	}

	p.GracefulShutdown(5 * time.Second)
	logger.Info("demo complete; metrics endpoint stays up")

	select {}
}

// simulateExec scripts backend health by request number: a failing phase to
// trip the breaker, a flaky recovery phase, then sustained health.
func simulateExec(requestNum int64) (driver.Result, error) {
	switch {
	case requestNum <= 10:
		if rand.Float64() < 0.7 {
			return driver.Result{}, fmt.Errorf("connection reset by peer (request %d)", requestNum)
		}
	case requestNum <= 20:
		if rand.Float64() < 0.3 {
			return driver.Result{}, fmt.Errorf("connection reset by peer (request %d)", requestNum)
		}
	}
	return driver.Result{RowsAffected: 1}, nil
}
