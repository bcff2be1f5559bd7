// Package resilientdb composes the circuit breaker, connection pool, and
// connection state machines into the façade application code calls. One pool
// and one breaker are injected at construction; there are no package-level
// singletons.
package resilientdb

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ntbankey/db-resilience/internal/breaker"
	"github.com/ntbankey/db-resilience/internal/driver"
	"github.com/ntbankey/db-resilience/internal/pool"
)

// DB wraps every database operation in lease acquisition, circuit breaker
// gating, and guaranteed lease release.
type DB struct {
	pool    *pool.Manager
	breaker *breaker.CircuitBreaker
	logger  *zap.Logger
}

// HealthReport is the combined observability surface: breaker metrics plus
// pool statistics, with one summary boolean for probes.
type HealthReport struct {
	Healthy bool
	Breaker breaker.MetricsSnapshot
	Pool    pool.Statistics
}

// New creates the wrapper from its two collaborators.
func New(p *pool.Manager, cb *breaker.CircuitBreaker, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{pool: p, breaker: cb, logger: logger}
}

// ExecuteQuery runs one statement: acquire a lease, execute through the
// circuit breaker, release the lease on every path. The optional fallback
// follows the breaker's fallback policy (never for authentication or query
// failures).
func (db *DB) ExecuteQuery(ctx context.Context, sql string, args []any, fallback breaker.FallbackFunc) (driver.Result, error) {
	lease, err := db.pool.AcquireLease(ctx, "query")
	if err != nil {
		return driver.Result{}, err
	}
	defer lease.Release()

	var res driver.Result
	err = db.breaker.ExecuteWithFallback(ctx, func(ctx context.Context) error {
		r, execErr := lease.Execute(ctx, sql, args...)
		res = r
		return execErr
	}, fallback)
	if err != nil {
		return driver.Result{}, err
	}
	return res, nil
}

// Tx is the transaction handle passed to ExecuteTransaction's function. All
// statements run on the single lease held for the whole transaction.
type Tx struct {
	lease *pool.Lease
}

// Execute runs one statement inside the transaction.
func (tx *Tx) Execute(ctx context.Context, sql string, args ...any) (driver.Result, error) {
	return tx.lease.Execute(ctx, sql, args...)
}

// ExecuteTransaction acquires one lease for the whole transaction, brackets
// fn with begin/commit, and rolls back on any failure inside fn before the
// lease is released and the classified error propagates.
func (db *DB) ExecuteTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	lease, err := db.pool.AcquireLease(ctx, "transaction")
	if err != nil {
		return err
	}
	defer lease.Release()

	return db.breaker.Execute(ctx, func(ctx context.Context) error {
		if beginErr := lease.Begin(ctx); beginErr != nil {
			return fmt.Errorf("begin transaction: %w", beginErr)
		}

		if fnErr := fn(ctx, &Tx{lease: lease}); fnErr != nil {
			if rbErr := lease.Rollback(ctx); rbErr != nil {
				db.logger.Error("rollback failed",
					zap.String("lease", lease.ID.String()),
					zap.Error(rbErr),
				)
			}
			return fnErr
		}

		if commitErr := lease.Commit(ctx); commitErr != nil {
			return fmt.Errorf("commit transaction: %w", commitErr)
		}
		return nil
	})
}

// Metrics returns the combined health surface.
func (db *DB) Metrics() HealthReport {
	return HealthReport{
		Healthy: db.Healthy(),
		Breaker: db.breaker.Metrics(),
		Pool:    db.pool.Statistics(),
	}
}

// Healthy is true only when both the breaker and the pool report healthy.
func (db *DB) Healthy() bool {
	return db.breaker.Healthy() && db.pool.Healthy()
}

// Reset clears the circuit breaker for operator-triggered recovery.
func (db *DB) Reset() {
	db.breaker.Reset()
}
