// Package pgxconn adapts a pgx connection to the resilience core's driver
// seam. One Conn maps to one *pgx.Conn; the pool above it guarantees
// single-owner access, so the transaction field needs no heavier guard than
// a mutex.
package pgxconn

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/ntbankey/db-resilience/internal/driver"
)

// ErrNoTransaction is returned by Commit or Rollback without a prior Begin.
var ErrNoTransaction = errors.New("no transaction in progress")

// Conn implements driver.Conn over a single pgx connection.
type Conn struct {
	conn *pgx.Conn

	mu sync.Mutex
	tx pgx.Tx
}

// Connect establishes one pgx connection for the given DSN.
func Connect(ctx context.Context, dsn string) (*Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// Connector returns a driver.Connector producing pgx-backed connections.
func Connector(dsn string) driver.Connector {
	return driver.ConnectorFunc(func(ctx context.Context) (driver.Conn, error) {
		return Connect(ctx, dsn)
	})
}

// Exec runs one statement, inside the current transaction when one is open.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (driver.Result, error) {
	c.mu.Lock()
	tx := c.tx
	c.mu.Unlock()

	if tx != nil {
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return driver.Result{}, err
		}
		return driver.Result{RowsAffected: tag.RowsAffected()}, nil
	}

	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return driver.Result{}, err
	}
	return driver.Result{RowsAffected: tag.RowsAffected()}, nil
}

// Begin opens a transaction on this connection.
func (c *Conn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx != nil {
		return errors.New("transaction already in progress")
	}
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Commit commits the open transaction.
func (c *Conn) Commit(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()

	if tx == nil {
		return ErrNoTransaction
	}
	return tx.Commit(ctx)
}

// Rollback rolls back the open transaction.
func (c *Conn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()

	if tx == nil {
		return ErrNoTransaction
	}
	return tx.Rollback(ctx)
}

// Ping verifies the connection is alive.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close releases the underlying connection.
func (c *Conn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
