// Package driver defines the seam between the resilience core and the
// concrete database driver. The core only needs execute and transaction
// primitives plus liveness; SQL dialect and result-row shape stay on the
// driver side of this boundary.
package driver

import "context"

// Result is the minimal outcome of a statement execution.
type Result struct {
	RowsAffected int64
}

// Conn is a single database connection as seen by the resilience core.
type Conn interface {
	// Exec runs one statement. A statement failure must leave the
	// connection usable for subsequent statements.
	Exec(ctx context.Context, sql string, args ...any) (Result, error)

	// Begin, Commit, and Rollback bracket a transaction on this connection.
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// Connector creates connections. Implementations wrap a concrete driver's
// connection establishment.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context) (Conn, error)

func (f ConnectorFunc) Connect(ctx context.Context) (Conn, error) { return f(ctx) }
