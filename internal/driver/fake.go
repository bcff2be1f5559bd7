package driver

import (
	"context"
	"errors"
	"sync"
)

// ErrConnClosed is returned by fake connections after Close.
var ErrConnClosed = errors.New("connection is closed")

// FakeConn is an in-memory Conn used by tests and the demo binary. Its
// behavior is scripted through the ExecFunc hook; unset hooks succeed.
type FakeConn struct {
	// ExecFunc, when set, decides the outcome of Exec calls.
	ExecFunc func(ctx context.Context, sql string, args ...any) (Result, error)

	// PingFunc, when set, decides the outcome of Ping calls.
	PingFunc func(ctx context.Context) error

	mu       sync.Mutex
	closed   bool
	inTx     bool
	ExecLog  []string
	Begins   int
	Commits  int
	Rollbacks int
}

// NewFakeConn returns a fake connection whose operations all succeed.
func NewFakeConn() *FakeConn {
	return &FakeConn{}
}

// FakeConnector returns a Connector producing independent fake connections,
// each configured by the supplied setup hook.
func FakeConnector(setup func(*FakeConn)) Connector {
	return ConnectorFunc(func(ctx context.Context) (Conn, error) {
		c := NewFakeConn()
		if setup != nil {
			setup(c)
		}
		return c, nil
	})
}

func (c *FakeConn) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{}, ErrConnClosed
	}
	c.ExecLog = append(c.ExecLog, sql)
	fn := c.ExecFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, sql, args...)
	}
	return Result{RowsAffected: 1}, nil
}

func (c *FakeConn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.inTx {
		return errors.New("transaction already in progress")
	}
	c.inTx = true
	c.Begins++
	return nil
}

func (c *FakeConn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inTx {
		return errors.New("no transaction in progress")
	}
	c.inTx = false
	c.Commits++
	return nil
}

func (c *FakeConn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inTx {
		return errors.New("no transaction in progress")
	}
	c.inTx = false
	c.Rollbacks++
	return nil
}

func (c *FakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	fn := c.PingFunc
	c.mu.Unlock()

	if closed {
		return ErrConnClosed
	}
	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (c *FakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
