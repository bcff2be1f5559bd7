package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ntbankey/db-resilience/internal/connstate"
	"github.com/ntbankey/db-resilience/internal/driver"
)

// ErrLeaseReleased is returned by operations on a lease that has already
// been given back to the pool.
var ErrLeaseReleased = errors.New("lease has been released")

// entry is one pooled connection with its lifecycle state machine.
type entry struct {
	conn    driver.Conn
	machine *connstate.Machine
}

// Lease is a single-owner, time-bounded handle granting exclusive use of one
// pooled connection. It is created by Manager.AcquireLease and destroyed by
// Release or by forced reclamation at shutdown.
type Lease struct {
	ID         uuid.UUID
	OwnerTag   string
	AcquiredAt time.Time
	ExpiresAt  time.Time

	pool  *Manager
	entry *entry

	mu       sync.Mutex
	released bool
}

// Execute runs one statement on the leased connection through its state
// machine. A statement failure leaves the lease usable: the machine returns
// to idle, not closed, and subsequent statements on the same lease work.
func (l *Lease) Execute(ctx context.Context, sql string, args ...any) (driver.Result, error) {
	e, err := l.liveEntry()
	if err != nil {
		return driver.Result{}, err
	}

	var res driver.Result
	err = e.machine.ExecuteOperation(ctx, "execute", func(ctx context.Context) error {
		var execErr error
		res, execErr = e.conn.Exec(ctx, sql, args...)
		return execErr
	})
	return res, err
}

// Begin starts a transaction on the leased connection.
func (l *Lease) Begin(ctx context.Context) error {
	e, err := l.liveEntry()
	if err != nil {
		return err
	}
	return e.conn.Begin(ctx)
}

// Commit commits the transaction on the leased connection.
func (l *Lease) Commit(ctx context.Context) error {
	e, err := l.liveEntry()
	if err != nil {
		return err
	}
	return e.conn.Commit(ctx)
}

// Rollback rolls back the transaction on the leased connection.
func (l *Lease) Rollback(ctx context.Context) error {
	e, err := l.liveEntry()
	if err != nil {
		return err
	}
	return e.conn.Rollback(ctx)
}

// Release returns the connection to the pool. Idempotent: releasing twice
// neither double-decrements the active count nor corrupts statistics.
func (l *Lease) Release() {
	l.pool.release(l, false)
}

// Expired reports whether the lease outlived its advisory expiry.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// StateLog returns the transition log of the leased connection.
func (l *Lease) StateLog() []connstate.Transition {
	return l.entry.machine.Log()
}

// liveEntry returns the entry if the lease is still held.
func (l *Lease) liveEntry() (*entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, ErrLeaseReleased
	}
	return l.entry, nil
}

// markReleased flips the released flag, reporting whether this call was the
// first to do so.
func (l *Lease) markReleased() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return false
	}
	l.released = true
	return true
}
