package breaker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	// without invoking the operation.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyProbes is returned when the half-open probe limit is reached.
	ErrTooManyProbes = errors.New("too many half-open probes")
)

// CircuitBreakerError is the fast-fail error surfaced while the breaker is
// open or the half-open probe budget is exhausted. It carries a snapshot of
// the breaker at rejection time for diagnostics.
type CircuitBreakerError struct {
	Name     string
	State    State
	Snapshot MetricsSnapshot
	At       time.Time

	// Err is the underlying cause: ErrCircuitOpen, ErrTooManyProbes, or a
	// failed fallback's error.
	Err error
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %q rejected call (state=%s, consecutive_failures=%d): %v",
		e.Name, e.State, e.Snapshot.ConsecutiveFailures, e.Err)
}

func (e *CircuitBreakerError) Unwrap() error { return e.Err }
