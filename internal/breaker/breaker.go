// Package breaker implements a circuit breaker for database operations. It
// tracks classified failures and response times over bounded windows, fails
// fast while the backend is degraded, and probes for recovery with a limited
// number of half-open attempts.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ntbankey/db-resilience/internal/classify"
)

// CircuitBreaker guards database operations with a three-state machine.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu                sync.Mutex
	state             State
	lastTransition    time.Time
	halfOpenInflight  int
	halfOpenSuccesses int
	hist              *history

	totalRequests        uint64
	totalSuccesses       uint64
	totalFailures        uint64
	timeoutCount         uint64
	consecutiveSuccesses uint32
	consecutiveFailures  uint32
	circuitOpenCount     uint64
	failuresByType       map[classify.FailureType]uint64

	// Rolling failure-rate window, restarted every MonitoringPeriod.
	windowStart    time.Time
	windowRequests uint64
	windowFailures uint64
}

// MetricsSnapshot is a point-in-time copy of the breaker's counters,
// returned by Metrics and embedded in CircuitBreakerError.
type MetricsSnapshot struct {
	Name                 string
	State                State
	LastStateTransition  time.Time
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	TimeoutCount         uint64
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
	CircuitOpenCount     uint64
	FailuresByType       map[string]uint64
	FailureRate          float64
	ResponseTimes        Percentiles
}

// New creates a new CircuitBreaker with the given configuration
func New(name string, config Config) *CircuitBreaker {
	cfg := config.merge()
	now := cfg.Clock()

	return &CircuitBreaker{
		name:           name,
		cfg:            cfg,
		state:          StateClosed,
		lastTransition: now,
		windowStart:    now,
		hist:           newHistory(cfg.MaxFailureHistory, cfg.MaxResponseTimeHistory, cfg.MaxFailureAge),
		failuresByType: make(map[classify.FailureType]uint64),
	}
}

// Name returns the circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state. It does not trigger the open-to-half-open
// transition; that happens only when a call arrives after RecoveryTimeout.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs op under the breaker. While open it fails fast with a
// CircuitBreakerError without invoking op. Every run is raced against
// TimeoutThreshold; an overrun is recorded as a timeout failure and the
// eventual result is discarded. Failures are classified and recorded into
// the bounded history exactly once before being returned, wrapped in their
// classified error type.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	probe, err := cb.allow()
	if err != nil {
		return err
	}

	start := cb.cfg.Clock()

	opCtx, cancel := context.WithTimeout(ctx, cb.cfg.TimeoutThreshold)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("operation panic: %v", r)
			}
		}()
		done <- op(opCtx)
	}()

	select {
	case <-opCtx.Done():
		// Deadline or caller cancellation. The operation goroutine drains
		// into the buffered channel; its result is discarded.
		ctxErr := opCtx.Err()
		cb.onFailure(probe, classify.Classify(ctxErr), cb.cfg.Clock().Sub(start))
		return classify.Wrap(ctxErr)

	case opErr := <-done:
		rt := cb.cfg.Clock().Sub(start)
		if opErr == nil {
			cb.onSuccess(probe, rt)
			return nil
		}
		cb.onFailure(probe, classify.Classify(opErr), rt)
		return classify.Wrap(opErr)
	}
}

// Metrics returns a snapshot of the breaker's counters, failure breakdown,
// and response-time percentiles.
func (cb *CircuitBreaker) Metrics() MetricsSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Clock()
	cb.hist.prune(now)
	cb.advanceWindow(now)
	return cb.snapshotLocked()
}

// Healthy reports whether the breaker is usable: closed or half-open, with
// the windowed failure rate below DegradedFailureRate.
func (cb *CircuitBreaker) Healthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		return false
	}
	cb.advanceWindow(cb.cfg.Clock())
	return cb.failureRateLocked() < cb.cfg.DegradedFailureRate
}

// Reset clears the breaker back to closed with empty histories and counters.
// Intended for operator-triggered recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Clock()
	prev := cb.state
	cb.state = StateClosed
	cb.lastTransition = now
	cb.halfOpenInflight = 0
	cb.halfOpenSuccesses = 0
	cb.hist.reset()
	cb.totalRequests = 0
	cb.totalSuccesses = 0
	cb.totalFailures = 0
	cb.timeoutCount = 0
	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures = 0
	cb.circuitOpenCount = 0
	cb.failuresByType = make(map[classify.FailureType]uint64)
	cb.windowStart = now
	cb.windowRequests = 0
	cb.windowFailures = 0

	if prev != StateClosed {
		cb.notifyTransition(prev, StateClosed)
	}
}

// ForceState moves the breaker to the given state unconditionally. Escape
// hatch for tests and operational tooling; counters are preserved.
func (cb *CircuitBreaker) ForceState(state State) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setStateLocked(state, cb.cfg.Clock())
}

// allow decides whether a call may proceed. It returns probe=true when the
// call is a half-open probe. Rejections carry a metrics snapshot.
func (cb *CircuitBreaker) allow() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Clock()
	cb.advanceWindow(now)

	switch cb.state {
	case StateClosed:
		cb.totalRequests++
		cb.windowRequests++
		return false, nil

	case StateOpen:
		if now.Sub(cb.lastTransition) >= cb.cfg.RecoveryTimeout {
			cb.setStateLocked(StateHalfOpen, now)
			cb.halfOpenInflight = 1
			cb.totalRequests++
			cb.windowRequests++
			return true, nil
		}
		return false, cb.rejectLocked(now, ErrCircuitOpen)

	default: // StateHalfOpen
		if cb.halfOpenInflight >= cb.cfg.HalfOpenMaxAttempts {
			return false, cb.rejectLocked(now, ErrTooManyProbes)
		}
		cb.halfOpenInflight++
		cb.totalRequests++
		cb.windowRequests++
		return true, nil
	}
}

// rejectLocked builds the fast-fail error. Must be called with cb.mu held.
func (cb *CircuitBreaker) rejectLocked(now time.Time, cause error) error {
	if cb.cfg.Metrics != nil {
		cb.cfg.Metrics.RecordRejection(cb.name)
	}
	return &CircuitBreakerError{
		Name:     cb.name,
		State:    cb.state,
		Snapshot: cb.snapshotLocked(),
		At:       now,
		Err:      cause,
	}
}

// onSuccess records a successful operation.
func (cb *CircuitBreaker) onSuccess(probe bool, rt time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.hist.recordResponseTime(rt)
	cb.totalSuccesses++
	cb.consecutiveSuccesses++
	cb.consecutiveFailures = 0

	if probe && cb.halfOpenInflight > 0 {
		cb.halfOpenInflight--
	}

	if cb.state == StateHalfOpen {
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.SuccessThreshold {
			cb.setStateLocked(StateClosed, cb.cfg.Clock())
		}
	}

	if cb.cfg.Metrics != nil {
		cb.cfg.Metrics.RecordSuccess(cb.name)
		cb.cfg.Metrics.RecordLatency(cb.name, rt.Seconds(), "success")
	}
}

// onFailure records a classified failure and drives state transitions.
func (cb *CircuitBreaker) onFailure(probe bool, ftype classify.FailureType, rt time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Clock()
	cb.hist.prune(now)
	cb.hist.recordFailure(ftype, now, rt)
	cb.hist.recordResponseTime(rt)

	cb.totalFailures++
	cb.windowFailures++
	cb.consecutiveFailures++
	cb.consecutiveSuccesses = 0
	cb.failuresByType[ftype]++
	if ftype == classify.Timeout {
		cb.timeoutCount++
	}

	if probe && cb.halfOpenInflight > 0 {
		cb.halfOpenInflight--
	}

	switch cb.state {
	case StateClosed:
		if int(cb.consecutiveFailures) >= cb.cfg.FailureThreshold {
			cb.setStateLocked(StateOpen, now)
		}
	case StateHalfOpen:
		// A single probe failure reopens immediately.
		cb.setStateLocked(StateOpen, now)
	}

	if cb.cfg.Metrics != nil {
		cb.cfg.Metrics.RecordFailure(cb.name, ftype.String())
		cb.cfg.Metrics.RecordLatency(cb.name, rt.Seconds(), "failure")
	}
}

// setStateLocked changes the state. Must be called with cb.mu held.
func (cb *CircuitBreaker) setStateLocked(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.lastTransition = now

	switch state {
	case StateOpen:
		cb.circuitOpenCount++
		cb.halfOpenInflight = 0
		cb.halfOpenSuccesses = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses = 0
	case StateClosed:
		cb.halfOpenInflight = 0
		cb.halfOpenSuccesses = 0
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
	}

	cb.notifyTransition(prev, state)
}

// notifyTransition emits logs, metrics, and the state-change callback.
// Must be called with cb.mu held.
func (cb *CircuitBreaker) notifyTransition(from, to State) {
	if cb.cfg.Logger != nil {
		cb.cfg.Logger.Info("circuit breaker state change",
			zap.String("breaker", cb.name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	if cb.cfg.Metrics != nil {
		cb.cfg.Metrics.RecordStateChange(cb.name, from, to)
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// advanceWindow restarts the failure-rate window when MonitoringPeriod has
// elapsed. Must be called with cb.mu held.
func (cb *CircuitBreaker) advanceWindow(now time.Time) {
	if now.Sub(cb.windowStart) >= cb.cfg.MonitoringPeriod {
		cb.windowStart = now
		cb.windowRequests = 0
		cb.windowFailures = 0
	}
}

// failureRateLocked returns the windowed failure rate. Must be called with
// cb.mu held.
func (cb *CircuitBreaker) failureRateLocked() float64 {
	if cb.windowRequests == 0 {
		return 0
	}
	return float64(cb.windowFailures) / float64(cb.windowRequests)
}

// snapshotLocked builds a MetricsSnapshot. Must be called with cb.mu held.
func (cb *CircuitBreaker) snapshotLocked() MetricsSnapshot {
	byType := make(map[string]uint64, len(cb.failuresByType))
	for t, n := range cb.failuresByType {
		byType[t.String()] = n
	}

	return MetricsSnapshot{
		Name:                 cb.name,
		State:                cb.state,
		LastStateTransition:  cb.lastTransition,
		TotalRequests:        cb.totalRequests,
		TotalSuccesses:       cb.totalSuccesses,
		TotalFailures:        cb.totalFailures,
		TimeoutCount:         cb.timeoutCount,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		ConsecutiveFailures:  cb.consecutiveFailures,
		CircuitOpenCount:     cb.circuitOpenCount,
		FailuresByType:       byType,
		FailureRate:          cb.failureRateLocked(),
		ResponseTimes:        cb.hist.percentiles(),
	}
}
