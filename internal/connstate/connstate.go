// Package connstate enforces the per-connection lifecycle state machine.
// Each pooled connection owns one Machine; a lease holds exclusive use of it
// for the lease's lifetime, so operations never race on a single machine.
package connstate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	StateInitializing ConnState = iota // connection being established
	StateConnected                     // established, not yet in the idle set
	StateIdle                          // available for an operation
	StateInUse                         // running an operation
	StateClosed                        // terminal
)

// String returns the string representation of the state
func (s ConnState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in-use"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown state: %d", int(s))
	}
}

// allowedTransitions is the fixed state graph. Shutdown bypasses it: any
// state may transition to closed.
var allowedTransitions = map[ConnState][]ConnState{
	StateInitializing: {StateConnected},
	StateConnected:    {StateIdle},
	StateIdle:         {StateInUse},
	StateInUse:        {StateIdle, StateClosed},
}

// Transition records one state change for observability.
type Transition struct {
	Event  string
	From   ConnState
	To     ConnState
	Reason string
	At     time.Time
}

// Observer receives every transition. Registration is a plain callback, not
// a broadcast bus; observers run synchronously under the machine's lock.
type Observer func(Transition)

// InvalidTransitionError is returned for a transition outside the state
// graph. It indicates a programming error and is not retryable.
type InvalidTransitionError struct {
	Event string
	From  ConnState
	To    ConnState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition not allowed: %s -> %s (event %q)", e.From, e.To, e.Event)
}

// OperationNotAllowedError is returned when an operation is attempted in a
// state that does not permit it.
type OperationNotAllowedError struct {
	Kind  string
	State ConnState
}

func (e *OperationNotAllowedError) Error() string {
	return fmt.Sprintf("operation %s not allowed in state %s", e.Kind, e.State)
}

// Machine is the lifecycle state machine for one connection.
type Machine struct {
	mu        sync.Mutex
	state     ConnState
	log       []Transition
	observers []Observer
	clock     func() time.Time
}

// New creates a machine in the initializing state.
func New() *Machine {
	return &Machine{state: StateInitializing, clock: time.Now}
}

// NewWithClock creates a machine with an injected time source for tests.
func NewWithClock(clock func() time.Time) *Machine {
	return &Machine{state: StateInitializing, clock: clock}
}

// State returns the current state.
func (m *Machine) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Healthy reports whether the connection can still serve operations.
func (m *Machine) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateIdle || m.state == StateInUse || m.state == StateConnected
}

// Observe registers a transition observer.
func (m *Machine) Observe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Log returns a copy of the transition log.
func (m *Machine) Log() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.log))
	copy(out, m.log)
	return out
}

// Transition moves the machine to the given state if the state graph allows
// it; otherwise it fails with InvalidTransitionError and the state is left
// untouched.
func (m *Machine) Transition(event string, to ConnState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(event, to, reason)
}

// ExecuteOperation runs fn for the given operation kind. Only "execute" in
// the idle state is permitted. The machine is in-use for the duration and
// returns to idle afterwards whether or not fn failed: an operation failure
// is recoverable and does not condemn the connection. The original error is
// returned unchanged.
func (m *Machine) ExecuteOperation(ctx context.Context, kind string, fn func(context.Context) error) error {
	m.mu.Lock()
	if kind != "execute" || m.state != StateIdle {
		state := m.state
		m.mu.Unlock()
		return &OperationNotAllowedError{Kind: kind, State: state}
	}
	if err := m.transitionLocked(kind, StateInUse, "operation started"); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	opErr := fn(ctx)

	m.mu.Lock()
	reason := "operation complete"
	if opErr != nil {
		reason = "operation failed: " + opErr.Error()
	}
	// The in-use to idle edge is always legal unless the machine was shut
	// down mid-operation, in which case it stays closed.
	if m.state == StateInUse {
		_ = m.transitionLocked(kind, StateIdle, reason)
	}
	m.mu.Unlock()

	return opErr
}

// Shutdown moves the machine to closed from any state. Idempotent; the only
// transition that does not consult the state graph.
func (m *Machine) Shutdown(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return
	}
	m.recordLocked(Transition{
		Event:  "shutdown",
		From:   m.state,
		To:     StateClosed,
		Reason: reason,
		At:     m.clock(),
	})
	m.state = StateClosed
}

// transitionLocked validates and applies a transition. Must be called with
// m.mu held.
func (m *Machine) transitionLocked(event string, to ConnState, reason string) error {
	allowed := false
	for _, next := range allowedTransitions[m.state] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return &InvalidTransitionError{Event: event, From: m.state, To: to}
	}

	m.recordLocked(Transition{
		Event:  event,
		From:   m.state,
		To:     to,
		Reason: reason,
		At:     m.clock(),
	})
	m.state = to
	return nil
}

// recordLocked appends to the log and notifies observers. Must be called
// with m.mu held.
func (m *Machine) recordLocked(t Transition) {
	m.log = append(m.log, t)
	for _, obs := range m.observers {
		obs(t)
	}
}
