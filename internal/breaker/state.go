package breaker

import "fmt"

// State represents the circuit breaker state
type State int

const (
	// StateClosed - operations run directly against the backend
	StateClosed State = iota

	// StateHalfOpen - limited probe operations test whether the backend recovered
	StateHalfOpen

	// StateOpen - operations fail fast without touching the backend
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown state: %d", int(s))
	}
}
