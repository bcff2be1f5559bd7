package classify

import "fmt"

// TimeoutError marks an operation that exceeded its deadline.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("operation timed out: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// ConnectionError marks a failure to reach or keep the backend connection.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("connection failure: %v", e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError marks rejected credentials. Never retried.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string { return fmt.Sprintf("authentication failure: %v", e.Err) }
func (e *AuthenticationError) Unwrap() error { return e.Err }

// QueryError marks a malformed statement or constraint violation. Never retried.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("query failure: %v", e.Err) }
func (e *QueryError) Unwrap() error { return e.Err }

// Wrap returns err wrapped in the typed error matching its classification.
// Unknown errors pass through unchanged so callers keep the original type.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	switch Classify(err) {
	case Timeout:
		return &TimeoutError{Err: err}
	case Connection:
		return &ConnectionError{Err: err}
	case Authentication:
		return &AuthenticationError{Err: err}
	case Query:
		return &QueryError{Err: err}
	default:
		return err
	}
}
