// Package classify maps raw database errors to a fixed set of failure
// categories. Classification decides retry and fallback eligibility, so it
// must be total: any input maps to a category, never an error or a panic.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// FailureType is the category assigned to a classified error.
type FailureType int

const (
	// Unknown - error did not match any known category
	Unknown FailureType = iota

	// Timeout - operation exceeded its deadline
	Timeout

	// Connection - the backend was unreachable or dropped the connection
	Connection

	// Authentication - credentials rejected; never transient
	Authentication

	// Query - malformed statement or constraint violation; never transient
	Query
)

// String returns the string representation of the failure type
func (t FailureType) String() string {
	switch t {
	case Timeout:
		return "timeout"
	case Connection:
		return "connection"
	case Authentication:
		return "authentication"
	case Query:
		return "query"
	default:
		return "unknown"
	}
}

// Transient reports whether failures of this type may succeed on retry.
// Authentication and query failures are deterministic: retrying or falling
// back only wastes the fallback path.
func (t FailureType) Transient() bool {
	switch t {
	case Authentication, Query:
		return false
	default:
		return true
	}
}

// connectionMarkers are message fragments that indicate a broken transport
// when no structured error type is available.
var connectionMarkers = []string{
	"connection refused",
	"connection reset",
	"network unreachable",
	"no such host",
	"broken pipe",
	"server closed the connection",
	"connection lost",
	"too many connections",
}

var authMarkers = []string{
	"authentication failed",
	"password authentication",
	"permission denied",
	"access denied",
}

var queryMarkers = []string{
	"syntax error",
	"constraint",
	"duplicate key",
	"undefined column",
	"undefined table",
}

// Classify assigns an error to a failure category. It is a pure, total
// function: nil and unrecognized errors both map to Unknown without
// side effects.
func Classify(err error) FailureType {
	if err == nil {
		return Unknown
	}

	// Deadline and cancellation first: a timed-out query may also carry
	// connection-flavored text, and the deadline is the more useful signal.
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout
	}

	// Structured Postgres errors carry a SQLSTATE code.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyCode(pgErr.Code)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return Connection
	}

	return classifyMessage(err.Error())
}

// classifyCode maps a SQLSTATE code to a failure category.
func classifyCode(code string) FailureType {
	switch {
	case code == pgerrcode.QueryCanceled:
		return Timeout
	case pgerrcode.IsConnectionException(code):
		return Connection
	case pgerrcode.IsInvalidAuthorizationSpecification(code):
		return Authentication
	case code == pgerrcode.InsufficientPrivilege:
		return Authentication
	case pgerrcode.IsSyntaxErrororAccessRuleViolation(code),
		pgerrcode.IsIntegrityConstraintViolation(code),
		pgerrcode.IsDataException(code):
		return Query
	default:
		return Unknown
	}
}

// classifyMessage falls back to substring heuristics for drivers that only
// surface flat error strings.
func classifyMessage(msg string) FailureType {
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
		return Timeout
	}
	for _, marker := range connectionMarkers {
		if strings.Contains(lower, marker) {
			return Connection
		}
	}
	for _, marker := range authMarkers {
		if strings.Contains(lower, marker) {
			return Authentication
		}
	}
	for _, marker := range queryMarkers {
		if strings.Contains(lower, marker) {
			return Query
		}
	}
	return Unknown
}
