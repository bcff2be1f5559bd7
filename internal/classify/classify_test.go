package classify_test

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ntbankey/db-resilience/internal/classify"
)

type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "dial tcp: i/o problem" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want classify.FailureType
	}{
		{"nil", nil, classify.Unknown},
		{"deadline exceeded", context.DeadlineExceeded, classify.Timeout},
		{"wrapped deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), classify.Timeout},
		{"net timeout", &fakeNetError{timeout: true}, classify.Timeout},
		{"timeout message", errors.New("statement timed out"), classify.Timeout},
		{"connection refused syscall", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), classify.Connection},
		{"connection reset message", errors.New("read: connection reset by peer"), classify.Connection},
		{"broken pipe", errors.New("write: broken pipe"), classify.Connection},
		{"auth message", errors.New("FATAL: password authentication failed for user \"app\""), classify.Authentication},
		{"syntax message", errors.New("ERROR: syntax error at or near \"SELCT\""), classify.Query},
		{"duplicate key message", errors.New("ERROR: duplicate key value violates unique constraint"), classify.Query},
		{"pg invalid password", &pgconn.PgError{Code: "28P01"}, classify.Authentication},
		{"pg insufficient privilege", &pgconn.PgError{Code: "42501"}, classify.Authentication},
		{"pg connection failure", &pgconn.PgError{Code: "08006"}, classify.Connection},
		{"pg syntax error", &pgconn.PgError{Code: "42601"}, classify.Query},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, classify.Query},
		{"pg query canceled", &pgconn.PgError{Code: "57014"}, classify.Timeout},
		{"unrecognized", errors.New("something odd happened"), classify.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransient(t *testing.T) {
	if classify.Authentication.Transient() {
		t.Error("authentication failures must not be transient")
	}
	if classify.Query.Transient() {
		t.Error("query failures must not be transient")
	}
	for _, ft := range []classify.FailureType{classify.Timeout, classify.Connection, classify.Unknown} {
		if !ft.Transient() {
			t.Errorf("%v should be transient", ft)
		}
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("read: connection reset by peer")
	wrapped := classify.Wrap(base)

	var connErr *classify.ConnectionError
	if !errors.As(wrapped, &connErr) {
		t.Fatalf("expected ConnectionError, got %T", wrapped)
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to the original")
	}

	// Unknown errors pass through untouched.
	odd := errors.New("something odd")
	if classify.Wrap(odd) != odd {
		t.Error("unknown errors should not be wrapped")
	}

	if classify.Wrap(nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestWrapTimeout(t *testing.T) {
	wrapped := classify.Wrap(fmt.Errorf("exec: %w", context.DeadlineExceeded))

	var toErr *classify.TimeoutError
	if !errors.As(wrapped, &toErr) {
		t.Fatalf("expected TimeoutError, got %T", wrapped)
	}
}
