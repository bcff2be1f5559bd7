package breaker

import (
	"context"
	"errors"

	"github.com/ntbankey/db-resilience/internal/classify"
)

// FallbackFunc provides alternative behavior when the primary operation
// fails or the circuit rejects it.
type FallbackFunc func(ctx context.Context, cause error) error

// ExecuteWithFallback runs op through the circuit breaker, invoking fallback
// when op fails or the circuit rejects the call.
//
// Fallback policy: authentication and query failures are deterministic, so
// the fallback is never attempted for them; the classified error propagates
// unchanged. A failing fallback is wrapped in a CircuitBreakerError rather
// than silently replacing the primary error.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, op func(context.Context) error, fallback FallbackFunc) error {
	err := cb.Execute(ctx, op)
	if err == nil {
		return nil
	}
	if fallback == nil || !fallbackEligible(err) {
		return err
	}

	if fbErr := fallback(ctx, err); fbErr != nil {
		return &CircuitBreakerError{
			Name:     cb.name,
			State:    cb.State(),
			Snapshot: cb.Metrics(),
			At:       cb.cfg.Clock(),
			Err:      fbErr,
		}
	}
	return nil
}

// ExecuteValue is a generic variant of Execute that returns a value.
func ExecuteValue[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// ExecuteValueWithFallback is a generic variant of ExecuteWithFallback.
func ExecuteValueWithFallback[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error), fallback func(context.Context, error) (T, error)) (T, error) {
	result, err := ExecuteValue(ctx, cb, op)
	if err == nil {
		return result, nil
	}
	if fallback == nil || !fallbackEligible(err) {
		var zero T
		return zero, err
	}

	fbResult, fbErr := fallback(ctx, err)
	if fbErr != nil {
		var zero T
		return zero, &CircuitBreakerError{
			Name:     cb.name,
			State:    cb.State(),
			Snapshot: cb.Metrics(),
			At:       cb.cfg.Clock(),
			Err:      fbErr,
		}
	}
	return fbResult, nil
}

// fallbackEligible reports whether the error's classification permits a
// fallback. Circuit rejections are eligible: fast-failing into a fallback is
// the point of supplying one.
func fallbackEligible(err error) bool {
	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return true
	}
	return classify.Classify(err).Transient()
}
