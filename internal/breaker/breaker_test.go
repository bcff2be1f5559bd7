package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ntbankey/db-resilience/internal/breaker"
	"github.com/ntbankey/db-resilience/internal/classify"
)

func failing(err error) func(context.Context) error {
	return func(ctx context.Context) error { return err }
}

func succeeding() func(context.Context) error {
	return func(ctx context.Context) error { return nil }
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := breaker.New("test", breaker.Config{FailureThreshold: 3})

	for i := 0; i < 5; i++ {
		if err := cb.Execute(context.Background(), succeeding()); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	if state := cb.State(); state != breaker.StateClosed {
		t.Errorf("expected closed, got %v", state)
	}
	if !cb.Healthy() {
		t.Error("expected healthy")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := breaker.New("test", breaker.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Second,
	})

	testErr := errors.New("backend broken")
	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), failing(testErr))
	}

	if state := cb.State(); state != breaker.StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", state)
	}

	m := cb.Metrics()
	if m.CircuitOpenCount != 1 {
		t.Errorf("expected circuit open count 1, got %d", m.CircuitOpenCount)
	}
	if m.TotalFailures != 3 {
		t.Errorf("expected 3 failures, got %d", m.TotalFailures)
	}
	if cb.Healthy() {
		t.Error("open breaker must not report healthy")
	}

	// Continued failures while open must not bump the open count again.
	cb.Execute(context.Background(), failing(testErr))
	if m := cb.Metrics(); m.CircuitOpenCount != 1 {
		t.Errorf("open count should stay 1, got %d", m.CircuitOpenCount)
	}
}

func TestBreakerFastFailWhileOpen(t *testing.T) {
	cb := breaker.New("test", breaker.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  100 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), failing(errors.New("boom")))
	}

	// Inside the recovery timeout: rejected without invoking the operation.
	time.Sleep(50 * time.Millisecond)
	invoked := false
	start := time.Now()
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	})
	elapsed := time.Since(start)

	var cbErr *breaker.CircuitBreakerError
	if !errors.As(err, &cbErr) {
		t.Fatalf("expected CircuitBreakerError, got %v", err)
	}
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Error("rejection should carry ErrCircuitOpen")
	}
	if invoked {
		t.Error("operation must not be invoked while open")
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("fast-fail took %v", elapsed)
	}
	if cbErr.State != breaker.StateOpen {
		t.Errorf("error should carry open state, got %v", cbErr.State)
	}
	if cbErr.Snapshot.ConsecutiveFailures != 3 {
		t.Errorf("snapshot should carry counters, got %d", cbErr.Snapshot.ConsecutiveFailures)
	}

	// Past the recovery timeout: the next call goes through as a probe.
	time.Sleep(100 * time.Millisecond)
	invoked = false
	if err := cb.Execute(context.Background(), func(ctx context.Context) error {
		invoked = true
		return nil
	}); err != nil {
		t.Errorf("probe should run: %v", err)
	}
	if !invoked {
		t.Error("probe must invoke the operation")
	}
	if state := cb.State(); state != breaker.StateHalfOpen {
		t.Errorf("expected half-open after one probe success, got %v", state)
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := breaker.New("test", breaker.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
		SuccessThreshold: 2,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), failing(errors.New("boom")))
	}
	time.Sleep(80 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), succeeding()); err != nil {
			t.Fatalf("half-open probe %d failed: %v", i, err)
		}
	}

	if state := cb.State(); state != breaker.StateClosed {
		t.Fatalf("expected closed after success threshold, got %v", state)
	}
	m := cb.Metrics()
	if m.ConsecutiveFailures != 0 || m.ConsecutiveSuccesses != 0 {
		t.Errorf("counters should reset on close, got %d/%d", m.ConsecutiveFailures, m.ConsecutiveSuccesses)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := breaker.New("test", breaker.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), failing(errors.New("boom")))
	}
	time.Sleep(80 * time.Millisecond)

	cb.Execute(context.Background(), failing(errors.New("still broken")))

	if state := cb.State(); state != breaker.StateOpen {
		t.Errorf("expected open after probe failure, got %v", state)
	}
	if m := cb.Metrics(); m.CircuitOpenCount != 2 {
		t.Errorf("expected second opening, got %d", m.CircuitOpenCount)
	}
}

func TestBreakerHalfOpenProbeLimit(t *testing.T) {
	cb := breaker.New("test", breaker.Config{
		FailureThreshold:    2,
		RecoveryTimeout:     50 * time.Millisecond,
		HalfOpenMaxAttempts: 1,
		SuccessThreshold:    2,
	})

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), failing(errors.New("boom")))
	}
	time.Sleep(80 * time.Millisecond)

	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- cb.Execute(context.Background(), func(ctx context.Context) error {
			close(probeStarted)
			<-probeRelease
			return nil
		})
	}()

	<-probeStarted

	// Second call exceeds the probe budget and fails fast.
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		t.Error("excess probe must not run")
		return nil
	})
	if !errors.Is(err, breaker.ErrTooManyProbes) {
		t.Errorf("expected ErrTooManyProbes, got %v", err)
	}

	close(probeRelease)
	if err := <-probeDone; err != nil {
		t.Errorf("probe should succeed: %v", err)
	}
}

func TestBreakerTimeoutRecordedAsTimeout(t *testing.T) {
	cb := breaker.New("test", breaker.Config{
		FailureThreshold: 10,
		TimeoutThreshold: 50 * time.Millisecond,
	})

	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(500 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	var toErr *classify.TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}

	m := cb.Metrics()
	if m.TimeoutCount != 1 {
		t.Errorf("expected timeout count 1, got %d", m.TimeoutCount)
	}
	if m.FailuresByType["timeout"] != 1 {
		t.Errorf("expected timeout in failure breakdown, got %v", m.FailuresByType)
	}
}

func TestBreakerClassifiedFailureBreakdown(t *testing.T) {
	cb := breaker.New("test", breaker.Config{FailureThreshold: 10})

	cb.Execute(context.Background(), failing(errors.New("read: connection reset by peer")))
	cb.Execute(context.Background(), failing(errors.New("ERROR: syntax error at or near \"SELCT\"")))
	cb.Execute(context.Background(), failing(errors.New("mystery")))

	m := cb.Metrics()
	if m.FailuresByType["connection"] != 1 {
		t.Errorf("expected one connection failure, got %v", m.FailuresByType)
	}
	if m.FailuresByType["query"] != 1 {
		t.Errorf("expected one query failure, got %v", m.FailuresByType)
	}
	if m.FailuresByType["unknown"] != 1 {
		t.Errorf("expected one unknown failure, got %v", m.FailuresByType)
	}
}

func TestBreakerDegradedModeUnhealthy(t *testing.T) {
	cb := breaker.New("test", breaker.Config{
		FailureThreshold:    100, // stay closed
		DegradedFailureRate: 0.5,
		MonitoringPeriod:    time.Minute,
	})

	cb.Execute(context.Background(), succeeding())
	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), failing(errors.New("boom")))
	}

	if state := cb.State(); state != breaker.StateClosed {
		t.Fatalf("breaker should still be closed, got %v", state)
	}
	if cb.Healthy() {
		t.Error("failure rate 0.75 must report unhealthy even while closed")
	}
}

func TestBreakerReset(t *testing.T) {
	cb := breaker.New("test", breaker.Config{FailureThreshold: 1})

	cb.Execute(context.Background(), failing(errors.New("boom")))
	if state := cb.State(); state != breaker.StateOpen {
		t.Fatalf("expected open, got %v", state)
	}

	cb.Reset()

	if state := cb.State(); state != breaker.StateClosed {
		t.Errorf("expected closed after reset, got %v", state)
	}
	m := cb.Metrics()
	if m.TotalRequests != 0 || m.TotalFailures != 0 || m.CircuitOpenCount != 0 {
		t.Errorf("reset should clear counters: %+v", m)
	}
	if err := cb.Execute(context.Background(), succeeding()); err != nil {
		t.Errorf("breaker should work after reset: %v", err)
	}
}

func TestBreakerForceState(t *testing.T) {
	cb := breaker.New("test", breaker.Config{})

	cb.ForceState(breaker.StateOpen)
	if state := cb.State(); state != breaker.StateOpen {
		t.Errorf("expected forced open, got %v", state)
	}

	err := cb.Execute(context.Background(), succeeding())
	var cbErr *breaker.CircuitBreakerError
	if !errors.As(err, &cbErr) {
		t.Errorf("forced-open breaker should reject, got %v", err)
	}

	cb.ForceState(breaker.StateClosed)
	if err := cb.Execute(context.Background(), succeeding()); err != nil {
		t.Errorf("forced-closed breaker should accept: %v", err)
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var changes []string
	cb := breaker.New("test", breaker.Config{
		FailureThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
		SuccessThreshold: 1,
		OnStateChange: func(name string, from, to breaker.State) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	})

	cb.Execute(context.Background(), failing(errors.New("boom")))
	cb.Execute(context.Background(), failing(errors.New("boom")))
	time.Sleep(80 * time.Millisecond)
	cb.Execute(context.Background(), succeeding())

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(changes) != len(want) {
		t.Fatalf("expected %v, got %v", want, changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d: expected %s, got %s", i, want[i], changes[i])
		}
	}
}

func BenchmarkBreakerClosed(b *testing.B) {
	cb := breaker.New("bench", breaker.Config{})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(ctx, succeeding())
	}
}

func BenchmarkBreakerOpen(b *testing.B) {
	cb := breaker.New("bench", breaker.Config{FailureThreshold: 1})
	ctx := context.Background()
	cb.Execute(ctx, failing(errors.New("boom")))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(ctx, succeeding())
	}
}
