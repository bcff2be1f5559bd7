package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ntbankey/db-resilience/internal/breaker"
	"github.com/ntbankey/db-resilience/internal/classify"
	"github.com/ntbankey/db-resilience/internal/driver"
	"github.com/ntbankey/db-resilience/internal/middleware"
	"github.com/ntbankey/db-resilience/internal/pool"
	"github.com/ntbankey/db-resilience/internal/resilientdb"
)

func newTestDB(t *testing.T) (*resilientdb.DB, *breaker.CircuitBreaker) {
	t.Helper()

	p := pool.New(driver.FakeConnector(nil), pool.Config{
		Name:           t.Name(),
		MaxConnections: 2,
		AcquireTimeout: time.Second,
	})
	t.Cleanup(func() { p.GracefulShutdown(time.Second) })

	cb := breaker.New(t.Name(), breaker.Config{})
	return resilientdb.New(p, cb, nil), cb
}

func TestReadinessHandler(t *testing.T) {
	db, cb := newTestDB(t)
	handler := middleware.ReadinessHandler(db)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	cb.ForceState(breaker.StateOpen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"status":"degraded"}`, rec.Body.String())
}

func TestHealthHandlerReportsMetrics(t *testing.T) {
	db, _ := newTestDB(t)

	_, err := db.ExecuteQuery(context.Background(), "SELECT 1", nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	middleware.HealthHandler(db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report resilientdb.HealthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.True(t, report.Healthy)
	assert.Equal(t, uint64(1), report.Breaker.TotalRequests)
	assert.Equal(t, uint64(1), report.Pool.TotalLeasesGranted)
}

func TestHealthHandlerDegraded(t *testing.T) {
	db, cb := newTestDB(t)
	cb.ForceState(breaker.StateOpen)

	rec := httptest.NewRecorder()
	middleware.HealthHandler(db).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report resilientdb.HealthReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.False(t, report.Healthy)
}

func TestRequireHealthy(t *testing.T) {
	db, cb := newTestDB(t)
	nextCalled := false
	handler := middleware.RequireHealthy(db, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, nextCalled)

	cb.ForceState(breaker.StateOpen)
	nextCalled = false

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("Retry-After"))
	assert.False(t, nextCalled, "next handler must not run while degraded")
}

func unaryInfo() *grpc.UnaryServerInfo {
	return &grpc.UnaryServerInfo{FullMethod: "/test.Service/Call"}
}

func TestUnaryInterceptorPassesWhenHealthy(t *testing.T) {
	db, _ := newTestDB(t)
	interceptor := middleware.UnaryServerInterceptor(db)

	resp, err := interceptor(context.Background(), "req", unaryInfo(),
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return "resp", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "resp", resp)
}

func TestUnaryInterceptorRejectsWhenUnhealthy(t *testing.T) {
	db, cb := newTestDB(t)
	cb.ForceState(breaker.StateOpen)
	interceptor := middleware.UnaryServerInterceptor(db)

	handlerCalled := false
	_, err := interceptor(context.Background(), "req", unaryInfo(),
		func(ctx context.Context, req interface{}) (interface{}, error) {
			handlerCalled = true
			return nil, nil
		})

	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.False(t, handlerCalled, "handler must not run while degraded")
}

func TestUnaryInterceptorMapsErrors(t *testing.T) {
	db, _ := newTestDB(t)
	interceptor := middleware.UnaryServerInterceptor(db)

	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{
			name: "circuit open",
			err:  &breaker.CircuitBreakerError{Name: "db", State: breaker.StateOpen, Err: breaker.ErrCircuitOpen},
			want: codes.Unavailable,
		},
		{
			name: "acquisition timeout",
			err:  &pool.AcquisitionTimeoutError{OwnerTag: "query", Waited: time.Second},
			want: codes.ResourceExhausted,
		},
		{
			name: "operation timeout",
			err:  classify.Wrap(context.DeadlineExceeded),
			want: codes.DeadlineExceeded,
		},
		{
			name: "authentication",
			err:  classify.Wrap(errors.New(`FATAL: password authentication failed for user "app"`)),
			want: codes.PermissionDenied,
		},
		{
			name: "query",
			err:  classify.Wrap(errors.New(`ERROR: syntax error at or near "SELCT"`)),
			want: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := interceptor(context.Background(), "req", unaryInfo(),
				func(ctx context.Context, req interface{}) (interface{}, error) {
					return nil, tt.err
				})
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestUnaryInterceptorPassesThroughStatusErrors(t *testing.T) {
	db, _ := newTestDB(t)
	interceptor := middleware.UnaryServerInterceptor(db)

	original := status.Error(codes.NotFound, "no such row")
	_, err := interceptor(context.Background(), "req", unaryInfo(),
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, original
		})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestUnaryInterceptorLeavesUnknownErrorsAlone(t *testing.T) {
	db, _ := newTestDB(t)
	interceptor := middleware.UnaryServerInterceptor(db)

	boom := errors.New("something unrelated")
	_, err := interceptor(context.Background(), "req", unaryInfo(),
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, boom
		})
	assert.ErrorIs(t, err, boom)
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }

func TestStreamInterceptorRejectsWhenUnhealthy(t *testing.T) {
	db, cb := newTestDB(t)
	cb.ForceState(breaker.StateOpen)
	interceptor := middleware.StreamServerInterceptor(db)

	err := interceptor(nil, &fakeServerStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: "/test.Service/Stream"},
		func(srv interface{}, stream grpc.ServerStream) error {
			t.Fatal("handler must not run while degraded")
			return nil
		})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestStreamInterceptorMapsErrors(t *testing.T) {
	db, _ := newTestDB(t)
	interceptor := middleware.StreamServerInterceptor(db)

	err := interceptor(nil, &fakeServerStream{ctx: context.Background()},
		&grpc.StreamServerInfo{FullMethod: "/test.Service/Stream"},
		func(srv interface{}, stream grpc.ServerStream) error {
			return &pool.AcquisitionTimeoutError{OwnerTag: "stream", Waited: time.Second}
		})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}
