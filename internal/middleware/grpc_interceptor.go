package middleware

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ntbankey/db-resilience/internal/breaker"
	"github.com/ntbankey/db-resilience/internal/classify"
	"github.com/ntbankey/db-resilience/internal/pool"
	"github.com/ntbankey/db-resilience/internal/resilientdb"
)

// UnaryServerInterceptor rejects calls with codes.Unavailable while the
// database layer is unhealthy, and maps resilience errors escaping handlers
// to gRPC status codes.
func UnaryServerInterceptor(db *resilientdb.DB) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !db.Healthy() {
			return nil, status.Error(codes.Unavailable, "database temporarily unavailable")
		}

		resp, err := handler(ctx, req)
		if err != nil {
			return nil, toStatusError(err)
		}
		return resp, nil
	}
}

// StreamServerInterceptor is the stream counterpart of
// UnaryServerInterceptor.
func StreamServerInterceptor(db *resilientdb.DB) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if !db.Healthy() {
			return status.Error(codes.Unavailable, "database temporarily unavailable")
		}

		if err := handler(srv, ss); err != nil {
			return toStatusError(err)
		}
		return nil
	}
}

// toStatusError translates resilience-layer errors into gRPC status codes.
// Errors that already carry a status, and unrecognized errors, pass through.
func toStatusError(err error) error {
	if _, ok := err.(interface{ GRPCStatus() *status.Status }); ok {
		return err
	}

	var cbErr *breaker.CircuitBreakerError
	if errors.As(err, &cbErr) {
		return status.Error(codes.Unavailable, cbErr.Error())
	}

	var acqErr *pool.AcquisitionTimeoutError
	if errors.As(err, &acqErr) {
		return status.Error(codes.ResourceExhausted, acqErr.Error())
	}

	var toErr *classify.TimeoutError
	if errors.As(err, &toErr) {
		return status.Error(codes.DeadlineExceeded, toErr.Error())
	}

	var authErr *classify.AuthenticationError
	if errors.As(err, &authErr) {
		return status.Error(codes.PermissionDenied, authErr.Error())
	}

	var queryErr *classify.QueryError
	if errors.As(err, &queryErr) {
		return status.Error(codes.InvalidArgument, queryErr.Error())
	}

	return err
}
