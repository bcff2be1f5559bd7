// Package middleware exposes the resilience core's health surface to HTTP
// and gRPC servers. Handlers report; they never mutate core state.
package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/ntbankey/db-resilience/internal/resilientdb"
)

// HealthHandler serves the combined metrics report as JSON. Intended for
// dashboards and diagnostics, not liveness probes.
func HealthHandler(db *resilientdb.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := db.Metrics()

		w.Header().Set("Content-Type", "application/json")
		if !report.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			http.Error(w, "encoding health report failed", http.StatusInternalServerError)
		}
	})
}

// ReadinessHandler answers readiness probes with a bare status code: 200
// while both the breaker and the pool are healthy, 503 otherwise. The flip
// to 503 happens as soon as the breaker opens or the failure rate crosses
// the degraded threshold, before any caller observes an error.
func ReadinessHandler(db *resilientdb.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if db.Healthy() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded"}`))
	})
}

// RequireHealthy rejects requests with 503 while the database layer is
// unhealthy, shedding load before handlers touch the pool.
func RequireHealthy(db *resilientdb.DB, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !db.Healthy() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "10")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"database temporarily unavailable","retry_after":10}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
