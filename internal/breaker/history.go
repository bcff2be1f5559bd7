package breaker

import (
	"sort"
	"time"

	"github.com/ntbankey/db-resilience/internal/classify"
)

// failureRecord is a single classified failure sample.
type failureRecord struct {
	ftype        classify.FailureType
	at           time.Time
	responseTime time.Duration
}

// history holds the bounded failure and response-time sample buffers.
// Memory stays O(maxFailures + maxSamples) regardless of request volume.
// Not safe for concurrent use; the breaker's mutex guards it.
type history struct {
	failures      []failureRecord
	responseTimes []time.Duration

	maxFailures int
	maxSamples  int
	maxAge      time.Duration
}

func newHistory(maxFailures, maxSamples int, maxAge time.Duration) *history {
	return &history{
		failures:      make([]failureRecord, 0, maxFailures),
		responseTimes: make([]time.Duration, 0, maxSamples),
		maxFailures:   maxFailures,
		maxSamples:    maxSamples,
		maxAge:        maxAge,
	}
}

// recordFailure appends a failure sample, evicting the oldest past the cap.
func (h *history) recordFailure(ftype classify.FailureType, now time.Time, rt time.Duration) {
	h.failures = append(h.failures, failureRecord{ftype: ftype, at: now, responseTime: rt})
	if len(h.failures) > h.maxFailures {
		h.failures = h.failures[len(h.failures)-h.maxFailures:]
	}
}

// recordResponseTime appends a latency sample, evicting the oldest past the cap.
func (h *history) recordResponseTime(rt time.Duration) {
	h.responseTimes = append(h.responseTimes, rt)
	if len(h.responseTimes) > h.maxSamples {
		h.responseTimes = h.responseTimes[len(h.responseTimes)-h.maxSamples:]
	}
}

// prune evicts failure samples older than maxAge. Called opportunistically
// from the record path rather than from a dedicated timer.
func (h *history) prune(now time.Time) {
	cutoff := now.Add(-h.maxAge)
	firstValid := 0
	for ; firstValid < len(h.failures); firstValid++ {
		if h.failures[firstValid].at.After(cutoff) {
			break
		}
	}
	if firstValid > 0 {
		h.failures = append(h.failures[:0], h.failures[firstValid:]...)
	}
}

// failuresSince counts failure samples newer than the cutoff.
func (h *history) failuresSince(cutoff time.Time) int {
	n := 0
	for _, f := range h.failures {
		if f.at.After(cutoff) {
			n++
		}
	}
	return n
}

// reset clears both buffers.
func (h *history) reset() {
	h.failures = h.failures[:0]
	h.responseTimes = h.responseTimes[:0]
}

// Percentiles holds response-time percentiles computed over the bounded
// sample window.
type Percentiles struct {
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// percentiles computes p50/p90/p95/p99 over the current samples. Returns the
// zero value when no samples have been recorded.
func (h *history) percentiles() Percentiles {
	n := len(h.responseTimes)
	if n == 0 {
		return Percentiles{}
	}

	sorted := make([]time.Duration, n)
	copy(sorted, h.responseTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(q float64) time.Duration {
		idx := int(q*float64(n)+0.5) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return sorted[idx]
	}

	return Percentiles{
		P50: at(0.50),
		P90: at(0.90),
		P95: at(0.95),
		P99: at(0.99),
	}
}
