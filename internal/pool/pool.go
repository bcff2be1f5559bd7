// Package pool manages a bounded set of database connections handed out as
// exclusive leases. Saturated acquisition blocks on the idle channel rather
// than polling; releasing a lease unblocks exactly one waiter.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ntbankey/db-resilience/internal/connstate"
	"github.com/ntbankey/db-resilience/internal/driver"
)

// Config holds configuration for the pool. Zero-valued fields take defaults.
type Config struct {
	// Name labels this pool in logs and metrics.
	Name string

	// MaxConnections bounds the number of simultaneously leased connections.
	MaxConnections int

	// AcquireTimeout is the default wait bound when the pool is saturated
	// and the caller's context carries no deadline.
	AcquireTimeout time.Duration

	// LeaseTimeout sets each lease's advisory expiry.
	LeaseTimeout time.Duration

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics receives Prometheus observations when non-nil.
	Metrics *Metrics

	// Clock overrides the time source. Used by tests; defaults to time.Now.
	Clock func() time.Time
}

func (c Config) merge() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 10
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Statistics is a point-in-time view of pool accounting. Outside an
// in-flight acquire or release, TotalLeasesGranted - TotalLeasesReleased
// equals ActiveLeases.
type Statistics struct {
	ActiveLeases        int
	TotalConnections    int
	IdleConnections     int
	WaitingAcquires     int
	TotalLeasesGranted  uint64
	TotalLeasesReleased uint64
	ForcedReclaims      uint64
	Shutdown            bool
}

// Manager owns the bounded connection set and grants leases.
type Manager struct {
	cfg       Config
	connector driver.Connector

	idle      chan *entry
	releaseCh chan struct{}

	mu       sync.Mutex
	entries  map[*entry]struct{}
	creating int
	active   map[uuid.UUID]*Lease
	waiters  int
	granted  uint64
	released uint64
	forced   uint64
	down     bool
}

// New creates a pool over the given connector. Connections are established
// lazily, on first demand.
func New(connector driver.Connector, config Config) *Manager {
	cfg := config.merge()
	return &Manager{
		cfg:       cfg,
		connector: connector,
		idle:      make(chan *entry, cfg.MaxConnections),
		releaseCh: make(chan struct{}, 1),
		entries:   make(map[*entry]struct{}),
		active:    make(map[uuid.UUID]*Lease),
	}
}

// AcquireLease grants an exclusive lease on a pooled connection. When the
// pool is saturated the call blocks until a lease is released or the
// deadline passes; a context without a deadline gets the configured
// AcquireTimeout. A timed-out caller holds no lease and must not release.
func (p *Manager) AcquireLease(ctx context.Context, ownerTag string) (*Lease, error) {
	start := p.cfg.Clock()

	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	for {
		// Fast path: an idle connection is available.
		select {
		case e := <-p.idle:
			if lease := p.grant(e, ownerTag, start); lease != nil {
				return lease, nil
			}
			continue
		default:
		}

		// Headroom: open a new connection.
		e, created, err := p.tryCreate(ctx)
		if err != nil {
			return nil, err
		}
		if created {
			if lease := p.grant(e, ownerTag, start); lease != nil {
				return lease, nil
			}
			continue
		}

		// Saturated: block until a release or the deadline. This is the
		// backpressure point; no busy-waiting.
		p.addWaiter(1)
		select {
		case e := <-p.idle:
			p.addWaiter(-1)
			if lease := p.grant(e, ownerTag, start); lease != nil {
				return lease, nil
			}
			continue
		case <-ctx.Done():
			p.addWaiter(-1)
			waited := p.cfg.Clock().Sub(start)
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.acquireTimeouts.WithLabelValues(p.cfg.Name).Inc()
			}
			return nil, &AcquisitionTimeoutError{OwnerTag: ownerTag, Waited: waited}
		}
	}
}

// Statistics returns a snapshot of the pool counters.
func (p *Manager) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Statistics{
		ActiveLeases:        len(p.active),
		TotalConnections:    len(p.entries) + p.creating,
		IdleConnections:     len(p.idle),
		WaitingAcquires:     p.waiters,
		TotalLeasesGranted:  p.granted,
		TotalLeasesReleased: p.released,
		ForcedReclaims:      p.forced,
		Shutdown:            p.down,
	}
}

// Healthy reports whether the pool can still grant leases.
func (p *Manager) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.down
}

// GracefulShutdown stops granting leases, waits up to timeout for
// outstanding leases to drain, then forcibly reclaims the rest and closes
// every connection. After it returns, active leases and open connections are
// both zero. Safe to call more than once.
func (p *Manager) GracefulShutdown(timeout time.Duration) {
	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		return
	}
	p.down = true
	p.mu.Unlock()

	p.cfg.Logger.Info("pool shutdown started",
		zap.String("pool", p.cfg.Name),
		zap.Duration("timeout", timeout),
	)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

waitLoop:
	for {
		p.mu.Lock()
		remaining := len(p.active)
		p.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-p.releaseCh:
		case <-timer.C:
			break waitLoop
		}
	}

	// Force-reclaim whatever is still out.
	p.mu.Lock()
	stragglers := make([]*Lease, 0, len(p.active))
	for _, l := range p.active {
		stragglers = append(stragglers, l)
	}
	p.mu.Unlock()

	now := p.cfg.Clock()
	for _, l := range stragglers {
		p.cfg.Logger.Warn("forcibly reclaiming lease",
			zap.String("pool", p.cfg.Name),
			zap.String("lease", l.ID.String()),
			zap.String("owner", l.OwnerTag),
			zap.Bool("expired", l.Expired(now)),
		)
		p.release(l, true)
	}

	// Close the idle set.
	for {
		select {
		case e := <-p.idle:
			p.dropEntry(e, "pool shutdown")
		default:
			p.cfg.Logger.Info("pool shutdown complete", zap.String("pool", p.cfg.Name))
			return
		}
	}
}

// tryCreate opens a new connection when the pool has headroom. Returns
// created=false without error when the pool is at its bound.
func (p *Manager) tryCreate(ctx context.Context) (*entry, bool, error) {
	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	if len(p.entries)+p.creating >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.creating++
	p.mu.Unlock()

	machine := connstate.NewWithClock(p.cfg.Clock)
	conn, err := p.connector.Connect(ctx)
	if err != nil {
		p.mu.Lock()
		p.creating--
		p.mu.Unlock()
		return nil, false, err
	}
	if err := machine.Transition("connect", connstate.StateConnected, "connection established"); err != nil {
		p.mu.Lock()
		p.creating--
		p.mu.Unlock()
		return nil, false, err
	}
	if err := machine.Transition("ready", connstate.StateIdle, "entered pool"); err != nil {
		p.mu.Lock()
		p.creating--
		p.mu.Unlock()
		return nil, false, err
	}

	e := &entry{conn: conn, machine: machine}

	p.mu.Lock()
	p.creating--
	p.entries[e] = struct{}{}
	total := len(p.entries)
	p.mu.Unlock()

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.totalConnections.WithLabelValues(p.cfg.Name).Set(float64(total))
	}
	return e, true, nil
}

// grant wraps an entry in a lease. Returns nil when the entry turned out to
// be unusable (shut down mid-flight or no longer idle); the entry is dropped
// and the caller retries.
func (p *Manager) grant(e *entry, ownerTag string, start time.Time) *Lease {
	if e.machine.State() != connstate.StateIdle {
		p.dropEntry(e, "unusable at grant")
		return nil
	}

	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		p.dropEntry(e, "pool shutdown")
		return nil
	}

	now := p.cfg.Clock()
	lease := &Lease{
		ID:         uuid.New(),
		OwnerTag:   ownerTag,
		AcquiredAt: now,
		ExpiresAt:  now.Add(p.cfg.LeaseTimeout),
		pool:       p,
		entry:      e,
	}
	p.active[lease.ID] = lease
	p.granted++
	activeCount := len(p.active)
	p.mu.Unlock()

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.leasesGranted.WithLabelValues(p.cfg.Name).Inc()
		p.cfg.Metrics.activeLeases.WithLabelValues(p.cfg.Name).Set(float64(activeCount))
		p.cfg.Metrics.acquireWait.WithLabelValues(p.cfg.Name).Observe(now.Sub(start).Seconds())
	}
	return lease
}

// release returns a lease's connection to the pool. Idempotent per lease.
func (p *Manager) release(l *Lease, forcedReclaim bool) {
	if !l.markReleased() {
		return
	}

	p.mu.Lock()
	delete(p.active, l.ID)
	p.released++
	if forcedReclaim {
		p.forced++
	}
	down := p.down
	activeCount := len(p.active)
	p.mu.Unlock()

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.leasesReleased.WithLabelValues(p.cfg.Name).Inc()
		p.cfg.Metrics.activeLeases.WithLabelValues(p.cfg.Name).Set(float64(activeCount))
		if forcedReclaim {
			p.cfg.Metrics.forcedReclaims.WithLabelValues(p.cfg.Name).Inc()
		}
	}

	if forcedReclaim || down {
		p.dropEntry(l.entry, "pool shutdown")
	} else if !l.entry.machine.Healthy() {
		p.dropEntry(l.entry, "connection unhealthy")
	} else {
		// Capacity equals MaxConnections, so this never blocks.
		p.idle <- l.entry
	}

	select {
	case p.releaseCh <- struct{}{}:
	default:
	}
}

// dropEntry closes a connection and removes it from the pool.
func (p *Manager) dropEntry(e *entry, reason string) {
	e.machine.Shutdown(reason)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.conn.Close(ctx); err != nil {
		p.cfg.Logger.Warn("closing connection failed",
			zap.String("pool", p.cfg.Name),
			zap.Error(err),
		)
	}

	p.mu.Lock()
	delete(p.entries, e)
	total := len(p.entries)
	p.mu.Unlock()

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.totalConnections.WithLabelValues(p.cfg.Name).Set(float64(total))
	}
}

func (p *Manager) addWaiter(delta int) {
	p.mu.Lock()
	p.waiters += delta
	count := p.waiters
	p.mu.Unlock()
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.waiters.WithLabelValues(p.cfg.Name).Set(float64(count))
	}
}
