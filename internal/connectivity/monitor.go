// Package connectivity tracks whether the backend is reachable.
//
// A device can be attached to a network that does not reach the internet
// (a captive portal, a dead uplink). Such a network counts as Offline: the
// HTTP prober only reports Online when the probe URL answers with the exact
// expected status.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the reachability of the backend.
type Status int

const (
	Offline Status = iota
	Online
)

func (s Status) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Prober performs one reachability check.
type Prober interface {
	Probe(ctx context.Context) Status
}

// DefaultInterval is how often Run probes when no interval is configured.
const DefaultInterval = 15 * time.Second

// Monitor holds the current status and notifies subscribers on transitions.
//
// Subscribers are called exactly once per observed transition; reporting the
// same status twice notifies nobody. Callbacks run synchronously on the
// reporting goroutine, in subscription order, and must not call Report.
//
// Thread-safety: Monitor is safe for concurrent use.
type Monitor struct {
	prober   Prober
	interval time.Duration

	// notifyMu serializes Report so transitions are delivered in order.
	notifyMu sync.Mutex

	mu       sync.Mutex
	observed Status
	forced   bool
	subs     []subscription
	nextSub  int
}

type subscription struct {
	id int
	fn func(Status)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the polling interval used by Run.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMonitor creates a monitor that starts Offline. prober may be nil if
// the caller only feeds observations through Report.
func NewMonitor(prober Prober, opts ...Option) *Monitor {
	m := &Monitor{prober: prober, interval: DefaultInterval, observed: Offline}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns the effective status. A forced-offline monitor is always
// Offline.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effective()
}

func (m *Monitor) effective() Status {
	if m.forced {
		return Offline
	}
	return m.observed
}

// Subscribe registers fn for status transitions and returns a function that
// removes it. The unsubscribe function is idempotent.
func (m *Monitor) Subscribe(fn func(Status)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Report records an observed status and notifies subscribers if the
// effective status changed.
func (m *Monitor) Report(s Status) {
	m.update(func() { m.observed = s })
}

// ForceOffline pins the monitor Offline regardless of observations, or
// releases the pin. Releasing it while the network is up is an
// Offline→Online transition.
func (m *Monitor) ForceOffline(force bool) {
	m.update(func() { m.forced = force })
}

// Forced reports whether ForceOffline is in effect.
func (m *Monitor) Forced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forced
}

func (m *Monitor) update(change func()) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	before := m.effective()
	change()
	after := m.effective()
	subs := append([]subscription(nil), m.subs...)
	m.mu.Unlock()

	if before == after {
		return
	}
	slog.Info("connectivity changed", "from", before, "to", after)
	for _, s := range subs {
		s.fn(after)
	}
}

// Check probes once and reports the result.
func (m *Monitor) Check(ctx context.Context) Status {
	if m.prober == nil {
		return m.Status()
	}
	m.Report(m.prober.Probe(ctx))
	return m.Status()
}

// Run probes immediately and then every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
