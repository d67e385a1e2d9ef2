package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/djsync/internal/connectivity"
	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/store"
)

// Remote is the subset of the backend API the engine sends mutations
// through. *remote.Client implements it.
type Remote interface {
	CreateJournal(ctx context.Context, j model.Journal, nonce string) (model.Journal, error)
	UpdateJournal(ctx context.Context, j model.Journal) (model.Journal, error)
	DeleteJournal(ctx context.Context, id model.ID) error
	ListJournals(ctx context.Context) ([]model.Journal, error)

	CreateEntry(ctx context.Context, e model.Entry, files []model.Attachment, nonce string) (model.Entry, error)
	UpdateEntry(ctx context.Context, e model.Entry, files []model.Attachment) (model.Entry, error)
	DeleteEntry(ctx context.Context, id model.ID) error
	ListEntries(ctx context.Context, journalID model.ID) ([]model.Entry, error)
}

// Connectivity reports reachability. *connectivity.Monitor implements it.
type Connectivity interface {
	Status() connectivity.Status
	Subscribe(fn func(connectivity.Status)) (unsubscribe func())
}

const (
	// DefaultInitialBackoff is the first retry delay after a network failure.
	DefaultInitialBackoff = time.Second

	// DefaultMaxBackoff caps the retry delay.
	DefaultMaxBackoff = time.Minute

	// DefaultRefreshInterval throttles mirror refreshes from the server.
	DefaultRefreshInterval = time.Hour
)

// Engine drains the mutation queue to the server.
//
// The engine sends one mutation at a time in queue order. Only one drain
// runs at any moment: Run and DrainOnce share a re-entrancy guard, and
// triggers that arrive while a drain is running are absorbed by it.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine
//   - SyncNow(), DrainOnce(), State(), InFlight(): safe from any goroutine
//
// INVARIANTS:
//   - A mutation is dequeued only after the server confirmed it, in the
//     same transaction that reconciles its ids.
//   - InFlight() names the mutation on the wire; it is set and cleared
//     under the store's write lock.
type Engine struct {
	store  *store.Store
	remote Remote
	conn   Connectivity
	clock  Clock

	trigger  *trigger
	rearm    *trigger
	draining atomic.Bool

	mu           sync.Mutex
	state        State
	inFlight     int64
	retry        <-chan time.Time
	authNotified bool
	backoff      *backoff.ExponentialBackOff

	initialBackoff  time.Duration
	maxBackoff      time.Duration
	refreshInterval time.Duration

	registerer     prometheus.Registerer
	metrics        *metrics
	onAuthRequired func()
	onFailed       func(m model.Mutation, reason FailureReason, message string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for timers and throttling.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithBackoff sets the retry delay bounds for network failures.
func WithBackoff(initial, max time.Duration) Option {
	return func(e *Engine) {
		e.initialBackoff = initial
		e.maxBackoff = max
	}
}

// WithRefreshInterval sets how stale the mirror may get before a drain
// refreshes it from the server. Zero disables automatic refresh.
func WithRefreshInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.refreshInterval = d
	}
}

// WithRegisterer registers the engine's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// WithOnAuthRequired sets a callback invoked once each time draining
// pauses on an authentication failure.
func WithOnAuthRequired(fn func()) Option {
	return func(e *Engine) {
		e.onAuthRequired = fn
	}
}

// WithOnFailed sets a callback invoked for every mutation moved to the
// failed list.
func WithOnFailed(fn func(m model.Mutation, reason FailureReason, message string)) Option {
	return func(e *Engine) {
		e.onFailed = fn
	}
}

// New creates an Engine. Call Run to start draining.
func New(s *store.Store, r Remote, c Connectivity, opts ...Option) *Engine {
	e := &Engine{
		store:           s,
		remote:          r,
		conn:            c,
		clock:           SystemClock{},
		trigger:         newTrigger(),
		rearm:           newTrigger(),
		state:           Idle,
		initialBackoff:  DefaultInitialBackoff,
		maxBackoff:      DefaultMaxBackoff,
		refreshInterval: DefaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(e)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialBackoff
	b.MaxInterval = e.maxBackoff
	b.MaxElapsedTime = 0 // retry forever; the queue must drain eventually
	b.Clock = e.clock
	b.Reset()
	e.backoff = b

	e.metrics = newMetrics(e.registerer)
	return e
}

// Run drains on every Offline→Online transition, manual trigger and
// backoff expiry until ctx is cancelled. If the network is already up, it
// drains once at startup so mutations left by a previous process go out.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("sync engine starting")

	unsubscribe := e.conn.Subscribe(func(s connectivity.Status) {
		if s == connectivity.Online {
			e.trigger.Fire()
		}
	})
	defer unsubscribe()

	if e.conn.Status() == connectivity.Online {
		e.trigger.Fire()
	}

	var tick <-chan time.Time
	if e.refreshInterval > 0 {
		tick = e.clock.After(e.refreshInterval)
	}

	for {
		e.mu.Lock()
		retry := e.retry
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			slog.Info("sync engine stopping")
			return ctx.Err()
		case <-e.rearm.Wait():
			continue
		case <-e.trigger.Wait():
		case <-retry:
			slog.Debug("backoff expired")
		case <-tick:
			tick = e.clock.After(e.refreshInterval)
		}
		e.drain(ctx)
	}
}

// SyncNow requests a drain from the Run loop. Non-blocking.
func (e *Engine) SyncNow() {
	e.trigger.Fire()
}

// DrainOnce drains synchronously on the caller's goroutine. It returns
// ErrBusy if a drain is already running. Failures of individual mutations
// are not returned; they are reflected in State, the queue and the failed
// list.
func (e *Engine) DrainOnce(ctx context.Context) error {
	if !e.drain(ctx) {
		return ErrBusy
	}
	return nil
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// InFlight returns the seq of the mutation currently on the wire, or 0.
//
// Callers that cancel queued mutations read it inside a store transaction;
// the engine sets and clears it under the same lock.
func (e *Engine) InFlight() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// PendingCount returns the number of queued mutations.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	return e.store.Len(ctx)
}

// ResumeAfterAuth leaves AuthPaused after a successful login and requests
// a drain.
func (e *Engine) ResumeAfterAuth() {
	e.mu.Lock()
	resumed := e.state == AuthPaused
	if resumed {
		e.setStateLocked(Idle)
	}
	e.authNotified = false
	e.mu.Unlock()

	if resumed {
		slog.Info("sync resumed after authentication")
	}
	e.trigger.Fire()
}

// drain runs one drain pass. It returns false without doing anything if
// another pass is running.
func (e *Engine) drain(ctx context.Context) bool {
	if !e.draining.CompareAndSwap(false, true) {
		return false
	}
	defer e.draining.Store(false)
	e.metrics.drains.Inc()

	e.mu.Lock()
	if e.state == AuthPaused {
		e.mu.Unlock()
		slog.Debug("drain skipped: waiting for authentication")
		return true
	}
	e.retry = nil
	e.setStateLocked(Draining)
	e.mu.Unlock()

	next := e.drainQueue(ctx)
	if next == Idle {
		e.backoff.Reset()
	}
	e.setState(next)
	e.updatePending(ctx)
	return true
}

// drainQueue sends mutations until the queue is empty or a send stops the
// pass, and returns the state to settle in.
func (e *Engine) drainQueue(ctx context.Context) State {
	for {
		if ctx.Err() != nil {
			return Idle
		}
		if e.conn.Status() != connectivity.Online {
			slog.Info("offline, drain paused")
			return Idle
		}

		e.trigger.Clear()
		m, ok, err := e.claimHead(ctx)
		if err != nil {
			slog.Error("read queue head", "error", err)
			return e.enterBackoff()
		}
		if !ok {
			e.maybeRefresh(ctx)
			if e.State() == AuthPaused {
				return AuthPaused
			}
			return Idle
		}

		switch e.process(ctx, m) {
		case stepNext:
			continue
		case stepBackoff:
			return e.enterBackoff()
		case stepAuth:
			e.pauseForAuth()
			return AuthPaused
		}
	}
}

// claimHead peeks the head of the queue and marks it in flight in the same
// store transaction, so the write path never cancels a mutation that is
// about to go on the wire.
func (e *Engine) claimHead(ctx context.Context) (model.Mutation, bool, error) {
	var (
		m  model.Mutation
		ok bool
	)
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		m, ok, err = tx.PeekNext(ctx)
		if err != nil || !ok {
			return err
		}
		e.setInFlight(m.Seq)
		return nil
	})
	if err != nil {
		return model.Mutation{}, false, fmt.Errorf("claim head: %w", err)
	}
	return m, ok, nil
}

// release clears the in-flight marker under the store's write lock.
func (e *Engine) release(ctx context.Context) {
	err := e.store.Update(context.WithoutCancel(ctx), func(*store.Tx) error {
		e.setInFlight(0)
		return nil
	})
	if err != nil {
		// The marker must never stay set; clear it without the lock.
		e.setInFlight(0)
	}
}

func (e *Engine) setInFlight(seq int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = seq
}

func (e *Engine) enterBackoff() State {
	delay := e.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = e.maxBackoff
	}
	slog.Info("network failure, backing off", "delay", delay)

	e.mu.Lock()
	e.retry = e.clock.After(delay)
	e.mu.Unlock()
	e.rearm.Fire()
	return Backoff
}

func (e *Engine) pauseForAuth() {
	e.mu.Lock()
	e.setStateLocked(AuthPaused)
	notify := !e.authNotified
	e.authNotified = true
	e.mu.Unlock()

	if !notify {
		return
	}
	slog.Warn("authentication required, sync paused")
	if e.onAuthRequired != nil {
		e.onAuthRequired()
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStateLocked(s)
}

func (e *Engine) setStateLocked(s State) {
	if e.state == s {
		return
	}
	slog.Debug("sync state", "from", e.state, "to", s)
	e.state = s
	e.metrics.state.Set(float64(s))
}

func (e *Engine) updatePending(ctx context.Context) {
	n, err := e.store.Len(context.WithoutCancel(ctx))
	if err != nil {
		slog.Warn("count pending mutations", "error", err)
		return
	}
	e.metrics.pending.Set(float64(n))
}
