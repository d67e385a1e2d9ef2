package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/djsync/internal/connectivity"
	"github.com/roach88/djsync/internal/engine"
	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/remote"
	"github.com/roach88/djsync/internal/store"
)

var (
	// ErrInvalid wraps local validation failures. It matches
	// model.ErrInvalidRecord.
	ErrInvalid = model.ErrInvalidRecord

	// ErrNotFound is returned when the addressed record is not in the
	// local mirror.
	ErrNotFound = store.ErrNotFound

	// ErrStorage wraps local persistence failures. The operation had no
	// effect locally.
	ErrStorage = errors.New("local storage failure")

	// ErrOffline is returned by operations that need the server.
	ErrOffline = errors.New("offline")
)

// Remote is the backend API used for direct sends and authentication.
// *remote.Client implements it.
type Remote interface {
	engine.Remote
	Login(ctx context.Context, creds remote.Credentials) (remote.Session, error)
	Register(ctx context.Context, reg remote.Registration) (remote.Session, error)
	SetToken(token string)
}

// Syncer is the part of the sync engine the write path coordinates with.
// *engine.Engine implements it.
type Syncer interface {
	InFlight() int64
	SyncNow()
	ResumeAfterAuth()
	Refresh(ctx context.Context) (engine.RefreshResult, error)
}

// Connectivity reports reachability.
type Connectivity interface {
	Status() connectivity.Status
}

// Service is the write path behind every user action.
//
// When the server is reachable and the record has no queued work, a write
// is sent directly and the mirror is updated from the server's answer.
// Otherwise the write is applied to the mirror optimistically and queued
// for the sync engine, in one transaction.
//
// Thread-safety: Service is safe for concurrent use; the store serializes
// writes.
type Service struct {
	store  *store.Store
	remote Remote
	sync   Syncer
	conn   Connectivity
	ids    model.IDGenerator
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator sets the generator for temporary ids.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(s *Service) {
		s.ids = g
	}
}

// WithClock sets the clock used to stamp queued mutations.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service.
func New(st *store.Store, r Remote, sy Syncer, c Connectivity, opts ...Option) *Service {
	s := &Service{
		store:  st,
		remote: r,
		sync:   sy,
		conn:   c,
		ids:    model.TempIDGenerator{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListJournals returns the mirrored journals in insertion order.
func (s *Service) ListJournals(ctx context.Context) ([]model.Journal, error) {
	js, err := s.store.Journals(ctx)
	if err != nil {
		return nil, storageErr("list journals", err)
	}
	return js, nil
}

// ListEntries returns the mirrored entries of a journal. A temporary
// journal id that has since been reconciled still works.
func (s *Service) ListEntries(ctx context.Context, journalID model.ID) ([]model.Entry, error) {
	id, err := s.store.ResolveID(ctx, journalID)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	es, err := s.store.Entries(ctx, id)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	return es, nil
}

// Refresh pulls the server's journals and entries into the mirror.
func (s *Service) Refresh(ctx context.Context) (engine.RefreshResult, error) {
	if !s.online() {
		return engine.RefreshResult{}, ErrOffline
	}
	return s.sync.Refresh(ctx)
}

func (s *Service) online() bool {
	return s.conn.Status() == connectivity.Online
}

// sendDirect reports whether a write to (kind, id) may bypass the queue:
// online, no queued work for the record, and no temporary id involved.
func (s *Service) sendDirect(ctx context.Context, kind model.Kind, id, parent model.ID) (bool, error) {
	if !s.online() || id.IsTemp() || parent.IsTemp() {
		return false, nil
	}
	if id == "" {
		return true, nil
	}
	pending, err := s.store.HasPending(ctx, kind, id)
	if err != nil {
		return false, storageErr("check pending", err)
	}
	return !pending, nil
}

// enqueue runs build in one transaction and appends the payload it returns
// to the queue. build applies the optimistic change to the mirror; a nil
// payload means there is nothing left to send. The engine is nudged when
// something was queued.
//
// build must look records up through current: the engine may have
// reconciled a temporary id since the caller last read it.
func (s *Service) enqueue(ctx context.Context, op string, build func(tx *store.Tx) (model.Payload, error)) error {
	var queued model.Payload
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		p, err := build(tx)
		if err != nil || p == nil {
			return err
		}
		if _, err := tx.Enqueue(ctx, model.NewMutation(p, s.now())); err != nil {
			return err
		}
		queued = p
		return nil
	})
	if err != nil {
		return txErr(op, err)
	}
	if queued == nil {
		return nil
	}
	slog.Debug("write queued", "op", queued.Op(), "kind", queued.Kind(), "id", queued.TargetID())
	if s.online() {
		s.sync.SyncNow()
	}
	return nil
}

// current reads (kind, id) inside tx, following the id map first.
func current(ctx context.Context, tx *store.Tx, kind model.Kind, id model.ID) (model.Record, error) {
	resolved, err := tx.ResolveID(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, found, err := tx.Get(ctx, kind, resolved)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s %s: %w", kind, resolved, ErrNotFound)
	}
	return rec, nil
}

// queueable reports whether a direct-send failure should fall back to the
// queue.
func queueable(err error) bool {
	return remote.IsNetwork(err)
}

// resolve maps a stale temporary id to its permanent id.
func (s *Service) resolve(ctx context.Context, id model.ID) (model.ID, error) {
	resolved, err := s.store.ResolveID(ctx, id)
	if err != nil {
		return "", storageErr("resolve id", err)
	}
	return resolved, nil
}

func (s *Service) get(ctx context.Context, kind model.Kind, id model.ID) (model.Record, error) {
	rec, found, err := s.store.Get(ctx, kind, id)
	if err != nil {
		return nil, storageErr("get "+string(kind), err)
	}
	if !found {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return rec, nil
}

// txErr returns lookup failures from a write transaction as they are and
// wraps everything else as a storage failure.
func txErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return storageErr(op, err)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
