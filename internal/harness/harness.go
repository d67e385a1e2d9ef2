package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/djsync/internal/connectivity"
	"github.com/roach88/djsync/internal/engine"
	"github.com/roach88/djsync/internal/journal"
	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/remote"
	"github.com/roach88/djsync/internal/store"
	"github.com/roach88/djsync/internal/testutil"
)

// scenarioStart is the fake clock's start for every scenario.
var scenarioStart = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// Harness runs one scenario against the real write path and sync engine,
// a file-backed store and the fake backend.
type Harness struct {
	path    string
	backend *testutil.Backend
	client  *remote.Client
	monitor *connectivity.Monitor
	clock   *testutil.FakeClock
	ids     model.IDGenerator

	store   *store.Store
	engine  *engine.Engine
	journal *journal.Service

	refs map[string]model.ID
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh database file and fake backend, released when
// t ends. Temporary ids come from scenario.TempIDs and time from a fake
// clock, so traces are identical across runs. The device starts online.
func Run(t testing.TB, scenario *Scenario) (*Result, error) {
	t.Helper()

	var opts []testutil.BackendOption
	if scenario.Backend.NextID > 0 {
		opts = append(opts, testutil.WithNextID(scenario.Backend.NextID))
	}
	if scenario.Backend.Token != "" {
		opts = append(opts, testutil.WithToken(scenario.Backend.Token))
	}
	backend := testutil.NewBackend(t, opts...)
	client, err := remote.New(remote.Config{BaseURL: backend.URL(), Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	h := &Harness{
		path:    filepath.Join(t.TempDir(), "djsync.db"),
		backend: backend,
		client:  client,
		monitor: connectivity.NewMonitor(nil),
		clock:   testutil.NewFakeClock(scenarioStart),
		ids:     model.NewFixedGenerator(scenario.TempIDs...),
		refs:    make(map[string]model.ID),
	}
	if err := h.open(); err != nil {
		return nil, err
	}
	defer func() { h.store.Close() }()
	h.monitor.Report(connectivity.Online)

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Do, err)
		}
		result.AddTrace(ev)
		if ev.Error != step.Error {
			result.AddError(fmt.Sprintf("step %d (%s): expected error %q, got %q", i, step.Do, step.Error, ev.Error))
		}
	}
	result.Requests = append(result.Requests, backend.Writes()...)

	for _, msg := range h.evaluate(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

// open opens the database and builds the engine and write path on it, as
// a starting process does.
func (h *Harness) open() error {
	s, err := store.Open(h.path, store.WithClock(h.clock.Now))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	h.store = s
	h.engine = engine.New(s, h.client, h.monitor,
		engine.WithClock(h.clock),
		engine.WithRefreshInterval(0),
	)
	h.journal = journal.New(s, h.client, h.engine, h.monitor,
		journal.WithIDGenerator(h.ids),
		journal.WithClock(h.clock.Now),
	)
	return nil
}

// execute runs one step. Errors the scenario can expect are reported in
// the trace event; the returned error aborts the run.
func (h *Harness) execute(ctx context.Context, i int, step Step) (TraceEvent, error) {
	ev := TraceEvent{Step: i + 1, Do: step.Do, Ref: step.Ref}
	var (
		id      model.ID
		stepErr error
	)

	switch step.Do {
	case DoOnline:
		h.monitor.Report(connectivity.Online)
	case DoOffline:
		h.monitor.Report(connectivity.Offline)

	case DoCreateJournal:
		var j model.Journal
		j, stepErr = h.journal.CreateJournal(ctx, step.Title, step.Date)
		id = j.ID
		if stepErr == nil {
			h.refs[step.Ref] = j.ID
		}
	case DoUpdateJournal:
		id = h.refs[step.Ref]
		_, stepErr = h.journal.UpdateJournal(ctx, id, step.Title, step.Date)
	case DoDeleteJournal:
		id = h.refs[step.Ref]
		stepErr = h.journal.DeleteJournal(ctx, id)

	case DoCreateEntry:
		var e model.Entry
		e, stepErr = h.journal.CreateEntry(ctx, h.entry(step), attachments(step.Files))
		id = e.ID
		if stepErr == nil {
			h.refs[step.Ref] = e.ID
		}
	case DoUpdateEntry:
		e := h.entry(step)
		e.ID = h.refs[step.Ref]
		id = e.ID
		_, stepErr = h.journal.UpdateEntry(ctx, e, attachments(step.Files))
	case DoDeleteEntry:
		id = h.refs[step.Ref]
		stepErr = h.journal.DeleteEntry(ctx, id)

	case DoSync:
		if err := h.engine.DrainOnce(ctx); err != nil {
			return ev, err
		}
	case DoRefresh:
		_, stepErr = h.journal.Refresh(ctx)
	case DoRestart:
		if err := h.store.Close(); err != nil {
			return ev, fmt.Errorf("failed to close store: %w", err)
		}
		if err := h.open(); err != nil {
			return ev, err
		}

	case DoFail:
		h.backend.Fail(h.matcher(step), step.Status, step.Message, times(step))
	case DoDrop:
		if step.AfterApply {
			h.backend.DropAfterApply(h.matcher(step), times(step))
		} else {
			h.backend.Drop(h.matcher(step), times(step))
		}
	case DoLogin:
		_, stepErr = h.journal.Login(ctx, remote.Credentials{Email: step.Email, Password: step.Password})

	case DoRetryFailed, DoDiscardFailed:
		id = h.refs[step.Ref]
		seq, err := h.failedSeq(ctx, id)
		if err != nil {
			return ev, err
		}
		if step.Do == DoRetryFailed {
			_, stepErr = h.engine.RetryFailed(ctx, seq)
		} else {
			_, stepErr = h.engine.DiscardFailed(ctx, seq)
		}

	default:
		return ev, fmt.Errorf("unknown action %q", step.Do)
	}

	ev.ID = string(id)
	ev.Error = errorClass(stepErr)
	if ev.Error == "error" {
		return ev, stepErr
	}
	return ev, nil
}

func (h *Harness) entry(step Step) model.Entry {
	e := model.Entry{Description: step.Description, DateTime: step.Date}
	if step.Journal != "" {
		e.JournalID = h.refs[step.Journal]
	}
	return e
}

// matcher selects requests by method, path prefix and idempotency key.
func (h *Harness) matcher(step Step) testutil.Matcher {
	byRoute := testutil.Match(step.Method, step.Path)
	return func(r testutil.Request) bool {
		return byRoute(r) && (step.Key == "" || r.Nonce == step.Key)
	}
}

// failedSeq finds the failed mutation for the record id, preferring its
// create.
func (h *Harness) failedSeq(ctx context.Context, id model.ID) (int64, error) {
	resolved, err := h.store.ResolveID(ctx, id)
	if err != nil {
		return 0, err
	}
	fs, err := h.engine.Failed(ctx)
	if err != nil {
		return 0, err
	}
	var seq int64
	for _, f := range fs {
		if f.AffectedID() != id && f.AffectedID() != resolved {
			continue
		}
		if f.Op() == model.OpCreate {
			return f.Seq, nil
		}
		if seq == 0 {
			seq = f.Seq
		}
	}
	if seq == 0 {
		return 0, fmt.Errorf("no failed mutation for %s", id)
	}
	return seq, nil
}

func times(step Step) int {
	if step.Times == 0 {
		return 1
	}
	return step.Times
}

func attachments(paths []string) []model.Attachment {
	if len(paths) == 0 {
		return nil
	}
	out := make([]model.Attachment, 0, len(paths))
	for _, p := range paths {
		out = append(out, model.Attachment{Path: p, Name: filepath.Base(p)})
	}
	return out
}

// errorClass maps a step error to the class scenarios expect. "error"
// means an unexpected failure that aborts the run.
func errorClass(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, journal.ErrInvalid):
		return "invalid"
	case errors.Is(err, journal.ErrNotFound):
		return "not_found"
	case errors.Is(err, journal.ErrOffline):
		return "offline"
	case remote.IsValidation(err):
		return "validation"
	case remote.IsAuth(err):
		return "auth"
	case remote.IsNetwork(err):
		return "network"
	default:
		return "error"
	}
}
