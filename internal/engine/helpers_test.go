package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/roach88/djsync/internal/connectivity"
	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/remote"
	"github.com/roach88/djsync/internal/store"
	"github.com/roach88/djsync/internal/testutil"
)

var testStart = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// fixture wires an engine to a fake backend and a file-backed store.
type fixture struct {
	t       *testing.T
	path    string
	backend *testutil.Backend
	client  *remote.Client
	monitor *connectivity.Monitor
	clock   *testutil.FakeClock
	store   *store.Store
	reg     *prometheus.Registry
	engine  *Engine
}

// newFixture starts online with automatic refresh disabled.
func newFixture(t *testing.T, opts ...testutil.BackendOption) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		path:    filepath.Join(t.TempDir(), "djsync.db"),
		backend: testutil.NewBackend(t, opts...),
		monitor: connectivity.NewMonitor(nil),
		clock:   testutil.NewFakeClock(testStart),
	}
	client, err := remote.New(remote.Config{BaseURL: f.backend.URL(), Timeout: 2 * time.Second})
	require.NoError(t, err)
	f.client = client
	f.monitor.Report(connectivity.Online)
	f.reopen()
	return f
}

// reopen opens the database file again with a fresh engine, as a restarted
// process would.
func (f *fixture) reopen(opts ...Option) {
	f.t.Helper()
	s, err := store.Open(f.path, store.WithClock(f.clock.Now))
	require.NoError(f.t, err)
	f.t.Cleanup(func() { s.Close() })
	f.store = s
	f.newEngine(opts...)
}

// newEngine replaces the engine on the current store.
func (f *fixture) newEngine(opts ...Option) {
	f.reg = prometheus.NewRegistry()
	base := []Option{
		WithClock(f.clock),
		WithRefreshInterval(0),
		WithRegisterer(f.reg),
	}
	f.engine = New(f.store, f.client, f.monitor, append(base, opts...)...)
}

// run starts Run in the background until the test ends.
func (f *fixture) run() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx)
	}()
	f.t.Cleanup(func() {
		cancel()
		<-done
	})
}

// write stores rec optimistically and enqueues p in one transaction, as the
// write path does. rec may be nil.
func (f *fixture) write(rec model.Record, p model.Payload) model.Mutation {
	f.t.Helper()
	ctx := context.Background()
	var m model.Mutation
	err := f.store.Update(ctx, func(tx *store.Tx) error {
		if rec != nil {
			if err := tx.Upsert(ctx, rec); err != nil {
				return err
			}
		}
		var err error
		m, err = tx.Enqueue(ctx, model.NewMutation(p, f.clock.Now()))
		return err
	})
	require.NoError(f.t, err)
	return m
}

func (f *fixture) createJournal(id, title string) model.Mutation {
	j := journal(id, title)
	return f.write(j, model.JournalCreate{Journal: j})
}

func (f *fixture) createEntry(id, journalID, desc string) model.Mutation {
	e := entry(id, journalID, desc)
	return f.write(e, model.EntryCreate{Entry: e})
}

func (f *fixture) pending() int {
	f.t.Helper()
	n, err := f.engine.PendingCount(context.Background())
	require.NoError(f.t, err)
	return n
}

func (f *fixture) journals() []model.Journal {
	f.t.Helper()
	js, err := f.store.Journals(context.Background())
	require.NoError(f.t, err)
	return js
}

func (f *fixture) entries(journalID model.ID) []model.Entry {
	f.t.Helper()
	es, err := f.store.Entries(context.Background(), journalID)
	require.NoError(f.t, err)
	return es
}

func (f *fixture) failed() []store.FailedMutation {
	f.t.Helper()
	fs, err := f.engine.Failed(context.Background())
	require.NoError(f.t, err)
	return fs
}

// metric sums every series of the named metric.
func (f *fixture) metric(name string) float64 {
	f.t.Helper()
	families, err := f.reg.Gather()
	require.NoError(f.t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return sum
}

func journal(id, title string) model.Journal {
	return model.Journal{ID: model.ID(id), Title: title, Date: "2026-05-01"}
}

func entry(id, journalID, desc string) model.Entry {
	return model.Entry{
		ID:          model.ID(id),
		JournalID:   model.ID(journalID),
		Description: desc,
		DateTime:    "2026-05-01T10:00:00Z",
	}
}

func ids[R model.Record](recs []R) []model.ID {
	out := make([]model.ID, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.RecordID())
	}
	return out
}
