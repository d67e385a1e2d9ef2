package engine

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/djsync/internal/connectivity"
	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/testutil"
)

const drainsMetric = "djsync_engine_drains_total"

func TestDrainSendsCreateUpdateDeleteInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createJournal("temp_J1", "Trip")
	renamed := journal("temp_J1", "Road trip")
	f.write(renamed, model.JournalUpdate{Journal: renamed})
	f.write(nil, model.JournalDelete{ID: "temp_J1"})

	require.NoError(t, f.engine.DrainOnce(ctx))

	assert.Equal(t, []string{
		"POST /journals key=temp_J1 -> 201",
		"PUT /journals/1 -> 200",
		"DELETE /journals/1 -> 200",
	}, f.backend.Writes())
	assert.Empty(t, f.backend.Journals())
	assert.Empty(t, f.journals())
	assert.Equal(t, 0, f.pending())
	assert.Equal(t, Idle, f.engine.State())
}

func TestDrainReconcilesJournalAndEntryIDs(t *testing.T) {
	f := newFixture(t, testutil.WithNextID(9))
	ctx := context.Background()

	f.createJournal("temp_J1", "Trip")
	f.createEntry("temp_E1", "temp_J1", "Day one")

	require.NoError(t, f.engine.DrainOnce(ctx))

	assert.Equal(t, []string{
		"POST /journals key=temp_J1 -> 201",
		"POST /entries key=temp_E1 -> 201",
	}, f.backend.Writes())

	assert.Equal(t, []model.ID{"9"}, ids(f.journals()))
	assert.Empty(t, f.entries("temp_J1"))
	local := f.entries("9")
	require.Len(t, local, 1)
	assert.Equal(t, model.ID("10"), local[0].ID)
	assert.Equal(t, model.ID("9"), local[0].JournalID)
	assert.Equal(t, "Day one", local[0].Description)

	server := f.backend.Entries("9")
	require.Len(t, server, 1)
	assert.Equal(t, "Day one", server[0].Description)

	perm, err := f.store.ResolveID(ctx, "temp_E1")
	require.NoError(t, err)
	assert.Equal(t, model.ID("10"), perm)
	assert.Equal(t, float64(2), f.metric("djsync_engine_ids_reconciled_total"))
}

func TestReplayedCreateIsDeduplicatedByServer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.DropAfterApply(testutil.Match(http.MethodPost, "/journals"), 1)

	f.createJournal("temp_J1", "Trip")

	require.NoError(t, f.engine.DrainOnce(ctx))
	assert.Equal(t, Backoff, f.engine.State())
	assert.Equal(t, 1, f.pending())
	assert.Len(t, f.backend.Journals(), 1, "server applied the create before the connection dropped")

	require.NoError(t, f.engine.DrainOnce(ctx))

	assert.Equal(t, []string{
		"POST /journals key=temp_J1 -> dropped",
		"POST /journals key=temp_J1 -> 201",
	}, f.backend.Writes())
	assert.Len(t, f.backend.Journals(), 1)
	assert.Equal(t, []model.ID{"1"}, ids(f.journals()))
	assert.Equal(t, 0, f.pending())
	assert.Equal(t, Idle, f.engine.State())
}

func TestValidationFailureDoesNotBlockQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.Fail(func(r testutil.Request) bool { return r.Nonce == "temp_J2" },
		http.StatusUnprocessableEntity, "title already used", 1)

	var (
		mu       sync.Mutex
		reported []FailureReason
	)
	f.newEngine(WithOnFailed(func(_ model.Mutation, reason FailureReason, _ string) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, reason)
	}))

	f.createJournal("temp_J1", "One")
	second := f.createJournal("temp_J2", "Two")
	renamed := journal("temp_J2", "Two, renamed")
	secondUpdate := f.write(renamed, model.JournalUpdate{Journal: renamed})
	f.createJournal("temp_J3", "Three")

	require.NoError(t, f.engine.DrainOnce(ctx))

	assert.Equal(t, []string{
		"POST /journals key=temp_J1 -> 201",
		"POST /journals key=temp_J2 -> 422",
		"POST /journals key=temp_J3 -> 201",
	}, f.backend.Writes())
	assert.Equal(t, 0, f.pending())
	assert.Equal(t, Idle, f.engine.State())

	failed := f.failed()
	require.Len(t, failed, 2)
	assert.Equal(t, second.Seq, failed[0].Seq)
	assert.Equal(t, string(ReasonValidation), failed[0].Reason)
	assert.Equal(t, "title already used", failed[0].Message)
	assert.Equal(t, secondUpdate.Seq, failed[1].Seq)
	assert.Equal(t, string(ReasonDependencyFailed), failed[1].Reason)

	// The rejected journal keeps its optimistic local copy.
	assert.ElementsMatch(t, []model.ID{"1", "temp_J2", "2"}, ids(f.journals()))
	assert.Equal(t, []FailureReason{ReasonValidation, ReasonDependencyFailed}, reported)
}

func TestFreshEngineReplaysPendingCreateExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.DropAfterApply(testutil.Match(http.MethodPost, "/journals"), 1)

	f.createJournal("temp_J1", "Trip")
	require.NoError(t, f.engine.DrainOnce(ctx))
	require.Equal(t, Backoff, f.engine.State())

	// Crash: the process dies with the create applied remotely but still
	// queued locally.
	require.NoError(t, f.store.Close())
	f.reopen()
	require.Equal(t, 1, f.pending())

	require.NoError(t, f.engine.DrainOnce(ctx))

	assert.Len(t, f.backend.Journals(), 1)
	assert.Equal(t, []string{
		"POST /journals key=temp_J1 -> dropped",
		"POST /journals key=temp_J1 -> 201",
	}, f.backend.Writes())
	assert.Equal(t, []model.ID{"1"}, ids(f.journals()))
	assert.Equal(t, 0, f.pending())
}

func TestRunDrainsLeftoverQueueAtStartup(t *testing.T) {
	f := newFixture(t)
	f.createJournal("temp_J1", "Trip")

	f.run()

	require.Eventually(t, func() bool {
		return f.pending() == 0 && f.engine.State() == Idle
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"POST /journals key=temp_J1 -> 201"}, f.backend.Writes())
}

func TestReconnectFlapDrainsOnce(t *testing.T) {
	f := newFixture(t)
	f.monitor.Report(connectivity.Offline)

	f.createJournal("temp_J1", "One")
	f.createJournal("temp_J2", "Two")
	f.createJournal("temp_J3", "Three")

	f.backend.Pause()
	f.run()
	f.monitor.Report(connectivity.Online)

	require.Eventually(t, func() bool { return f.backend.Inflight() == 1 },
		2*time.Second, time.Millisecond, "first create never reached the server")

	// The link flaps while the first create is on the wire.
	f.monitor.Report(connectivity.Offline)
	f.monitor.Report(connectivity.Online)
	f.monitor.Report(connectivity.Offline)
	f.monitor.Report(connectivity.Online)
	f.backend.Resume()

	require.Eventually(t, func() bool {
		return f.pending() == 0 && f.engine.State() == Idle
	}, 2*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return f.metric(drainsMetric) > 1 },
		100*time.Millisecond, 5*time.Millisecond)

	assert.Equal(t, float64(1), f.metric(drainsMetric))
	assert.Equal(t, 1, f.backend.MaxInflight())
	assert.Equal(t, []string{
		"POST /journals key=temp_J1 -> 201",
		"POST /journals key=temp_J2 -> 201",
		"POST /journals key=temp_J3 -> 201",
	}, f.backend.Writes())
	assert.Len(t, f.backend.Journals(), 3)
}

func TestNetworkFailureBacksOffAndRetries(t *testing.T) {
	f := newFixture(t)
	f.backend.Drop(testutil.Match(http.MethodPost, "/journals"), 1)
	f.createJournal("temp_J1", "Trip")

	f.run()

	require.Eventually(t, func() bool {
		return f.engine.State() == Backoff && f.clock.Waiters() == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, f.pending())

	// Initial delay is 1s with jitter of at most 50%.
	f.clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		return f.pending() == 0 && f.engine.State() == Idle
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{
		"POST /journals key=temp_J1 -> dropped",
		"POST /journals key=temp_J1 -> 201",
	}, f.backend.Writes())
}

func TestOnlineTransitionEndsBackoff(t *testing.T) {
	f := newFixture(t)
	f.backend.Drop(testutil.Match(http.MethodPost, "/journals"), 1)
	f.createJournal("temp_J1", "Trip")

	f.run()
	require.Eventually(t, func() bool { return f.engine.State() == Backoff },
		2*time.Second, time.Millisecond)

	f.monitor.Report(connectivity.Offline)
	f.monitor.Report(connectivity.Online)

	require.Eventually(t, func() bool { return f.pending() == 0 },
		2*time.Second, 5*time.Millisecond)
}

func TestAuthFailurePausesUntilResumed(t *testing.T) {
	f := newFixture(t, testutil.WithToken("secret"))
	ctx := context.Background()

	var notified atomic.Int32
	f.newEngine(WithOnAuthRequired(func() { notified.Add(1) }))

	f.createJournal("temp_J1", "One")
	f.createJournal("temp_J2", "Two")

	require.NoError(t, f.engine.DrainOnce(ctx))
	assert.Equal(t, AuthPaused, f.engine.State())
	assert.Equal(t, int32(1), notified.Load())
	assert.Equal(t, 2, f.pending())
	require.Len(t, f.backend.Requests(), 1)

	// Still paused: nothing is sent and nobody is notified again.
	require.NoError(t, f.engine.DrainOnce(ctx))
	assert.Len(t, f.backend.Requests(), 1)
	assert.Equal(t, int32(1), notified.Load())

	f.client.SetToken("secret")
	f.engine.ResumeAfterAuth()
	assert.Equal(t, Idle, f.engine.State())

	require.NoError(t, f.engine.DrainOnce(ctx))
	assert.Equal(t, 0, f.pending())
	assert.Equal(t, []string{
		"POST /journals key=temp_J1 -> 401",
		"POST /journals key=temp_J1 -> 201",
		"POST /journals key=temp_J2 -> 201",
	}, f.backend.Writes())
}

func TestMutationOfNeverCreatedRecordFailsAsDependency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orphan := f.createEntry("temp_E1", "temp_J7", "Lost entry")
	edited := entry("temp_E1", "temp_J7", "Lost entry, edited")
	edit := f.write(edited, model.EntryUpdate{Entry: edited})

	require.NoError(t, f.engine.DrainOnce(ctx))

	assert.Empty(t, f.backend.Requests())
	failed := f.failed()
	require.Len(t, failed, 2)
	assert.Equal(t, orphan.Seq, failed[0].Seq)
	assert.Equal(t, edit.Seq, failed[1].Seq)
	for _, fm := range failed {
		assert.Equal(t, string(ReasonDependencyFailed), fm.Reason)
	}
	assert.Equal(t, 0, f.pending())
}

func TestDrainWhileOfflineSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.monitor.Report(connectivity.Offline)
	f.createJournal("temp_J1", "Trip")

	require.NoError(t, f.engine.DrainOnce(context.Background()))

	assert.Empty(t, f.backend.Requests())
	assert.Equal(t, 1, f.pending())
	assert.Equal(t, Idle, f.engine.State())
}

func TestDrainOnceRefusedWhileDraining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createJournal("temp_J1", "Trip")

	f.backend.Pause()
	done := make(chan error, 1)
	go func() { done <- f.engine.DrainOnce(ctx) }()

	require.Eventually(t, func() bool { return f.backend.Inflight() == 1 },
		2*time.Second, time.Millisecond)
	assert.Equal(t, Draining, f.engine.State())
	assert.NotZero(t, f.engine.InFlight())
	assert.ErrorIs(t, f.engine.DrainOnce(ctx), ErrBusy)

	f.backend.Resume()
	require.NoError(t, <-done)
	assert.Zero(t, f.engine.InFlight())
	assert.Len(t, f.backend.Writes(), 1)
}

func TestDeleteOfMissingRecordSucceeds(t *testing.T) {
	f := newFixture(t)
	f.write(nil, model.EntryDelete{ID: "41", JournalID: "7"})

	require.NoError(t, f.engine.DrainOnce(context.Background()))

	assert.Equal(t, []string{"DELETE /entries/41 -> 404"}, f.backend.Writes())
	assert.Equal(t, 0, f.pending())
	assert.Empty(t, f.failed())
}
