package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/djsync/internal/model"
)

func createJournal(id string) model.JournalCreate {
	return model.JournalCreate{Journal: journal(id, "Trip")}
}

func TestEnqueueAssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t)

	m1 := mustEnqueue(t, s, createJournal("temp_J1"))
	m2 := mustEnqueue(t, s, model.JournalUpdate{Journal: journal("temp_J1", "Trip, renamed")})
	m3 := mustEnqueue(t, s, model.JournalDelete{ID: "temp_J1"})

	assert.Less(t, m1.Seq, m2.Seq)
	assert.Less(t, m2.Seq, m3.Seq)
}

func TestSeqIsNeverReused(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m1 := mustEnqueue(t, s, createJournal("temp_J1"))
	require.NoError(t, s.Dequeue(ctx, m1.Seq))

	m2 := mustEnqueue(t, s, createJournal("temp_J2"))
	assert.Greater(t, m2.Seq, m1.Seq)
}

func TestPeekNextReturnsOldest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.PeekNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	m1 := mustEnqueue(t, s, createJournal("temp_J1"))
	mustEnqueue(t, s, createJournal("temp_J2"))

	head, ok, err := s.PeekNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m1.Seq, head.Seq)
	assert.Equal(t, m1.Payload, head.Payload)
	assert.True(t, testNow.Equal(head.EnqueuedAt))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "peek must not remove")
}

func TestDequeueOnlyRemovesHead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	m1 := mustEnqueue(t, s, createJournal("temp_J1"))
	m2 := mustEnqueue(t, s, createJournal("temp_J2"))

	err := s.Dequeue(ctx, m2.Seq)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotHead))

	require.NoError(t, s.Dequeue(ctx, m1.Seq))
	// Replayed confirmation of an already removed mutation is harmless.
	require.NoError(t, s.Dequeue(ctx, m1.Seq))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, m2.Seq, all[0].Seq)
}

func TestReplaceAffectedIDRewritesPayload(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, model.JournalUpdate{Journal: journal("temp_J1", "Trip, renamed")})
	mustEnqueue(t, s, model.JournalDelete{ID: "temp_J1"})
	mustEnqueue(t, s, model.EntryDelete{ID: "temp_J1", JournalID: "9"}) // same string, other kind

	n, err := s.ReplaceAffectedID(ctx, model.KindJournal, "temp_J1", "9")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.ID("9"), all[0].AffectedID())
	assert.Equal(t, model.ID("9"), all[0].Payload.(model.JournalUpdate).Journal.ID)
	assert.Equal(t, model.ID("9"), all[1].Payload.(model.JournalDelete).ID)
	assert.Equal(t, model.ID("temp_J1"), all[2].AffectedID(), "entry mutations are untouched")

	// Second application finds nothing left to rewrite.
	n, err = s.ReplaceAffectedID(ctx, model.KindJournal, "temp_J1", "9")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplaceParentID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustEnqueue(t, s, model.EntryCreate{Entry: entry("temp_E1", "temp_J1", "day one")})

	var n int
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.ReplaceParentID(ctx, model.KindEntry, "temp_J1", "9")
		return err
	}))
	assert.Equal(t, 1, n)

	head, _, err := s.PeekNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ID("9"), head.ParentID())
	assert.Equal(t, model.ID("9"), head.Payload.(model.EntryCreate).Entry.JournalID)
	assert.Equal(t, model.ID("temp_E1"), head.AffectedID())
}

func TestHasPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	pending, err := s.HasPending(ctx, model.KindJournal, "9")
	require.NoError(t, err)
	assert.False(t, pending)

	mustEnqueue(t, s, model.JournalUpdate{Journal: journal("9", "Trip")})

	pending, err = s.HasPending(ctx, model.KindJournal, "9")
	require.NoError(t, err)
	assert.True(t, pending)

	pending, err = s.HasPending(ctx, model.KindEntry, "9")
	require.NoError(t, err)
	assert.False(t, pending, "marker is per kind")
}

func TestHasPendingChildren(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	pending, err := s.HasPendingChildren(ctx, model.KindEntry, "9")
	require.NoError(t, err)
	assert.False(t, pending)

	mustEnqueue(t, s, model.EntryCreate{Entry: entry("temp_E1", "9", "day one")})

	pending, err = s.HasPendingChildren(ctx, model.KindEntry, "9")
	require.NoError(t, err)
	assert.True(t, pending)

	pending, err = s.HasPendingChildren(ctx, model.KindEntry, "10")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestCancelSparesInFlightMutation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	create := mustEnqueue(t, s, createJournal("temp_J1"))
	mustEnqueue(t, s, model.JournalUpdate{Journal: journal("temp_J1", "renamed")})
	mustEnqueue(t, s, model.EntryCreate{Entry: entry("temp_E1", "temp_J1", "day one")})

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		n, err := tx.Cancel(ctx, model.KindJournal, "temp_J1", create.Seq)
		require.Equal(t, 1, n)
		if err != nil {
			return err
		}
		n, err = tx.CancelChildren(ctx, model.KindEntry, "temp_J1", 0)
		require.Equal(t, 1, n)
		return err
	}))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, create.Seq, all[0].Seq)
}
