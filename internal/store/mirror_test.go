package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/djsync/internal/model"
)

func TestUpsertReplacesWithoutMerging(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	withLoc := entry("31", "9", "first")
	withLoc.LocationName = "Ridge"
	require.NoError(t, s.Upsert(ctx, withLoc))
	require.NoError(t, s.Upsert(ctx, entry("31", "9", "second")))

	rec, found, err := s.Get(ctx, model.KindEntry, "31")
	require.NoError(t, err)
	require.True(t, found)
	got := rec.(model.Entry)
	assert.Equal(t, "second", got.Description)
	assert.Empty(t, got.LocationName, "fields must be replaced, not merged")
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, journal("9", "Trip")))
	require.NoError(t, s.Remove(ctx, model.KindJournal, "9"))
	require.NoError(t, s.Remove(ctx, model.KindJournal, "9"))

	_, found, err := s.Get(ctx, model.KindJournal, "9")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListByParentKeepsInsertionOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, entry("b", "9", "first")))
	require.NoError(t, s.Upsert(ctx, entry("a", "9", "second")))
	require.NoError(t, s.Upsert(ctx, entry("c", "7", "other journal")))
	// Replacing keeps the original position.
	require.NoError(t, s.Upsert(ctx, entry("b", "9", "first, edited")))

	got, err := s.Entries(ctx, "9")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.ID("b"), got[0].ID)
	assert.Equal(t, "first, edited", got[0].Description)
	assert.Equal(t, model.ID("a"), got[1].ID)
}

func TestRekeyJournalReparentsEntries(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, journal("temp_J1", "Trip")))
	require.NoError(t, s.Upsert(ctx, entry("temp_E1", "temp_J1", "day one")))

	require.NoError(t, s.Rekey(ctx, model.KindJournal, "temp_J1", "9"))

	_, found, err := s.Get(ctx, model.KindJournal, "temp_J1")
	require.NoError(t, err)
	assert.False(t, found, "old id must not remain reachable")

	rec, found, err := s.Get(ctx, model.KindJournal, "9")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.ID("9"), rec.RecordID(), "id inside the stored record is rewritten")

	orphans, err := s.Entries(ctx, "temp_J1")
	require.NoError(t, err)
	assert.Empty(t, orphans)

	moved, err := s.Entries(ctx, "9")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, model.ID("temp_E1"), moved[0].ID)
	assert.Equal(t, model.ID("9"), moved[0].JournalID)
}

func TestRekeyIsMonotonic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, journal("temp_J1", "Trip")))
	require.NoError(t, s.Rekey(ctx, model.KindJournal, "temp_J1", "9"))
	require.NoError(t, s.Rekey(ctx, model.KindJournal, "temp_J1", "9"))

	js, err := s.Journals(ctx)
	require.NoError(t, err)
	require.Len(t, js, 1)
	assert.Equal(t, model.ID("9"), js[0].ID)
}

func TestRekeyOntoExistingIDDropsTemporaryRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// A refresh already pulled the server copy before reconciliation ran.
	require.NoError(t, s.Upsert(ctx, journal("temp_J1", "Trip")))
	require.NoError(t, s.Upsert(ctx, journal("9", "Trip")))

	require.NoError(t, s.Rekey(ctx, model.KindJournal, "temp_J1", "9"))

	js, err := s.Journals(ctx)
	require.NoError(t, err)
	require.Len(t, js, 1)
	assert.Equal(t, model.ID("9"), js[0].ID)
}

func TestRemoveByParent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, entry("1", "9", "a")))
	require.NoError(t, s.Upsert(ctx, entry("2", "9", "b")))
	require.NoError(t, s.Upsert(ctx, entry("3", "7", "c")))

	var n int
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.RemoveByParent(ctx, model.KindEntry, "9")
		return err
	}))
	assert.Equal(t, 2, n)

	rest, err := s.Entries(ctx, "7")
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	s := createTestStore(t)
	err := s.Upsert(context.Background(), model.Journal{Title: "x"})
	require.Error(t, err)
}
