package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/store"
)

func TestReconcileCascadesJournalIDToEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	create := f.createJournal("temp_J1", "Trip")
	f.createEntry("temp_E1", "temp_J1", "Day one")
	edited := entry("temp_E1", "temp_J1", "Day one, edited")
	f.write(edited, model.EntryUpdate{Entry: edited})

	server := model.Journal{ID: "9", Title: "Trip", Date: "2026-05-01"}
	reconcile := func() {
		err := f.store.Update(ctx, func(tx *store.Tx) error {
			if err := tx.Dequeue(ctx, create.Seq); err != nil {
				return err
			}
			return Reconcile(ctx, tx, model.KindJournal, "temp_J1", server)
		})
		require.NoError(t, err)
	}
	reconcile()

	// Mirror: the journal moved and its entry follows it.
	_, found, err := f.store.Get(ctx, model.KindJournal, "temp_J1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, []model.ID{"9"}, ids(f.journals()))
	assert.Empty(t, f.entries("temp_J1"))
	local := f.entries("9")
	require.Len(t, local, 1)
	assert.Equal(t, model.ID("temp_E1"), local[0].ID)
	assert.Equal(t, model.ID("9"), local[0].JournalID)

	// Queue: the entry's create and update now point at the new journal.
	queued, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	for _, m := range queued {
		assert.Equal(t, model.ID("9"), m.ParentID(), "mutation %s", m)
		assert.Equal(t, model.ID("temp_E1"), m.AffectedID())
	}
	created, ok := queued[0].Payload.(model.EntryCreate)
	require.True(t, ok)
	assert.Equal(t, model.ID("9"), created.Entry.JournalID)

	perm, err := f.store.ResolveID(ctx, "temp_J1")
	require.NoError(t, err)
	assert.Equal(t, model.ID("9"), perm)

	// Applying the same pair again changes nothing.
	reconcile()
	again, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, queued, again)
	assert.Equal(t, []model.ID{"9"}, ids(f.journals()))
	assert.Len(t, f.entries("9"), 1)
}

func TestReconcileStoresServerRecordOnlyWhenSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	create := f.createJournal("temp_J1", "Local title")
	renamed := journal("temp_J1", "Renamed offline")
	f.write(renamed, model.JournalUpdate{Journal: renamed})

	err := f.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.Dequeue(ctx, create.Seq); err != nil {
			return err
		}
		return Reconcile(ctx, tx, model.KindJournal, "temp_J1",
			model.Journal{ID: "5", Title: "Local title (server)"})
	})
	require.NoError(t, err)

	// The queued rename still has to go out; the local edit wins.
	js := f.journals()
	require.Len(t, js, 1)
	assert.Equal(t, model.ID("5"), js[0].ID)
	assert.Equal(t, "Renamed offline", js[0].Title)
}

func TestReconcileRejectsTemporaryServerID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.store.Update(ctx, func(tx *store.Tx) error {
		return Reconcile(ctx, tx, model.KindJournal, "temp_J1", model.Journal{ID: "temp_J1"})
	})
	require.Error(t, err)
}
