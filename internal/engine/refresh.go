package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/remote"
	"github.com/roach88/djsync/internal/store"
)

// RefreshResult summarizes a mirror refresh.
type RefreshResult struct {
	Journals int // server journals stored
	Entries  int // server entries stored
	Kept     int // records kept because local edits are queued
	Removed  int // local records the server no longer has
}

// Refresh pulls every journal and entry from the server and merges them
// into the mirror:
//   - a record with queued mutations keeps its local version;
//   - a local record missing on the server is removed, unless it has queued
//     mutations or was never synced;
//   - every other server record replaces the local one.
//
// The last sync time is recorded on success.
func (e *Engine) Refresh(ctx context.Context) (RefreshResult, error) {
	journals, err := e.remote.ListJournals(ctx)
	if err != nil {
		e.metrics.refreshes.WithLabelValues("error").Inc()
		return RefreshResult{}, fmt.Errorf("refresh: %w", err)
	}
	entries := make(map[model.ID][]model.Entry, len(journals))
	for _, j := range journals {
		es, err := e.remote.ListEntries(ctx, j.ID)
		if err != nil {
			e.metrics.refreshes.WithLabelValues("error").Inc()
			return RefreshResult{}, fmt.Errorf("refresh journal %s: %w", j.ID, err)
		}
		entries[j.ID] = es
	}

	var res RefreshResult
	err = e.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		res, err = merge(ctx, tx, journals, entries)
		if err != nil {
			return err
		}
		return tx.SetLastSyncTime(ctx, e.clock.Now())
	})
	if err != nil {
		e.metrics.refreshes.WithLabelValues("error").Inc()
		return RefreshResult{}, fmt.Errorf("refresh: %w", err)
	}
	e.metrics.refreshes.WithLabelValues("ok").Inc()
	slog.Info("mirror refreshed", "journals", res.Journals, "entries", res.Entries,
		"kept", res.Kept, "removed", res.Removed)
	return res, nil
}

// maybeRefresh refreshes the mirror if the last refresh is older than the
// refresh interval. Failures are logged; an auth failure pauses the engine.
func (e *Engine) maybeRefresh(ctx context.Context) {
	if e.refreshInterval <= 0 {
		return
	}
	last, ok, err := e.store.LastSyncTime(ctx)
	if err != nil {
		slog.Warn("read last sync time", "error", err)
		return
	}
	if ok && e.clock.Now().Sub(last) < e.refreshInterval {
		return
	}

	if _, err := e.Refresh(ctx); err != nil {
		if remote.IsAuth(err) {
			e.pauseForAuth()
			return
		}
		slog.Warn("mirror refresh failed", "error", err)
	}
}

func merge(ctx context.Context, tx *store.Tx, journals []model.Journal, entries map[model.ID][]model.Entry) (RefreshResult, error) {
	var res RefreshResult

	onServer := make(map[model.ID]bool, len(journals))
	for _, j := range journals {
		onServer[j.ID] = true
		stored, err := putIfSettled(ctx, tx, j)
		if err != nil {
			return res, err
		}
		if stored {
			res.Journals++
		} else {
			res.Kept++
		}

		n, kept, removed, err := mergeEntries(ctx, tx, j.ID, entries[j.ID])
		if err != nil {
			return res, err
		}
		res.Entries += n
		res.Kept += kept
		res.Removed += removed
	}

	local, err := tx.Journals(ctx)
	if err != nil {
		return res, err
	}
	for _, j := range local {
		if onServer[j.ID] {
			continue
		}
		gone, err := removeIfStale(ctx, tx, j)
		if err != nil {
			return res, err
		}
		if !gone {
			continue
		}
		res.Removed++
		// Entries of a journal the server dropped go with it, except
		// never-synced ones still waiting in the queue.
		_, _, removed, err := mergeEntries(ctx, tx, j.ID, nil)
		if err != nil {
			return res, err
		}
		res.Removed += removed
	}
	return res, nil
}

func mergeEntries(ctx context.Context, tx *store.Tx, journalID model.ID, server []model.Entry) (stored, kept, removed int, err error) {
	onServer := make(map[model.ID]bool, len(server))
	for _, en := range server {
		onServer[en.ID] = true
		ok, err := putIfSettled(ctx, tx, en)
		if err != nil {
			return 0, 0, 0, err
		}
		if ok {
			stored++
		} else {
			kept++
		}
	}

	local, err := tx.Entries(ctx, journalID)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, en := range local {
		if onServer[en.ID] {
			continue
		}
		gone, err := removeIfStale(ctx, tx, en)
		if err != nil {
			return 0, 0, 0, err
		}
		if gone {
			removed++
		}
	}
	return stored, kept, removed, nil
}

// putIfSettled stores a server record unless local edits are queued.
func putIfSettled(ctx context.Context, tx *store.Tx, rec model.Record) (bool, error) {
	pending, err := tx.HasPending(ctx, rec.Kind(), rec.RecordID())
	if err != nil || pending {
		return false, err
	}
	return true, tx.Upsert(ctx, rec)
}

// removeIfStale removes a local record the server does not have, unless it
// was never synced or has queued edits.
func removeIfStale(ctx context.Context, tx *store.Tx, rec model.Record) (bool, error) {
	if rec.RecordID().IsTemp() {
		return false, nil
	}
	pending, err := tx.HasPending(ctx, rec.Kind(), rec.RecordID())
	if err != nil || pending {
		return false, err
	}
	return true, tx.Remove(ctx, rec.Kind(), rec.RecordID())
}
