package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/store"
)

// Reconcile replaces tempID with the id the server assigned in server,
// everywhere it appears:
//
//  1. the mirror record moves to the permanent id;
//  2. queued mutations of the record are retargeted;
//  3. for a journal, its entries and their queued mutations are reparented;
//  4. the pair is recorded in the id map so stale callers still resolve;
//  5. the server's record is stored unless local edits are still queued.
//
// Reconcile runs inside the caller's transaction, which also dequeues the
// create. It is monotonic: applying the same pair again changes nothing.
func Reconcile(ctx context.Context, tx *store.Tx, kind model.Kind, tempID model.ID, server model.Record) error {
	if server == nil {
		return fmt.Errorf("reconcile %s %s: no server record", kind, tempID)
	}
	permID := server.RecordID()
	if permID == "" || permID.IsTemp() {
		return fmt.Errorf("reconcile %s %s: server returned id %q", kind, tempID, permID)
	}

	if tempID != permID {
		if err := tx.Rekey(ctx, kind, tempID, permID); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		n, err := tx.ReplaceAffectedID(ctx, kind, tempID, permID)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		children := 0
		if kind == model.KindJournal {
			children, err = tx.ReplaceParentID(ctx, model.KindEntry, tempID, permID)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
		}
		if err := tx.MapID(ctx, kind, tempID, permID); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		slog.Debug("reconciled id", "kind", kind, "temp", tempID, "perm", permID,
			"retargeted", n, "reparented", children)
	}

	if err := upsertIfSettled(ctx, tx, server); err != nil {
		return fmt.Errorf("reconcile %s %s: %w", kind, permID, err)
	}
	return nil
}
