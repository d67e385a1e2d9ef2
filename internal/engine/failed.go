package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/store"
)

// Failed returns the failed list in original queue order.
func (e *Engine) Failed(ctx context.Context) ([]store.FailedMutation, error) {
	return e.store.Failed(ctx)
}

// RetryFailed moves a failed mutation back to the tail of the queue and
// requests a drain. Retrying a create also re-queues the mutations that
// failed because of it, in their original order. Returns the re-queued
// mutations.
func (e *Engine) RetryFailed(ctx context.Context, seq int64) ([]model.Mutation, error) {
	var out []model.Mutation
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		group, err := failedGroup(ctx, tx, seq)
		if err != nil {
			return err
		}
		for _, f := range group {
			m, err := tx.RetryFailed(ctx, f.Seq)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retry failed %d: %w", seq, err)
	}
	slog.Info("failed mutations re-queued", "seq", seq, "count", len(out))
	e.SyncNow()
	return out, nil
}

// DiscardFailed drops a failed mutation for good. Discarding a create
// also drops the mutations that failed because of it and rolls back the
// optimistic record if it never synced. Returns the discarded mutations.
func (e *Engine) DiscardFailed(ctx context.Context, seq int64) ([]store.FailedMutation, error) {
	var out []store.FailedMutation
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		group, err := failedGroup(ctx, tx, seq)
		if err != nil {
			return err
		}
		for _, f := range group {
			d, err := tx.DiscardFailed(ctx, f.Seq)
			if err != nil {
				return err
			}
			out = append(out, d)
		}

		head := group[0]
		if head.Op() != model.OpCreate || !head.AffectedID().IsTemp() {
			return nil
		}
		pending, err := tx.HasPending(ctx, head.Kind(), head.AffectedID())
		if err != nil || pending {
			return err
		}
		if err := tx.Remove(ctx, head.Kind(), head.AffectedID()); err != nil {
			return err
		}
		if head.Kind() == model.KindJournal {
			_, err = tx.RemoveByParent(ctx, model.KindEntry, head.AffectedID())
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("discard failed %d: %w", seq, err)
	}
	slog.Info("failed mutations discarded", "seq", seq, "count", len(out))
	return out, nil
}

// failedGroup returns the failed mutation seq followed, if it is a create,
// by the failed mutations that depend on its record.
func failedGroup(ctx context.Context, tx *store.Tx, seq int64) ([]store.FailedMutation, error) {
	all, err := tx.Failed(ctx)
	if err != nil {
		return nil, err
	}
	var head *store.FailedMutation
	for i := range all {
		if all[i].Seq == seq {
			head = &all[i]
			break
		}
	}
	if head == nil {
		return nil, store.ErrNotFound
	}

	group := []store.FailedMutation{*head}
	if head.Op() != model.OpCreate {
		return group, nil
	}
	for _, f := range all {
		if f.Seq == seq || f.Reason != string(ReasonDependencyFailed) {
			continue
		}
		if dependsOn(f.Mutation, head.Kind(), head.AffectedID()) {
			group = append(group, f)
		}
	}
	return group, nil
}

func dependsOn(m model.Mutation, kind model.Kind, id model.ID) bool {
	if m.Kind() == kind && m.AffectedID() == id {
		return true
	}
	return kind == model.KindJournal && m.Kind() == model.KindEntry && m.ParentID() == id
}
