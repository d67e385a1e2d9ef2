package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/remote"
	"github.com/roach88/djsync/internal/store"
)

// step tells drainQueue how to continue after one mutation.
type step int

const (
	stepNext step = iota
	stepBackoff
	stepAuth
)

// process sends m and records the outcome. m is in flight on entry.
func (e *Engine) process(ctx context.Context, m model.Mutation) step {
	payload, err := e.resolvePayload(ctx, m)
	if err != nil {
		if IsDependencyError(err) {
			return e.failMutation(ctx, m, ReasonDependencyFailed, err.Error())
		}
		slog.Error("resolve mutation ids", "mutation", m, "error", err)
		e.release(ctx)
		return stepBackoff
	}

	slog.Debug("sending mutation", "mutation", m)
	result, err := e.dispatch(ctx, payload)
	if err == nil {
		e.metrics.sent.WithLabelValues(string(m.Kind()), string(m.Op()), "ok").Inc()
		if err := e.commit(ctx, m, result); err != nil {
			// The server applied it but the mirror did not record it. The
			// mutation stays queued and is replayed; creates carry their
			// temp id as idempotency key.
			slog.Error("commit confirmed mutation", "mutation", m, "error", err)
			e.release(ctx)
			return stepBackoff
		}
		slog.Info("mutation synced", "mutation", m)
		return stepNext
	}

	kind, ok := remote.KindOf(err)
	if !ok {
		kind = remote.KindNetwork
	}
	e.metrics.sent.WithLabelValues(string(m.Kind()), string(m.Op()), string(kind)).Inc()

	switch kind {
	case remote.KindValidation:
		slog.Warn("mutation rejected", "mutation", m, "error", err)
		return e.failMutation(ctx, m, ReasonValidation, validationMessage(err))
	case remote.KindAuth:
		slog.Warn("mutation refused: authentication", "mutation", m, "error", err)
		e.release(ctx)
		return stepAuth
	default:
		slog.Info("mutation not delivered", "mutation", m, "error", err)
		e.release(ctx)
		return stepBackoff
	}
}

// resolvePayload rewrites temporary ids that were reconciled after m was
// enqueued. An update, delete or child create that still names a temporary
// id at this point can never be applied: its create was rejected or
// discarded.
func (e *Engine) resolvePayload(ctx context.Context, m model.Mutation) (model.Payload, error) {
	p := m.Payload

	if parent := p.TargetParent(); parent.IsTemp() {
		resolved, err := e.store.ResolveID(ctx, parent)
		if err != nil {
			return nil, err
		}
		if resolved.IsTemp() {
			return nil, &DependencyError{Mutation: m, Missing: parent}
		}
		p = p.WithTargetParent(resolved)
	}

	if id := p.TargetID(); id.IsTemp() && p.Op() != model.OpCreate {
		resolved, err := e.store.ResolveID(ctx, id)
		if err != nil {
			return nil, err
		}
		if resolved.IsTemp() {
			return nil, &DependencyError{Mutation: m, Missing: id}
		}
		p = p.WithTargetID(resolved)
	}
	return p, nil
}

// dispatch performs the remote call for one payload. Creates send their
// temporary id as the idempotency key. The returned record is the server's
// version, or nil for deletes.
func (e *Engine) dispatch(ctx context.Context, p model.Payload) (model.Record, error) {
	switch p := p.(type) {
	case model.JournalCreate:
		j, err := e.remote.CreateJournal(ctx, p.Journal, string(p.Journal.ID))
		if err != nil {
			return nil, err
		}
		return j, nil
	case model.JournalUpdate:
		j, err := e.remote.UpdateJournal(ctx, p.Journal)
		if err != nil {
			return nil, err
		}
		return j, nil
	case model.JournalDelete:
		return nil, e.remote.DeleteJournal(ctx, p.ID)
	case model.EntryCreate:
		en, err := e.remote.CreateEntry(ctx, p.Entry, p.Files, string(p.Entry.ID))
		if err != nil {
			return nil, err
		}
		return en, nil
	case model.EntryUpdate:
		en, err := e.remote.UpdateEntry(ctx, p.Entry, p.Files)
		if err != nil {
			return nil, err
		}
		return en, nil
	case model.EntryDelete:
		return nil, e.remote.DeleteEntry(ctx, p.ID)
	default:
		return nil, &remote.Error{
			Kind:    remote.KindValidation,
			Op:      "dispatch",
			Message: fmt.Sprintf("unsupported payload %T", p),
		}
	}
}

// commit records a confirmed mutation: the server's record replaces the
// optimistic one and the mutation leaves the queue, in one transaction.
func (e *Engine) commit(ctx context.Context, m model.Mutation, result model.Record) error {
	reconciled := false
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.Dequeue(ctx, m.Seq); err != nil {
			return err
		}

		switch m.Op() {
		case model.OpCreate:
			if err := Reconcile(ctx, tx, m.Kind(), m.AffectedID(), result); err != nil {
				return err
			}
			reconciled = result.RecordID() != m.AffectedID()
		case model.OpUpdate:
			if err := upsertIfSettled(ctx, tx, result); err != nil {
				return err
			}
		case model.OpDelete:
			if err := removeIfSettled(ctx, tx, m.Kind(), m.AffectedID()); err != nil {
				return err
			}
		}

		e.setInFlight(0)
		return nil
	})
	if err != nil {
		return err
	}
	if reconciled {
		e.metrics.reconciled.WithLabelValues(string(m.Kind())).Inc()
	}
	return nil
}

// upsertIfSettled stores the server's version of rec unless more local
// edits are queued for it; those would be overwritten otherwise.
func upsertIfSettled(ctx context.Context, tx *store.Tx, rec model.Record) error {
	_, err := putIfSettled(ctx, tx, rec)
	return err
}

// removeIfSettled drops a deleted record from the mirror. The write path
// already removed it optimistically; this covers a record re-added by a
// refresh while the delete was queued.
func removeIfSettled(ctx context.Context, tx *store.Tx, kind model.Kind, id model.ID) error {
	pending, err := tx.HasPending(ctx, kind, id)
	if err != nil || pending {
		return err
	}
	if err := tx.Remove(ctx, kind, id); err != nil {
		return err
	}
	if kind == model.KindJournal {
		if _, err := tx.RemoveByParent(ctx, model.KindEntry, id); err != nil {
			return err
		}
	}
	return nil
}

// failMutation moves m to the failed list. A failed create takes every
// queued mutation that depends on the same record with it.
func (e *Engine) failMutation(ctx context.Context, m model.Mutation, reason FailureReason, message string) step {
	var dependents []model.Mutation
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.Fail(ctx, m, string(reason), message); err != nil {
			return err
		}
		if m.Op() == model.OpCreate {
			var err error
			dependents, err = tx.FailDependents(ctx, m.Kind(), m.AffectedID(),
				string(ReasonDependencyFailed),
				fmt.Sprintf("create of %s %s failed: %s", m.Kind(), m.AffectedID(), message))
			if err != nil {
				return err
			}
		}
		e.setInFlight(0)
		return nil
	})
	if err != nil {
		slog.Error("move mutation to failed list", "mutation", m, "error", err)
		e.release(ctx)
		return stepBackoff
	}

	e.notifyFailed(m, reason, message)
	for _, d := range dependents {
		e.notifyFailed(d, ReasonDependencyFailed, message)
	}
	return stepNext
}

func (e *Engine) notifyFailed(m model.Mutation, reason FailureReason, message string) {
	e.metrics.failed.WithLabelValues(string(reason)).Inc()
	slog.Warn("mutation failed", "mutation", m, "reason", reason, "message", message)
	if e.onFailed != nil {
		e.onFailed(m, reason, message)
	}
}

// validationMessage prefers the server's explanation.
func validationMessage(err error) string {
	var re *remote.Error
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return err.Error()
}
