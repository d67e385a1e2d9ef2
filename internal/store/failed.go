package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/djsync/internal/model"
)

// FailedMutation is a queued write the server rejected. It stays here until
// the user retries or discards it.
type FailedMutation struct {
	model.Mutation
	Reason   string
	Message  string
	FailedAt time.Time
}

// Failed returns the failed list in original seq order.
func (s *Store) Failed(ctx context.Context) ([]FailedMutation, error) {
	return selectFailed(ctx, s.db, "1 = 1")
}

// FailedCount returns the number of failed mutations.
func (s *Store) FailedCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_mutations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed count: %w", err)
	}
	return n, nil
}

// Fail moves m from the queue to the failed list; see Tx.Fail.
func (s *Store) Fail(ctx context.Context, m model.Mutation, reason, message string) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Fail(ctx, m, reason, message) })
}

// Fail moves m from the queue to the failed list. Failing a mutation that
// is already on the failed list is a no-op.
func (t *Tx) Fail(ctx context.Context, m model.Mutation, reason, message string) error {
	payload, err := model.EncodePayload(m.Payload)
	if err != nil {
		return fmt.Errorf("fail mutation %d: %w", m.Seq, err)
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO failed_mutations
		(`+mutationColumns+`, reason, message, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		m.Seq,
		m.Kind(),
		m.Op(),
		m.AffectedID(),
		m.ParentID(),
		string(payload),
		formatTime(m.EnqueuedAt),
		reason,
		message,
		formatTime(t.now()),
	)
	if err != nil {
		return fmt.Errorf("fail mutation %d: %w", m.Seq, err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM mutations WHERE seq = ?`, m.Seq); err != nil {
		return fmt.Errorf("fail mutation %d: dequeue: %w", m.Seq, err)
	}
	return nil
}

// FailDependents moves every queued mutation that depends on the record
// (kind, id) to the failed list: mutations targeting it and, for journals,
// entry mutations whose parent it is. Returns the moved mutations.
func (t *Tx) FailDependents(ctx context.Context, kind model.Kind, id model.ID, reason, message string) ([]model.Mutation, error) {
	var (
		ms  []model.Mutation
		err error
	)
	if kind == model.KindJournal {
		ms, err = selectMutations(ctx, t.tx, "mutations",
			"(kind = ? AND affected_id = ?) OR (kind = ? AND parent_id = ?)",
			model.KindJournal, id, model.KindEntry, id)
	} else {
		ms, err = selectMutations(ctx, t.tx, "mutations", "kind = ? AND affected_id = ?", kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fail dependents of %s %s: %w", kind, id, err)
	}
	for _, m := range ms {
		if err := t.Fail(ctx, m, reason, message); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

// RetryFailed re-enqueues a failed mutation at the tail of the queue with a
// new seq and removes it from the failed list.
func (s *Store) RetryFailed(ctx context.Context, seq int64) (model.Mutation, error) {
	var out model.Mutation
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.RetryFailed(ctx, seq)
		return err
	})
	return out, err
}

// RetryFailed re-enqueues a failed mutation at the tail of the queue.
func (t *Tx) RetryFailed(ctx context.Context, seq int64) (model.Mutation, error) {
	f, err := t.takeFailed(ctx, seq)
	if err != nil {
		return model.Mutation{}, fmt.Errorf("retry failed %d: %w", seq, err)
	}
	return t.Enqueue(ctx, model.NewMutation(f.Payload, t.now()))
}

// DiscardFailed removes a failed mutation for good and returns it.
func (s *Store) DiscardFailed(ctx context.Context, seq int64) (FailedMutation, error) {
	var out FailedMutation
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.DiscardFailed(ctx, seq)
		return err
	})
	return out, err
}

// DiscardFailed removes a failed mutation for good and returns it.
func (t *Tx) DiscardFailed(ctx context.Context, seq int64) (FailedMutation, error) {
	f, err := t.takeFailed(ctx, seq)
	if err != nil {
		return FailedMutation{}, fmt.Errorf("discard failed %d: %w", seq, err)
	}
	return f, nil
}

// Failed returns the failed list in original seq order.
func (t *Tx) Failed(ctx context.Context) ([]FailedMutation, error) {
	return selectFailed(ctx, t.tx, "1 = 1")
}

func (t *Tx) takeFailed(ctx context.Context, seq int64) (FailedMutation, error) {
	fs, err := selectFailed(ctx, t.tx, "seq = ?", seq)
	if err != nil {
		return FailedMutation{}, err
	}
	if len(fs) == 0 {
		return FailedMutation{}, ErrNotFound
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM failed_mutations WHERE seq = ?`, seq); err != nil {
		return FailedMutation{}, err
	}
	return fs[0], nil
}

func selectFailed(ctx context.Context, q querier, where string, args ...any) ([]FailedMutation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+mutationColumns+`, reason, message, failed_at
		FROM failed_mutations
		WHERE `+where+`
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("select failed: %w", err)
	}
	defer rows.Close()

	var out []FailedMutation
	for rows.Next() {
		var (
			f        FailedMutation
			failedAt string
		)
		m, err := scanMutation(rows, &f.Reason, &f.Message, &failedAt)
		if err != nil {
			return nil, fmt.Errorf("select failed: %w", err)
		}
		f.Mutation = m
		if f.FailedAt, err = parseTime(failedAt); err != nil {
			return nil, fmt.Errorf("select failed: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select failed: %w", err)
	}
	return out, nil
}
