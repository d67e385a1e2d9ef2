package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/djsync/internal/model"
)

const mutationColumns = `seq, kind, op, affected_id, parent_id, payload, enqueued_at`

// Enqueue appends m to the queue and returns it with its assigned seq.
// Once Enqueue returns, the mutation survives process restart.
func (s *Store) Enqueue(ctx context.Context, m model.Mutation) (model.Mutation, error) {
	var out model.Mutation
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Enqueue(ctx, m)
		return err
	})
	return out, err
}

// PeekNext returns the oldest queued mutation without removing it.
func (s *Store) PeekNext(ctx context.Context) (model.Mutation, bool, error) {
	return peekNext(ctx, s.db)
}

// Dequeue removes the head mutation; see Tx.Dequeue.
func (s *Store) Dequeue(ctx context.Context, seq int64) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Dequeue(ctx, seq) })
}

// ListAll returns every queued mutation in seq order.
func (s *Store) ListAll(ctx context.Context) ([]model.Mutation, error) {
	return selectMutations(ctx, s.db, "mutations", "1 = 1")
}

// Len returns the number of queued mutations.
func (s *Store) Len(ctx context.Context) (int, error) {
	return queueLen(ctx, s.db)
}

// HasPending reports whether any queued mutation targets (kind, id).
func (s *Store) HasPending(ctx context.Context, kind model.Kind, id model.ID) (bool, error) {
	return hasPending(ctx, s.db, kind, id)
}

// HasPendingChildren reports whether any queued mutation of kind has
// parentID as its parent. A journal with queued entry work must not be
// deleted directly either.
func (s *Store) HasPendingChildren(ctx context.Context, kind model.Kind, parentID model.ID) (bool, error) {
	return hasPendingChildren(ctx, s.db, kind, parentID)
}

// ReplaceAffectedID rewrites queued mutations targeting (kind, oldID) to
// target newID; see Tx.ReplaceAffectedID.
func (s *Store) ReplaceAffectedID(ctx context.Context, kind model.Kind, oldID, newID model.ID) (int, error) {
	var n int
	err := s.Update(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.ReplaceAffectedID(ctx, kind, oldID, newID)
		return err
	})
	return n, err
}

// Enqueue appends m to the queue and returns it with its assigned seq.
func (t *Tx) Enqueue(ctx context.Context, m model.Mutation) (model.Mutation, error) {
	if m.Payload == nil {
		return model.Mutation{}, fmt.Errorf("enqueue: nil payload")
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = t.now()
	}
	payload, err := model.EncodePayload(m.Payload)
	if err != nil {
		return model.Mutation{}, fmt.Errorf("enqueue: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO mutations (kind, op, affected_id, parent_id, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.Kind(), m.Op(), m.AffectedID(), m.ParentID(), string(payload), formatTime(m.EnqueuedAt))
	if err != nil {
		return model.Mutation{}, fmt.Errorf("enqueue %s %s: %w", m.Op(), m.Kind(), err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return model.Mutation{}, fmt.Errorf("enqueue: last insert id: %w", err)
	}
	m.Seq = seq
	return m, nil
}

// PeekNext returns the oldest queued mutation without removing it.
func (t *Tx) PeekNext(ctx context.Context) (model.Mutation, bool, error) {
	return peekNext(ctx, t.tx)
}

// Dequeue removes the mutation with the given seq, which must be the head
// of the queue. Dequeuing a seq that is no longer queued is a no-op so a
// replayed confirmation is harmless; dequeuing any other queued mutation
// returns ErrNotHead.
func (t *Tx) Dequeue(ctx context.Context, seq int64) error {
	var head sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, `SELECT MIN(seq) FROM mutations`).Scan(&head); err != nil {
		return fmt.Errorf("dequeue %d: %w", seq, err)
	}
	if !head.Valid {
		return nil
	}
	if head.Int64 != seq {
		var exists bool
		if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM mutations WHERE seq = ?)`, seq).Scan(&exists); err != nil {
			return fmt.Errorf("dequeue %d: %w", seq, err)
		}
		if exists {
			return fmt.Errorf("dequeue %d (head %d): %w", seq, head.Int64, ErrNotHead)
		}
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM mutations WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("dequeue %d: %w", seq, err)
	}
	return nil
}

// ListAll returns every queued mutation in seq order.
func (t *Tx) ListAll(ctx context.Context) ([]model.Mutation, error) {
	return selectMutations(ctx, t.tx, "mutations", "1 = 1")
}

// Len returns the number of queued mutations.
func (t *Tx) Len(ctx context.Context) (int, error) {
	return queueLen(ctx, t.tx)
}

// HasPending reports whether any queued mutation targets (kind, id). This
// is the per-record pending marker: a record with queued mutations must
// not be written directly to the server, or the direct write could overtake
// the queued ones.
func (t *Tx) HasPending(ctx context.Context, kind model.Kind, id model.ID) (bool, error) {
	return hasPending(ctx, t.tx, kind, id)
}

// ReplaceAffectedID rewrites every queued mutation targeting (kind, oldID)
// so it targets newID, including the id inside its payload. Returns the
// number of mutations rewritten.
func (t *Tx) ReplaceAffectedID(ctx context.Context, kind model.Kind, oldID, newID model.ID) (int, error) {
	if oldID == newID {
		return 0, nil
	}
	ms, err := selectMutations(ctx, t.tx, "mutations", "kind = ? AND affected_id = ?", kind, oldID)
	if err != nil {
		return 0, fmt.Errorf("replace affected id: %w", err)
	}
	for _, m := range ms {
		if err := t.rewrite(ctx, m.Seq, m.Payload.WithTargetID(newID)); err != nil {
			return 0, fmt.Errorf("replace affected id: %w", err)
		}
	}
	return len(ms), nil
}

// ReplaceParentID rewrites every queued mutation of kind whose parent is
// oldParent so it references newParent. Returns the number rewritten.
func (t *Tx) ReplaceParentID(ctx context.Context, kind model.Kind, oldParent, newParent model.ID) (int, error) {
	if oldParent == newParent {
		return 0, nil
	}
	ms, err := selectMutations(ctx, t.tx, "mutations", "kind = ? AND parent_id = ?", kind, oldParent)
	if err != nil {
		return 0, fmt.Errorf("replace parent id: %w", err)
	}
	for _, m := range ms {
		if err := t.rewrite(ctx, m.Seq, m.Payload.WithTargetParent(newParent)); err != nil {
			return 0, fmt.Errorf("replace parent id: %w", err)
		}
	}
	return len(ms), nil
}

// Cancel drops queued mutations targeting (kind, id), except the one with
// seq keep (pass 0 to keep none). Used when the user deletes a record whose
// writes have not reached the server yet.
func (t *Tx) Cancel(ctx context.Context, kind model.Kind, id model.ID, keep int64) (int, error) {
	return t.deleteWhere(ctx, "kind = ? AND affected_id = ? AND seq != ?", kind, id, keep)
}

// CancelChildren drops queued mutations of kind whose parent is parentID,
// except the one with seq keep.
func (t *Tx) CancelChildren(ctx context.Context, kind model.Kind, parentID model.ID, keep int64) (int, error) {
	return t.deleteWhere(ctx, "kind = ? AND parent_id = ? AND seq != ?", kind, parentID, keep)
}

func (t *Tx) deleteWhere(ctx context.Context, where string, args ...any) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM mutations WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("cancel mutations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel mutations: rows affected: %w", err)
	}
	return int(n), nil
}

func (t *Tx) rewrite(ctx context.Context, seq int64, p model.Payload) error {
	data, err := model.EncodePayload(p)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		UPDATE mutations SET affected_id = ?, parent_id = ?, payload = ? WHERE seq = ?
	`, p.TargetID(), p.TargetParent(), string(data), seq)
	if err != nil {
		return fmt.Errorf("rewrite mutation %d: %w", seq, err)
	}
	return nil
}

func peekNext(ctx context.Context, q querier) (model.Mutation, bool, error) {
	ms, err := selectMutations(ctx, q, "mutations", "1 = 1 ORDER BY seq ASC LIMIT 1")
	if err != nil {
		return model.Mutation{}, false, fmt.Errorf("peek: %w", err)
	}
	if len(ms) == 0 {
		return model.Mutation{}, false, nil
	}
	return ms[0], true, nil
}

func queueLen(ctx context.Context, q querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

func hasPending(ctx context.Context, q querier, kind model.Kind, id model.ID) (bool, error) {
	var pending bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM mutations WHERE kind = ? AND affected_id = ?)
	`, kind, id).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("has pending %s %s: %w", kind, id, err)
	}
	return pending, nil
}

func hasPendingChildren(ctx context.Context, q querier, kind model.Kind, parentID model.ID) (bool, error) {
	var pending bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM mutations WHERE kind = ? AND parent_id = ?)
	`, kind, parentID).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("has pending children of %s: %w", parentID, err)
	}
	return pending, nil
}

// selectMutations reads mutations from table (mutations or
// failed_mutations) matching where. Results are in seq order unless where
// supplies its own ORDER BY.
func selectMutations(ctx context.Context, q querier, table, where string, args ...any) ([]model.Mutation, error) {
	query := `SELECT ` + mutationColumns + ` FROM ` + table + ` WHERE ` + where
	if !strings.Contains(where, "ORDER BY") {
		query += ` ORDER BY seq ASC`
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []model.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", table, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMutation(row scanner, extra ...any) (model.Mutation, error) {
	var (
		m          model.Mutation
		kind, op   string
		affected   string
		parent     string
		payload    string
		enqueuedAt string
	)
	dest := append([]any{&m.Seq, &kind, &op, &affected, &parent, &payload, &enqueuedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return model.Mutation{}, fmt.Errorf("scan mutation: %w", err)
	}
	p, err := model.DecodePayload(model.Kind(kind), model.Op(op), []byte(payload))
	if err != nil {
		return model.Mutation{}, fmt.Errorf("mutation %d: %w", m.Seq, err)
	}
	at, err := parseTime(enqueuedAt)
	if err != nil {
		return model.Mutation{}, fmt.Errorf("mutation %d: %w", m.Seq, err)
	}
	m.Payload = p
	m.EnqueuedAt = at
	return m, nil
}
