package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/djsync/internal/model"
)

// Upsert inserts rec or replaces the record with the same (kind, id).
// Fields are never merged; the stored record becomes exactly rec.
func (s *Store) Upsert(ctx context.Context, rec model.Record) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Upsert(ctx, rec) })
}

// Remove deletes a record. Removing an absent record is a no-op.
func (s *Store) Remove(ctx context.Context, kind model.Kind, id model.ID) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Remove(ctx, kind, id) })
}

// Rekey moves a record from oldID to newID; see Tx.Rekey.
func (s *Store) Rekey(ctx context.Context, kind model.Kind, oldID, newID model.ID) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.Rekey(ctx, kind, oldID, newID) })
}

// Get returns the record stored under (kind, id).
func (s *Store) Get(ctx context.Context, kind model.Kind, id model.ID) (model.Record, bool, error) {
	return getRecord(ctx, s.db, kind, id)
}

// ListByParent returns records of kind whose parent is parentID, in
// insertion order. Journals have the empty parent.
func (s *Store) ListByParent(ctx context.Context, kind model.Kind, parentID model.ID) ([]model.Record, error) {
	return listByParent(ctx, s.db, kind, parentID)
}

// Journals returns all journals in insertion order.
func (s *Store) Journals(ctx context.Context) ([]model.Journal, error) {
	return journals(ctx, s.db)
}

// Entries returns the entries of one journal in insertion order.
func (s *Store) Entries(ctx context.Context, journalID model.ID) ([]model.Entry, error) {
	return entries(ctx, s.db, journalID)
}

// Upsert inserts rec or replaces the record with the same (kind, id).
func (t *Tx) Upsert(ctx context.Context, rec model.Record) error {
	return upsertRecord(ctx, t.tx, rec)
}

// Remove deletes a record. Removing an absent record is a no-op.
func (t *Tx) Remove(ctx context.Context, kind model.Kind, id model.ID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, id); err != nil {
		return fmt.Errorf("remove %s %s: %w", kind, id, err)
	}
	return nil
}

// RemoveByParent deletes every record of kind owned by parentID and returns
// how many were removed.
func (t *Tx) RemoveByParent(ctx context.Context, kind model.Kind, parentID model.ID) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND parent_id = ?`, kind, parentID)
	if err != nil {
		return 0, fmt.Errorf("remove %s children of %s: %w", kind, parentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove %s children of %s: rows affected: %w", kind, parentID, err)
	}
	return int(n), nil
}

// Get returns the record stored under (kind, id).
func (t *Tx) Get(ctx context.Context, kind model.Kind, id model.ID) (model.Record, bool, error) {
	return getRecord(ctx, t.tx, kind, id)
}

// ListByParent returns records of kind whose parent is parentID, in
// insertion order.
func (t *Tx) ListByParent(ctx context.Context, kind model.Kind, parentID model.ID) ([]model.Record, error) {
	return listByParent(ctx, t.tx, kind, parentID)
}

// Rekey atomically moves the record stored under oldID to newID, rewriting
// the id inside the stored record. For journals it also reparents entries
// whose journal_id is oldID.
//
// Rekey is monotonic: if oldID is absent nothing moves, and if newID
// already exists the oldID row is dropped so the record stays reachable by
// exactly one id.
func (t *Tx) Rekey(ctx context.Context, kind model.Kind, oldID, newID model.ID) error {
	if oldID == newID {
		return nil
	}

	rec, found, err := getRecord(ctx, t.tx, kind, oldID)
	if err != nil {
		return fmt.Errorf("rekey %s %s: %w", kind, oldID, err)
	}
	if found {
		_, exists, err := getRecord(ctx, t.tx, kind, newID)
		if err != nil {
			return fmt.Errorf("rekey %s %s: %w", kind, oldID, err)
		}
		if exists {
			if err := t.Remove(ctx, kind, oldID); err != nil {
				return fmt.Errorf("rekey %s %s: %w", kind, oldID, err)
			}
		} else {
			data, err := json.Marshal(rec.WithID(newID))
			if err != nil {
				return fmt.Errorf("rekey %s %s: marshal: %w", kind, oldID, err)
			}
			_, err = t.tx.ExecContext(ctx, `
				UPDATE records SET id = ?, data = ? WHERE kind = ? AND id = ?
			`, newID, string(data), kind, oldID)
			if err != nil {
				return fmt.Errorf("rekey %s %s: %w", kind, oldID, err)
			}
		}
	}

	if kind == model.KindJournal {
		if _, err := t.Reparent(ctx, model.KindEntry, oldID, newID); err != nil {
			return fmt.Errorf("rekey %s %s: %w", kind, oldID, err)
		}
	}
	return nil
}

// Reparent rewrites the parent of every record of kind owned by oldParent
// and returns how many records changed.
func (t *Tx) Reparent(ctx context.Context, kind model.Kind, oldParent, newParent model.ID) (int, error) {
	recs, err := listByParent(ctx, t.tx, kind, oldParent)
	if err != nil {
		return 0, fmt.Errorf("reparent %s: %w", kind, err)
	}
	for _, rec := range recs {
		moved := rec.WithParent(newParent)
		data, err := json.Marshal(moved)
		if err != nil {
			return 0, fmt.Errorf("reparent %s %s: marshal: %w", kind, rec.RecordID(), err)
		}
		_, err = t.tx.ExecContext(ctx, `
			UPDATE records SET parent_id = ?, data = ? WHERE kind = ? AND id = ?
		`, newParent, string(data), kind, rec.RecordID())
		if err != nil {
			return 0, fmt.Errorf("reparent %s %s: %w", kind, rec.RecordID(), err)
		}
	}
	return len(recs), nil
}

func upsertRecord(ctx context.Context, q querier, rec model.Record) error {
	if rec == nil {
		return fmt.Errorf("upsert: nil record")
	}
	kind, id := rec.Kind(), rec.RecordID()
	if id == "" {
		return fmt.Errorf("upsert %s: empty id", kind)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("upsert %s %s: marshal: %w", kind, id, err)
	}

	// pos is only assigned on first insert so replacing a record keeps its
	// place in listings.
	_, err = q.ExecContext(ctx, `
		INSERT INTO records (kind, id, parent_id, pos, data)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(pos), 0) + 1 FROM records), ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			parent_id = excluded.parent_id,
			data = excluded.data
	`, kind, id, rec.ParentID(), string(data))
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", kind, id, err)
	}
	return nil
}

func getRecord(ctx context.Context, q querier, kind model.Kind, id model.ID) (model.Record, bool, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM records WHERE kind = ? AND id = ?`, kind, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	rec, err := model.DecodeRecord(kind, []byte(data))
	if err != nil {
		return nil, false, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return rec, true, nil
}

func listByParent(ctx context.Context, q querier, kind model.Kind, parentID model.ID) ([]model.Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT data FROM records
		WHERE kind = ? AND parent_id = ?
		ORDER BY pos ASC
	`, kind, parentID)
	if err != nil {
		return nil, fmt.Errorf("list %s by parent %q: %w", kind, parentID, err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("list %s: scan: %w", kind, err)
		}
		rec, err := model.DecodeRecord(kind, []byte(data))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return out, nil
}

func journals(ctx context.Context, q querier) ([]model.Journal, error) {
	recs, err := listByParent(ctx, q, model.KindJournal, "")
	if err != nil {
		return nil, err
	}
	out := make([]model.Journal, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(model.Journal))
	}
	return out, nil
}

func entries(ctx context.Context, q querier, journalID model.ID) ([]model.Entry, error) {
	recs, err := listByParent(ctx, q, model.KindEntry, journalID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.(model.Entry))
	}
	return out, nil
}

// Journals returns all journals in insertion order.
func (t *Tx) Journals(ctx context.Context) ([]model.Journal, error) {
	return journals(ctx, t.tx)
}

// Entries returns the entries of one journal in insertion order.
func (t *Tx) Entries(ctx context.Context, journalID model.ID) ([]model.Entry, error) {
	return entries(ctx, t.tx, journalID)
}
