package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/djsync/internal/model"
)

const (
	metaLastSyncTime = "last_sync_time"
	metaAuthToken    = "auth_token"
)

// MapID records that tempID was assigned permID by the server. The first
// assignment wins; recording the same temp id again is a no-op.
func (t *Tx) MapID(ctx context.Context, kind model.Kind, tempID, permID model.ID) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO id_map (temp_id, kind, perm_id, mapped_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(temp_id) DO NOTHING
	`, tempID, kind, permID, formatTime(t.now()))
	if err != nil {
		return fmt.Errorf("map id %s: %w", tempID, err)
	}
	return nil
}

// ResolveID returns the permanent id for a reconciled temporary id. Other
// ids are returned unchanged.
func (s *Store) ResolveID(ctx context.Context, id model.ID) (model.ID, error) {
	return resolveID(ctx, s.db, id)
}

// ResolveID returns the permanent id for a reconciled temporary id.
func (t *Tx) ResolveID(ctx context.Context, id model.ID) (model.ID, error) {
	return resolveID(ctx, t.tx, id)
}

func resolveID(ctx context.Context, q querier, id model.ID) (model.ID, error) {
	if !id.IsTemp() {
		return id, nil
	}
	var perm string
	err := q.QueryRowContext(ctx, `SELECT perm_id FROM id_map WHERE temp_id = ?`, id).Scan(&perm)
	if errors.Is(err, sql.ErrNoRows) {
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve id %s: %w", id, err)
	}
	return model.ID(perm), nil
}

// LastSyncTime returns when the mirror was last refreshed from the server.
func (s *Store) LastSyncTime(ctx context.Context) (time.Time, bool, error) {
	v, ok, err := getMeta(ctx, s.db, metaLastSyncTime)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last sync time: %w", err)
	}
	return t, true, nil
}

// SetLastSyncTime records a completed refresh.
func (s *Store) SetLastSyncTime(ctx context.Context, at time.Time) error {
	return s.Update(ctx, func(tx *Tx) error { return tx.SetLastSyncTime(ctx, at) })
}

// SetLastSyncTime records a completed refresh.
func (t *Tx) SetLastSyncTime(ctx context.Context, at time.Time) error {
	return setMeta(ctx, t.tx, metaLastSyncTime, formatTime(at))
}

// Token returns the persisted bearer token, or "" when logged out.
func (s *Store) Token(ctx context.Context) (string, error) {
	v, _, err := getMeta(ctx, s.db, metaAuthToken)
	return v, err
}

// SetToken persists the bearer token. An empty token logs out.
func (s *Store) SetToken(ctx context.Context, token string) error {
	return s.Update(ctx, func(tx *Tx) error {
		if token == "" {
			_, err := tx.tx.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, metaAuthToken)
			if err != nil {
				return fmt.Errorf("clear token: %w", err)
			}
			return nil
		}
		return setMeta(ctx, tx.tx, metaAuthToken, token)
	})
}

func getMeta(ctx context.Context, q querier, key string) (string, bool, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return v, true, nil
}

func setMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}
