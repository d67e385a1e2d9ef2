package journal

import (
	"context"
	"fmt"

	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/store"
)

// CreateJournal creates a journal. Online it is created on the server and
// the returned journal carries the permanent id; otherwise it is stored
// with a temporary id and queued.
//
// The temporary id is the idempotency key of the direct send too, so a
// create that reached the server before the connection dropped is not
// duplicated when the queued copy replays.
func (s *Service) CreateJournal(ctx context.Context, title, date string) (model.Journal, error) {
	j := model.Journal{Title: title, Date: date}.Normalize()
	if err := j.Validate(); err != nil {
		return model.Journal{}, err
	}
	j.ID = s.ids.NewID()

	if s.online() {
		created, err := s.remote.CreateJournal(ctx, j, string(j.ID))
		switch {
		case err == nil:
			if err := s.store.Upsert(ctx, created); err != nil {
				return model.Journal{}, storageErr("store journal", err)
			}
			return created, nil
		case !queueable(err):
			return model.Journal{}, err
		}
	}

	err := s.enqueue(ctx, "queue create journal", func(tx *store.Tx) (model.Payload, error) {
		if err := tx.Upsert(ctx, j); err != nil {
			return nil, err
		}
		return model.JournalCreate{Journal: j}, nil
	})
	if err != nil {
		return model.Journal{}, err
	}
	return j, nil
}

// UpdateJournal replaces a journal's title and date.
func (s *Service) UpdateJournal(ctx context.Context, id model.ID, title, date string) (model.Journal, error) {
	id, err := s.resolve(ctx, id)
	if err != nil {
		return model.Journal{}, err
	}
	if _, err := s.get(ctx, model.KindJournal, id); err != nil {
		return model.Journal{}, err
	}
	j := model.Journal{ID: id, Title: title, Date: date}.Normalize()
	if err := j.Validate(); err != nil {
		return model.Journal{}, err
	}

	direct, err := s.sendDirect(ctx, model.KindJournal, id, "")
	if err != nil {
		return model.Journal{}, err
	}
	if direct {
		updated, err := s.remote.UpdateJournal(ctx, j)
		switch {
		case err == nil:
			if err := s.store.Upsert(ctx, updated); err != nil {
				return model.Journal{}, storageErr("store journal", err)
			}
			return updated, nil
		case !queueable(err):
			return model.Journal{}, err
		}
	}

	err = s.enqueue(ctx, "queue update journal", func(tx *store.Tx) (model.Payload, error) {
		rec, err := current(ctx, tx, model.KindJournal, id)
		if err != nil {
			return nil, err
		}
		j.ID = rec.RecordID()
		if err := tx.Upsert(ctx, j); err != nil {
			return nil, err
		}
		return model.JournalUpdate{Journal: j}, nil
	})
	if err != nil {
		return model.Journal{}, err
	}
	return j, nil
}

// DeleteJournal deletes a journal and its entries from the mirror and
// removes it from the server, now or once synced.
//
// A journal that never reached the server is dropped together with every
// queued mutation for it and its entries; nothing is sent.
func (s *Service) DeleteJournal(ctx context.Context, id model.ID) error {
	id, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.get(ctx, model.KindJournal, id); err != nil {
		return err
	}

	direct, err := s.sendDirect(ctx, model.KindJournal, id, "")
	if err != nil {
		return err
	}
	if direct {
		// Queued entry work would reach the server after the journal is
		// gone.
		busy, err := s.store.HasPendingChildren(ctx, model.KindEntry, id)
		if err != nil {
			return storageErr("check pending", err)
		}
		direct = !busy
	}
	if direct {
		err := s.remote.DeleteJournal(ctx, id)
		switch {
		case err == nil:
			return s.dropJournal(ctx, id)
		case !queueable(err):
			return err
		}
	}

	return s.enqueue(ctx, fmt.Sprintf("delete journal %s", id), func(tx *store.Tx) (model.Payload, error) {
		rec, err := current(ctx, tx, model.KindJournal, id)
		if err != nil {
			return nil, err
		}
		id := rec.RecordID()
		keep := s.sync.InFlight()
		if _, err := tx.CancelChildren(ctx, model.KindEntry, id, keep); err != nil {
			return nil, err
		}
		if _, err := tx.Cancel(ctx, model.KindJournal, id, keep); err != nil {
			return nil, err
		}
		if err := removeJournal(ctx, tx, id); err != nil {
			return nil, err
		}

		// A temporary journal whose create is not on the wire is gone for
		// good. Otherwise the server knows it, or is about to.
		if id.IsTemp() {
			pending, err := tx.HasPending(ctx, model.KindJournal, id)
			if err != nil || !pending {
				return nil, err
			}
		}
		return model.JournalDelete{ID: id}, nil
	})
}

func (s *Service) dropJournal(ctx context.Context, id model.ID) error {
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		return removeJournal(ctx, tx, id)
	})
	if err != nil {
		return storageErr(fmt.Sprintf("remove journal %s", id), err)
	}
	return nil
}

func removeJournal(ctx context.Context, tx *store.Tx, id model.ID) error {
	if _, err := tx.RemoveByParent(ctx, model.KindEntry, id); err != nil {
		return err
	}
	return tx.Remove(ctx, model.KindJournal, id)
}
