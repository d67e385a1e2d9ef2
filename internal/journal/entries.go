package journal

import (
	"context"
	"fmt"

	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/store"
)

// CreateEntry adds an entry to a journal, uploading files with it.
//
// Queued entries get the neutral default sentiment and list each file as
// a pending upload image until the server answers with real URIs. An entry
// of a journal that is itself waiting to sync is always queued; its
// journal id is rewritten when the journal reconciles.
func (s *Service) CreateEntry(ctx context.Context, e model.Entry, files []model.Attachment) (model.Entry, error) {
	e = e.Normalize()
	if err := e.Validate(); err != nil {
		return model.Entry{}, err
	}
	jid, err := s.resolve(ctx, e.JournalID)
	if err != nil {
		return model.Entry{}, err
	}
	if _, err := s.get(ctx, model.KindJournal, jid); err != nil {
		return model.Entry{}, err
	}
	e.JournalID = jid
	e.ID = s.ids.NewID()

	if s.online() && !jid.IsTemp() {
		created, err := s.remote.CreateEntry(ctx, e, files, string(e.ID))
		switch {
		case err == nil:
			if err := s.store.Upsert(ctx, created); err != nil {
				return model.Entry{}, storageErr("store entry", err)
			}
			return created, nil
		case !queueable(err):
			return model.Entry{}, err
		}
	}

	var local model.Entry
	err = s.enqueue(ctx, "queue create entry", func(tx *store.Tx) (model.Payload, error) {
		parent, err := current(ctx, tx, model.KindJournal, jid)
		if err != nil {
			return nil, err
		}
		e.JournalID = parent.RecordID()
		local = withPendingImages(e.WithDefaultSentiment(), files)
		if err := tx.Upsert(ctx, local); err != nil {
			return nil, err
		}
		return model.EntryCreate{Entry: e, Files: files}, nil
	})
	if err != nil {
		return model.Entry{}, err
	}
	return local, nil
}

// UpdateEntry replaces an entry's content and uploads any new files. The
// entry stays in its journal; e.JournalID is ignored.
func (s *Service) UpdateEntry(ctx context.Context, e model.Entry, files []model.Attachment) (model.Entry, error) {
	id, err := s.resolve(ctx, e.ID)
	if err != nil {
		return model.Entry{}, err
	}
	rec, err := s.get(ctx, model.KindEntry, id)
	if err != nil {
		return model.Entry{}, err
	}

	inherit := e.Sentiment == ""
	e = adopt(e, rec.(model.Entry), inherit).Normalize()
	if err := e.Validate(); err != nil {
		return model.Entry{}, err
	}

	direct, err := s.sendDirect(ctx, model.KindEntry, id, e.JournalID)
	if err != nil {
		return model.Entry{}, err
	}
	if direct {
		updated, err := s.remote.UpdateEntry(ctx, e, files)
		switch {
		case err == nil:
			if err := s.store.Upsert(ctx, updated); err != nil {
				return model.Entry{}, storageErr("store entry", err)
			}
			return updated, nil
		case !queueable(err):
			return model.Entry{}, err
		}
	}

	var local model.Entry
	err = s.enqueue(ctx, "queue update entry", func(tx *store.Tx) (model.Payload, error) {
		rec, err := current(ctx, tx, model.KindEntry, id)
		if err != nil {
			return nil, err
		}
		e = adopt(e, rec.(model.Entry), inherit)
		local = withPendingImages(e, files)
		if err := tx.Upsert(ctx, local); err != nil {
			return nil, err
		}
		return model.EntryUpdate{Entry: e, Files: files}, nil
	})
	if err != nil {
		return model.Entry{}, err
	}
	return local, nil
}

// DeleteEntry deletes an entry locally and on the server, now or once
// synced. An entry that never reached the server is dropped with its
// queued mutations.
func (s *Service) DeleteEntry(ctx context.Context, id model.ID) error {
	id, err := s.resolve(ctx, id)
	if err != nil {
		return err
	}
	rec, err := s.get(ctx, model.KindEntry, id)
	if err != nil {
		return err
	}
	jid := rec.ParentID()

	direct, err := s.sendDirect(ctx, model.KindEntry, id, jid)
	if err != nil {
		return err
	}
	if direct {
		err := s.remote.DeleteEntry(ctx, id)
		switch {
		case err == nil:
			if err := s.store.Update(ctx, func(tx *store.Tx) error {
				return tx.Remove(ctx, model.KindEntry, id)
			}); err != nil {
				return storageErr(fmt.Sprintf("remove entry %s", id), err)
			}
			return nil
		case !queueable(err):
			return err
		}
	}

	return s.enqueue(ctx, fmt.Sprintf("delete entry %s", id), func(tx *store.Tx) (model.Payload, error) {
		rec, err := current(ctx, tx, model.KindEntry, id)
		if err != nil {
			return nil, err
		}
		id, jid := rec.RecordID(), rec.ParentID()
		if _, err := tx.Cancel(ctx, model.KindEntry, id, s.sync.InFlight()); err != nil {
			return nil, err
		}
		if err := tx.Remove(ctx, model.KindEntry, id); err != nil {
			return nil, err
		}
		if id.IsTemp() {
			pending, err := tx.HasPending(ctx, model.KindEntry, id)
			if err != nil || !pending {
				return nil, err
			}
		}
		return model.EntryDelete{ID: id, JournalID: jid}, nil
	})
}

// adopt takes the stored entry's identity, and its sentiment when inherit
// is set; the server computes sentiment, so an edit keeps the last values.
func adopt(e, stored model.Entry, inherit bool) model.Entry {
	e.ID = stored.ID
	e.JournalID = stored.JournalID
	if inherit {
		e.Sentiment = stored.Sentiment
		e.PositivePercentage = stored.PositivePercentage
		e.NegativePercentage = stored.NegativePercentage
		e.NeutralPercentage = stored.NeutralPercentage
	}
	return e
}

// withPendingImages lists each attachment as an image still to upload.
func withPendingImages(e model.Entry, files []model.Attachment) model.Entry {
	if len(files) == 0 {
		return e
	}
	images := make(model.Images, 0, len(e.Images)+len(files))
	images = append(images, e.Images...)
	for _, f := range files {
		images = append(images, model.Image{URI: "file://" + f.Path, PendingUpload: true})
	}
	e.Images = images
	return e
}
