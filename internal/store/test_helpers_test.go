package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/djsync/internal/model"
)

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func journal(id, title string) model.Journal {
	return model.Journal{ID: model.ID(id), Title: title, Date: "2026-05-01"}
}

func entry(id, journalID, desc string) model.Entry {
	return model.Entry{ID: model.ID(id), JournalID: model.ID(journalID), Description: desc}
}

// mustEnqueue enqueues p and returns the stored mutation.
func mustEnqueue(t *testing.T, s *Store, p model.Payload) model.Mutation {
	t.Helper()
	m, err := s.Enqueue(context.Background(), model.NewMutation(p, testNow))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	return m
}
