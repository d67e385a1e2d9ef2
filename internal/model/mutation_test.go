package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationDerivesFieldsFromPayload(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	m := NewMutation(EntryCreate{Entry: Entry{ID: "temp_E1", JournalID: "temp_J1"}}, at)

	assert.Equal(t, KindEntry, m.Kind())
	assert.Equal(t, OpCreate, m.Op())
	assert.Equal(t, ID("temp_E1"), m.AffectedID())
	assert.Equal(t, ID("temp_J1"), m.ParentID())
	assert.Equal(t, at, m.EnqueuedAt)
}

func TestPayloadRekeying(t *testing.T) {
	p := EntryUpdate{
		Entry: Entry{ID: "temp_E1", JournalID: "temp_J1", Description: "edited"},
		Files: []Attachment{{Path: "/tmp/a.jpg"}},
	}

	got := p.WithTargetID("31").WithTargetParent("9").(EntryUpdate)

	assert.Equal(t, ID("31"), got.Entry.ID)
	assert.Equal(t, ID("9"), got.Entry.JournalID)
	assert.Equal(t, "edited", got.Entry.Description)
	assert.Equal(t, p.Files, got.Files)
	// Original untouched.
	assert.Equal(t, ID("temp_E1"), p.Entry.ID)

	del := JournalDelete{ID: "temp_J1"}
	assert.Equal(t, del, del.WithTargetParent("9"))
}

func TestPayloadCodecRecoversVariant(t *testing.T) {
	payloads := []Payload{
		JournalCreate{Journal: Journal{ID: "temp_J1", Title: "Trip", Date: "2026-05-01"}},
		JournalDelete{ID: "9"},
		EntryUpdate{Entry: Entry{ID: "31", JournalID: "9"}, Files: []Attachment{{Path: "/a.jpg", Name: "image_0.jpg"}}},
		EntryDelete{ID: "31", JournalID: "9"},
	}

	for _, p := range payloads {
		data, err := EncodePayload(p)
		require.NoError(t, err)

		back, err := DecodePayload(p.Kind(), p.Op(), data)
		require.NoError(t, err)
		assert.Equal(t, p, back)
	}
}

func TestDecodePayloadRejectsUnknownVariant(t *testing.T) {
	_, err := DecodePayload(KindJournal, Op("merge"), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown variant")
}

func TestEncodePayloadNil(t *testing.T) {
	_, err := EncodePayload(nil)
	require.Error(t, err)
}

func TestMutationString(t *testing.T) {
	m := Mutation{Seq: 3, Payload: EntryDelete{ID: "31", JournalID: "9"}}
	assert.Equal(t, "#3 delete entry 31 (journal 9)", m.String())

	m = Mutation{Seq: 1, Payload: JournalCreate{Journal: Journal{ID: "temp_J1"}}}
	assert.Equal(t, "#1 create journal temp_J1", m.String())
}
