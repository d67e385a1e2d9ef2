package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDIsTemp(t *testing.T) {
	assert.True(t, ID("temp_123").IsTemp())
	assert.False(t, ID("42").IsTemp())
	assert.False(t, ID("").IsTemp())
}

func TestIDUnmarshalAcceptsNumbersAndStrings(t *testing.T) {
	var j Journal
	require.NoError(t, json.Unmarshal([]byte(`{"journal_id": 9, "journal_title": "Trip"}`), &j))
	assert.Equal(t, ID("9"), j.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"journal_id": "abc", "journal_title": "Trip"}`), &j))
	assert.Equal(t, ID("abc"), j.ID)

	var e Entry
	require.NoError(t, json.Unmarshal([]byte(`{"entry_id": 12, "journal_id": null}`), &e))
	assert.Equal(t, ID("12"), e.ID)
	assert.Equal(t, ID(""), e.JournalID)
}

func TestTempIDGenerator(t *testing.T) {
	gen := TempIDGenerator{}
	a, b := gen.NewID(), gen.NewID()

	assert.True(t, a.IsTemp())
	assert.True(t, strings.HasPrefix(string(a), TempPrefix))
	assert.NotEqual(t, a, b)
	// UUIDv7 is time ordered, so later ids sort after earlier ones.
	assert.Less(t, string(a), string(b))
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("J1", "temp_E1")
	assert.Equal(t, ID("temp_J1"), gen.NewID())
	assert.Equal(t, ID("temp_E1"), gen.NewID())
	assert.Panics(t, func() { gen.NewID() })
}
