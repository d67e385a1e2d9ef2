package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TempPrefix marks identifiers generated on the device before the server
// has assigned a permanent one.
const TempPrefix = "temp_"

// ID identifies a journal or entry.
//
// Permanent IDs are opaque server values; the backend emits them as JSON
// numbers or strings, and ID accepts both. Temporary IDs are TempPrefix
// followed by a UUIDv7.
type ID string

// IsTemp reports whether the ID was generated locally and is still awaiting
// reconciliation.
func (id ID) IsTemp() bool {
	return strings.HasPrefix(string(id), TempPrefix)
}

// String returns the raw identifier.
func (id ID) String() string {
	return string(id)
}

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// IDGenerator produces temporary identifiers.
type IDGenerator interface {
	NewID() ID
}

// TempIDGenerator generates time-sortable temporary IDs.
//
// Thread-safety: TempIDGenerator is stateless and safe for concurrent use.
type TempIDGenerator struct{}

// NewID returns TempPrefix followed by a fresh UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (TempIDGenerator) NewID() ID {
	return ID(TempPrefix + uuid.Must(uuid.NewV7()).String())
}

// FixedGenerator returns predetermined IDs for tests and scenario replay.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []ID
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order. Values
// without TempPrefix get it prepended, so NewFixedGenerator("J1") yields
// "temp_J1".
func NewFixedGenerator(ids ...string) *FixedGenerator {
	g := &FixedGenerator{ids: make([]ID, 0, len(ids))}
	for _, id := range ids {
		if !strings.HasPrefix(id, TempPrefix) {
			id = TempPrefix + id
		}
		g.ids = append(g.ids, ID(id))
	}
	return g
}

// NewID returns the next predetermined ID.
//
// Panics when exhausted; a test that creates more records than it planned
// for is misconfigured.
func (g *FixedGenerator) NewID() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
