package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind distinguishes the two record types the engine synchronizes.
type Kind string

const (
	KindJournal Kind = "journal"
	KindEntry   Kind = "entry"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindJournal || k == KindEntry
}

// Record is implemented by Journal and Entry.
//
// Records are values: WithID and WithParent return modified copies so a
// record held by the mirror store is never mutated through an alias.
type Record interface {
	Kind() Kind
	RecordID() ID
	// ParentID is the owning journal for entries and empty for journals.
	ParentID() ID
	WithID(id ID) Record
	WithParent(parent ID) Record
}

// Journal is a named collection of entries.
type Journal struct {
	ID    ID     `json:"journal_id"`
	Title string `json:"journal_title"`
	Date  string `json:"journal_date"`
}

func (j Journal) Kind() Kind           { return KindJournal }
func (j Journal) RecordID() ID         { return j.ID }
func (j Journal) ParentID() ID         { return "" }
func (j Journal) WithParent(ID) Record { return j }

func (j Journal) WithID(id ID) Record {
	j.ID = id
	return j
}

// Default sentiment assigned to entries created offline. The server computes
// the real values once the entry syncs.
const (
	SentimentNeutral       = "neutral"
	DefaultNeutralPercent  = 100
	DefaultPositivePercent = 0
	DefaultNegativePercent = 0
)

// Entry is a dated journal entry with optional location and images.
type Entry struct {
	ID           ID        `json:"entry_id"`
	JournalID    ID        `json:"journal_id"`
	Description  string    `json:"entry_description"`
	DateTime     string    `json:"entry_datetime"`
	Location     *Location `json:"entry_location,omitempty"`
	LocationName string    `json:"entry_location_name,omitempty"`
	LocationID   string    `json:"location_id,omitempty"`
	Images       Images    `json:"entry_images,omitempty"`

	Sentiment          string  `json:"sentiment,omitempty"`
	PositivePercentage float64 `json:"positive_percentage"`
	NegativePercentage float64 `json:"negative_percentage"`
	NeutralPercentage  float64 `json:"neutral_percentage"`
}

func (e Entry) Kind() Kind   { return KindEntry }
func (e Entry) RecordID() ID { return e.ID }
func (e Entry) ParentID() ID { return e.JournalID }

func (e Entry) WithID(id ID) Record {
	e.ID = id
	return e
}

func (e Entry) WithParent(parent ID) Record {
	e.JournalID = parent
	return e
}

// WithDefaultSentiment fills in the neutral sentiment used until the server
// has analyzed the entry. Entries that already carry a sentiment are
// returned unchanged.
func (e Entry) WithDefaultSentiment() Entry {
	if e.Sentiment != "" {
		return e
	}
	e.Sentiment = SentimentNeutral
	e.PositivePercentage = DefaultPositivePercent
	e.NegativePercentage = DefaultNegativePercent
	e.NeutralPercentage = DefaultNeutralPercent
	return e
}

// Location is a geographic point attached to an entry.
//
// The backend stores it as a JSON-encoded string, so UnmarshalJSON accepts
// both an object and a string holding one.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l *Location) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode location: %w", err)
		}
		if s == "" || s == "null" {
			return nil
		}
		data = []byte(s)
	}
	type plain Location
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode location: %w", err)
	}
	*l = Location(p)
	return nil
}

// Image references an entry photo. PendingUpload marks a local file that
// has not reached the server yet.
type Image struct {
	URI           string `json:"uri"`
	PendingUpload bool   `json:"pending_upload,omitempty"`
}

// Images is the entry image list.
//
// The backend returns it as a JSON-encoded string of URIs; locally it is a
// plain array of Image. UnmarshalJSON accepts all of these forms.
type Images []Image

func (im *Images) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode images: %w", err)
		}
		if s == "" || s == "null" {
			*im = nil
			return nil
		}
		data = []byte(s)
	}
	if bytes.Equal(data, []byte("null")) {
		*im = nil
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode images: %w", err)
	}
	out := make(Images, 0, len(raw))
	for _, r := range raw {
		r = bytes.TrimSpace(r)
		if len(r) > 0 && r[0] == '"' {
			var uri string
			if err := json.Unmarshal(r, &uri); err != nil {
				return fmt.Errorf("decode images: %w", err)
			}
			out = append(out, Image{URI: uri})
			continue
		}
		var img Image
		if err := json.Unmarshal(r, &img); err != nil {
			return fmt.Errorf("decode images: %w", err)
		}
		out = append(out, img)
	}
	*im = out
	return nil
}

// DecodeRecord decodes a stored record of the given kind.
func DecodeRecord(kind Kind, data []byte) (Record, error) {
	switch kind {
	case KindJournal:
		var j Journal
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, fmt.Errorf("decode journal: %w", err)
		}
		return j, nil
	case KindEntry:
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("decode record: unknown kind %q", kind)
	}
}
