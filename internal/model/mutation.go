package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Op is the write operation a mutation replays.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Attachment is a local file uploaded with an entry create or update.
type Attachment struct {
	Path        string `json:"path"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Payload is the closed set of queued write operations:
//
//	JournalCreate, JournalUpdate, JournalDelete
//	EntryCreate,   EntryUpdate,   EntryDelete
//
// The unexported marker method keeps other packages from adding variants,
// so a type switch over these six cases is exhaustive.
type Payload interface {
	Kind() Kind
	Op() Op
	// TargetID is the record the operation applies to.
	TargetID() ID
	// TargetParent is the owning journal for entry operations.
	TargetParent() ID
	// WithTargetID returns a copy addressed to id.
	WithTargetID(id ID) Payload
	// WithTargetParent returns a copy whose parent reference is parent.
	// Journal payloads have no parent and are returned unchanged.
	WithTargetParent(parent ID) Payload

	isPayload()
}

// JournalCreate creates a journal. Journal.ID holds the temporary ID.
type JournalCreate struct {
	Journal Journal `json:"journal"`
}

// JournalUpdate replaces a journal with the full record.
type JournalUpdate struct {
	Journal Journal `json:"journal"`
}

// JournalDelete deletes a journal and, server side, its entries.
type JournalDelete struct {
	ID ID `json:"journal_id"`
}

// EntryCreate creates an entry. Entry.ID holds the temporary ID.
type EntryCreate struct {
	Entry Entry        `json:"entry"`
	Files []Attachment `json:"files,omitempty"`
}

// EntryUpdate replaces an entry with the full record plus any new files.
type EntryUpdate struct {
	Entry Entry        `json:"entry"`
	Files []Attachment `json:"files,omitempty"`
}

// EntryDelete deletes an entry.
type EntryDelete struct {
	ID        ID `json:"entry_id"`
	JournalID ID `json:"journal_id"`
}

func (JournalCreate) isPayload() {}
func (JournalUpdate) isPayload() {}
func (JournalDelete) isPayload() {}
func (EntryCreate) isPayload()   {}
func (EntryUpdate) isPayload()   {}
func (EntryDelete) isPayload()   {}

func (JournalCreate) Kind() Kind { return KindJournal }
func (JournalUpdate) Kind() Kind { return KindJournal }
func (JournalDelete) Kind() Kind { return KindJournal }
func (EntryCreate) Kind() Kind   { return KindEntry }
func (EntryUpdate) Kind() Kind   { return KindEntry }
func (EntryDelete) Kind() Kind   { return KindEntry }

func (JournalCreate) Op() Op { return OpCreate }
func (JournalUpdate) Op() Op { return OpUpdate }
func (JournalDelete) Op() Op { return OpDelete }
func (EntryCreate) Op() Op   { return OpCreate }
func (EntryUpdate) Op() Op   { return OpUpdate }
func (EntryDelete) Op() Op   { return OpDelete }

func (p JournalCreate) TargetID() ID { return p.Journal.ID }
func (p JournalUpdate) TargetID() ID { return p.Journal.ID }
func (p JournalDelete) TargetID() ID { return p.ID }
func (p EntryCreate) TargetID() ID   { return p.Entry.ID }
func (p EntryUpdate) TargetID() ID   { return p.Entry.ID }
func (p EntryDelete) TargetID() ID   { return p.ID }

func (JournalCreate) TargetParent() ID { return "" }
func (JournalUpdate) TargetParent() ID { return "" }
func (JournalDelete) TargetParent() ID { return "" }
func (p EntryCreate) TargetParent() ID { return p.Entry.JournalID }
func (p EntryUpdate) TargetParent() ID { return p.Entry.JournalID }
func (p EntryDelete) TargetParent() ID { return p.JournalID }

func (p JournalCreate) WithTargetID(id ID) Payload {
	p.Journal.ID = id
	return p
}

func (p JournalUpdate) WithTargetID(id ID) Payload {
	p.Journal.ID = id
	return p
}

func (p JournalDelete) WithTargetID(id ID) Payload {
	p.ID = id
	return p
}

func (p EntryCreate) WithTargetID(id ID) Payload {
	p.Entry.ID = id
	return p
}

func (p EntryUpdate) WithTargetID(id ID) Payload {
	p.Entry.ID = id
	return p
}

func (p EntryDelete) WithTargetID(id ID) Payload {
	p.ID = id
	return p
}

func (p JournalCreate) WithTargetParent(ID) Payload { return p }
func (p JournalUpdate) WithTargetParent(ID) Payload { return p }
func (p JournalDelete) WithTargetParent(ID) Payload { return p }

func (p EntryCreate) WithTargetParent(parent ID) Payload {
	p.Entry.JournalID = parent
	return p
}

func (p EntryUpdate) WithTargetParent(parent ID) Payload {
	p.Entry.JournalID = parent
	return p
}

func (p EntryDelete) WithTargetParent(parent ID) Payload {
	p.JournalID = parent
	return p
}

// Mutation is one pending write in the durable queue.
//
// Kind, Op, AffectedID and ParentID are derived from the payload so they can
// never disagree with it. Seq is assigned by the queue on enqueue and is
// strictly increasing; it defines replay order.
type Mutation struct {
	Seq        int64
	Payload    Payload
	EnqueuedAt time.Time
}

// NewMutation wraps a payload for enqueueing. Seq is left zero.
func NewMutation(p Payload, at time.Time) Mutation {
	return Mutation{Payload: p, EnqueuedAt: at}
}

func (m Mutation) Kind() Kind     { return m.Payload.Kind() }
func (m Mutation) Op() Op         { return m.Payload.Op() }
func (m Mutation) AffectedID() ID { return m.Payload.TargetID() }
func (m Mutation) ParentID() ID   { return m.Payload.TargetParent() }

// String renders the mutation for logs and CLI listings.
func (m Mutation) String() string {
	if parent := m.ParentID(); parent != "" {
		return fmt.Sprintf("#%d %s %s %s (journal %s)", m.Seq, m.Op(), m.Kind(), m.AffectedID(), parent)
	}
	return fmt.Sprintf("#%d %s %s %s", m.Seq, m.Op(), m.Kind(), m.AffectedID())
}

// EncodePayload serializes a payload for storage. The variant is recovered
// from the (kind, op) pair stored next to it.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("encode payload: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload reverses EncodePayload.
func DecodePayload(kind Kind, op Op, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch {
	case kind == KindJournal && op == OpCreate:
		var v JournalCreate
		err = json.Unmarshal(data, &v)
		p = v
	case kind == KindJournal && op == OpUpdate:
		var v JournalUpdate
		err = json.Unmarshal(data, &v)
		p = v
	case kind == KindJournal && op == OpDelete:
		var v JournalDelete
		err = json.Unmarshal(data, &v)
		p = v
	case kind == KindEntry && op == OpCreate:
		var v EntryCreate
		err = json.Unmarshal(data, &v)
		p = v
	case kind == KindEntry && op == OpUpdate:
		var v EntryUpdate
		err = json.Unmarshal(data, &v)
		p = v
	case kind == KindEntry && op == OpDelete:
		var v EntryDelete
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("decode payload: unknown variant %s/%s", kind, op)
	}
	if err != nil {
		return nil, fmt.Errorf("decode payload %s/%s: %w", kind, op, err)
	}
	return p, nil
}
