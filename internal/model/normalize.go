package model

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidRecord is returned by Validate for records the backend would
// reject outright.
var ErrInvalidRecord = errors.New("invalid record")

// normalizeText trims surrounding whitespace and applies NFC so a title
// typed on two keyboards compares and stores identically.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Normalize returns j with its text fields in canonical form.
func (j Journal) Normalize() Journal {
	j.Title = normalizeText(j.Title)
	j.Date = strings.TrimSpace(j.Date)
	return j
}

// Validate checks the fields the backend requires.
func (j Journal) Validate() error {
	if j.Title == "" {
		return fmt.Errorf("%w: journal title is required", ErrInvalidRecord)
	}
	return nil
}

// Normalize returns e with its text fields in canonical form.
func (e Entry) Normalize() Entry {
	e.Description = normalizeText(e.Description)
	e.LocationName = normalizeText(e.LocationName)
	e.DateTime = strings.TrimSpace(e.DateTime)
	return e
}

// Validate checks the fields the backend requires.
func (e Entry) Validate() error {
	if e.JournalID == "" {
		return fmt.Errorf("%w: entry journal_id is required", ErrInvalidRecord)
	}
	if e.Description == "" {
		return fmt.Errorf("%w: entry description is required", ErrInvalidRecord)
	}
	return nil
}
