package remote

import (
	"context"
	"net/http"

	"github.com/roach88/djsync/internal/model"
)

// journalBody is the writable part of a journal on the wire.
type journalBody struct {
	Title string `json:"journal_title"`
	Date  string `json:"journal_date"`
}

// CreateJournal creates j on the server and returns the stored journal with
// its permanent id. nonce is sent as the idempotency key.
func (c *Client) CreateJournal(ctx context.Context, j model.Journal, nonce string) (model.Journal, error) {
	const op = "create journal"
	req, err := jsonRequest(op, http.MethodPost, "/journals", journalBody{Title: j.Title, Date: j.Date})
	if err != nil {
		return model.Journal{}, err
	}
	req.nonce = nonce

	var out model.Journal
	if err := c.do(ctx, req, &out); err != nil {
		return model.Journal{}, err
	}
	if out.ID == "" || out.ID.IsTemp() {
		return model.Journal{}, missingID(op, "journal_id")
	}
	return out, nil
}

// ListJournals returns the user's journals.
func (c *Client) ListJournals(ctx context.Context) ([]model.Journal, error) {
	var out listBody[model.Journal]
	err := c.do(ctx, request{op: "list journals", method: http.MethodGet, path: "/journals"}, &out)
	if err != nil {
		return nil, err
	}
	return out.items, nil
}

// UpdateJournal replaces the journal with id j.ID. If the server answers
// without a record, j itself is returned.
func (c *Client) UpdateJournal(ctx context.Context, j model.Journal) (model.Journal, error) {
	const op = "update journal"
	if j.ID.IsTemp() || j.ID == "" {
		return model.Journal{}, &Error{Kind: KindValidation, Op: op, Err: errTempID}
	}
	req, err := jsonRequest(op, http.MethodPut, "/journals/"+j.ID.String(), journalBody{Title: j.Title, Date: j.Date})
	if err != nil {
		return model.Journal{}, err
	}

	var out model.Journal
	if err := c.do(ctx, req, &out); err != nil {
		return model.Journal{}, err
	}
	if out.ID == "" {
		return j, nil
	}
	return out, nil
}

// DeleteJournal deletes a journal. Deleting an already-deleted journal
// succeeds.
func (c *Client) DeleteJournal(ctx context.Context, id model.ID) error {
	const op = "delete journal"
	if id.IsTemp() || id == "" {
		return &Error{Kind: KindValidation, Op: op, Err: errTempID}
	}
	return c.do(ctx, request{
		op:         op,
		method:     http.MethodDelete,
		path:       "/journals/" + id.String(),
		notFoundOK: true,
	}, nil)
}
