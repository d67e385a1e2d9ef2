package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/roach88/djsync/internal/model"
)

// CreateEntry uploads e and its files and returns the stored entry with its
// permanent id. e.JournalID must already be permanent.
func (c *Client) CreateEntry(ctx context.Context, e model.Entry, files []model.Attachment, nonce string) (model.Entry, error) {
	const op = "create entry"
	if e.JournalID.IsTemp() || e.JournalID == "" {
		return model.Entry{}, &Error{Kind: KindValidation, Op: op, Message: "journal_id", Err: errTempID}
	}
	body, contentType, err := entryForm(e, files, false)
	if err != nil {
		return model.Entry{}, &Error{Kind: KindValidation, Op: op, Err: err}
	}

	var out model.Entry
	err = c.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		path:        "/entries",
		body:        body,
		contentType: contentType,
		nonce:       nonce,
	}, &out)
	if err != nil {
		return model.Entry{}, err
	}
	if out.ID == "" || out.ID.IsTemp() {
		return model.Entry{}, missingID(op, "entry_id")
	}
	if out.JournalID == "" {
		out.JournalID = e.JournalID
	}
	return out, nil
}

// ListEntries returns the entries of a journal.
func (c *Client) ListEntries(ctx context.Context, journalID model.ID) ([]model.Entry, error) {
	const op = "list entries"
	if journalID.IsTemp() || journalID == "" {
		return nil, &Error{Kind: KindValidation, Op: op, Err: errTempID}
	}
	var out listBody[model.Entry]
	err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/entries/" + journalID.String()}, &out)
	if err != nil {
		return nil, err
	}
	for i := range out.items {
		if out.items[i].JournalID == "" {
			out.items[i].JournalID = journalID
		}
	}
	return out.items, nil
}

// UpdateEntry replaces the entry with id e.ID, uploading any new files.
// If the server answers without a record, e itself is returned.
func (c *Client) UpdateEntry(ctx context.Context, e model.Entry, files []model.Attachment) (model.Entry, error) {
	const op = "update entry"
	if e.ID.IsTemp() || e.ID == "" || e.JournalID.IsTemp() {
		return model.Entry{}, &Error{Kind: KindValidation, Op: op, Err: errTempID}
	}
	body, contentType, err := entryForm(e, files, true)
	if err != nil {
		return model.Entry{}, &Error{Kind: KindValidation, Op: op, Err: err}
	}

	var out model.Entry
	err = c.do(ctx, request{
		op:          op,
		method:      http.MethodPut,
		path:        "/entries/" + e.ID.String(),
		body:        body,
		contentType: contentType,
	}, &out)
	if err != nil {
		return model.Entry{}, err
	}
	if out.ID == "" {
		return e, nil
	}
	return out, nil
}

// DeleteEntry deletes an entry. Deleting an already-deleted entry succeeds.
func (c *Client) DeleteEntry(ctx context.Context, id model.ID) error {
	const op = "delete entry"
	if id.IsTemp() || id == "" {
		return &Error{Kind: KindValidation, Op: op, Err: errTempID}
	}
	return c.do(ctx, request{
		op:         op,
		method:     http.MethodDelete,
		path:       "/entries/" + id.String(),
		notFoundOK: true,
	}, nil)
}

// entryForm encodes e as multipart/form-data. Files are sent as repeated
// entry_images parts named image_N.jpg. On update, images already on the
// server are listed in existing_images so the server keeps them.
func entryForm(e model.Entry, files []model.Attachment, update bool) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"journal_id", e.JournalID.String()},
		{"entry_description", e.Description},
		{"entry_datetime", e.DateTime},
	}
	if e.Location != nil {
		loc, err := json.Marshal(e.Location)
		if err != nil {
			return nil, "", fmt.Errorf("encode location: %w", err)
		}
		fields = append(fields, [2]string{"entry_location", string(loc)})
	}
	if e.LocationName != "" {
		fields = append(fields, [2]string{"entry_location_name", e.LocationName})
	}
	if e.LocationID != "" {
		fields = append(fields, [2]string{"location_id", e.LocationID})
	}
	if update {
		existing := make([]string, 0, len(e.Images))
		for _, img := range e.Images {
			if !img.PendingUpload {
				existing = append(existing, img.URI)
			}
		}
		data, err := json.Marshal(existing)
		if err != nil {
			return nil, "", fmt.Errorf("encode existing images: %w", err)
		}
		fields = append(fields, [2]string{"existing_images", string(data)})
	}

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	for i, att := range files {
		if err := writeFile(w, i, att); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, index int, att model.Attachment) error {
	name := att.Name
	if name == "" {
		name = fmt.Sprintf("image_%d%s", index, extOr(att.Path, ".jpg"))
	}
	contentType := att.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="entry_images"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", name, err)
	}

	f, err := os.Open(att.Path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy attachment %s: %w", att.Path, err)
	}
	return nil
}

func extOr(path, def string) string {
	if ext := filepath.Ext(path); ext != "" {
		return ext
	}
	return def
}
