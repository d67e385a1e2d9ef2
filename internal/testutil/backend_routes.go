package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

func (b *Backend) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", b.handleLogin)
	mux.HandleFunc("POST /api/auth/register", b.handleLogin)
	mux.HandleFunc("POST /api/journals", b.handleCreateJournal)
	mux.HandleFunc("GET /api/journals", b.handleListJournals)
	mux.HandleFunc("PUT /api/journals/{id}", b.handleUpdateJournal)
	mux.HandleFunc("DELETE /api/journals/{id}", b.handleDeleteJournal)
	mux.HandleFunc("POST /api/entries", b.handleCreateEntry)
	mux.HandleFunc("GET /api/entries/{journalID}", b.handleListEntries)
	mux.HandleFunc("PUT /api/entries/{id}", b.handleUpdateEntry)
	mux.HandleFunc("DELETE /api/entries/{id}", b.handleDeleteEntry)
	return mux
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"message": fmt.Sprintf(format, args...)})
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": what + " not found"})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if creds.Password == "" || creds.Password == "wrong" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}
	b.mu.Lock()
	token := b.token
	b.mu.Unlock()
	if token == "" {
		token = "test-token"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  map[string]string{"email": creds.Email},
	})
}

func (b *Backend) handleCreateJournal(w http.ResponseWriter, r *http.Request) {
	nonce := r.Header.Get(idempotencyHeader)
	if b.replayNonce(w, nonce) {
		return
	}
	var body struct {
		Title string `json:"journal_title"`
		Date  string `json:"journal_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if body.Title == "" {
		badRequest(w, "journal_title is required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	j := fakeJournal{ID: b.allocID(), Title: body.Title, Date: body.Date}
	b.journals = append(b.journals, j)
	b.respondCreated(w, nonce, j.wire())
}

func (b *Backend) handleListJournals(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	out := make([]map[string]any, 0, len(b.journals))
	for _, j := range b.journals {
		out = append(out, j.wire())
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleUpdateJournal(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(r.PathValue("id"))
	var body struct {
		Title string `json:"journal_title"`
		Date  string `json:"journal_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid body")
		return
	}
	if body.Title == "" {
		badRequest(w, "journal_title is required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.journals {
		if b.journals[i].ID == id {
			b.journals[i].Title = body.Title
			b.journals[i].Date = body.Date
			writeJSON(w, http.StatusOK, b.journals[i].wire())
			return
		}
	}
	notFound(w, "journal")
}

func (b *Backend) handleDeleteJournal(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(r.PathValue("id"))

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.journals {
		if b.journals[i].ID != id {
			continue
		}
		b.journals = append(b.journals[:i], b.journals[i+1:]...)
		kept := b.entries[:0]
		for _, e := range b.entries {
			if e.JournalID != id {
				kept = append(kept, e)
			}
		}
		b.entries = kept
		writeJSON(w, http.StatusOK, map[string]string{"message": "journal deleted"})
		return
	}
	notFound(w, "journal")
}

func (b *Backend) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	nonce := r.Header.Get(idempotencyHeader)
	if b.replayNonce(w, nonce) {
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "invalid form: %v", err)
		return
	}
	journalID, err := strconv.Atoi(r.FormValue("journal_id"))
	if err != nil {
		badRequest(w, "invalid journal_id %q", r.FormValue("journal_id"))
		return
	}
	if r.FormValue("entry_description") == "" {
		badRequest(w, "entry_description is required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasJournal(journalID) {
		badRequest(w, "journal %d not found", journalID)
		return
	}
	e := fakeEntry{
		ID:           b.allocID(),
		JournalID:    journalID,
		Description:  r.FormValue("entry_description"),
		DateTime:     r.FormValue("entry_datetime"),
		Location:     r.FormValue("entry_location"),
		LocationName: r.FormValue("entry_location_name"),
		LocationID:   r.FormValue("location_id"),
	}
	e.Images = uploadedImages(r, e.ID)
	b.entries = append(b.entries, e)
	b.respondCreated(w, nonce, e.wire())
}

func (b *Backend) handleListEntries(w http.ResponseWriter, r *http.Request) {
	journalID, _ := strconv.Atoi(r.PathValue("journalID"))

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasJournal(journalID) {
		notFound(w, "journal")
		return
	}
	out := make([]map[string]any, 0)
	for _, e := range b.entries {
		if e.JournalID == journalID {
			out = append(out, e.wire())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (b *Backend) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(r.PathValue("id"))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		badRequest(w, "invalid form: %v", err)
		return
	}
	if r.FormValue("entry_description") == "" {
		badRequest(w, "entry_description is required")
		return
	}
	var existing []string
	if raw := r.FormValue("existing_images"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			badRequest(w, "invalid existing_images")
			return
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		e := &b.entries[i]
		if e.ID != id {
			continue
		}
		e.Description = r.FormValue("entry_description")
		e.DateTime = r.FormValue("entry_datetime")
		e.Location = r.FormValue("entry_location")
		e.LocationName = r.FormValue("entry_location_name")
		e.LocationID = r.FormValue("location_id")
		e.Images = append(existing, uploadedImages(r, e.ID)...)
		writeJSON(w, http.StatusOK, e.wire())
		return
	}
	notFound(w, "entry")
}

func (b *Backend) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(r.PathValue("id"))

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		if b.entries[i].ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "entry deleted"})
			return
		}
	}
	notFound(w, "entry")
}

// hasJournal must be called with b.mu held.
func (b *Backend) hasJournal(id int) bool {
	for _, j := range b.journals {
		if j.ID == id {
			return true
		}
	}
	return false
}

func uploadedImages(r *http.Request, entryID int) []string {
	if r.MultipartForm == nil {
		return nil
	}
	var out []string
	for _, fh := range r.MultipartForm.File["entry_images"] {
		out = append(out, fmt.Sprintf("https://uploads.example/%d/%s", entryID, fh.Filename))
	}
	return out
}
