package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/roach88/djsync/internal/model"
)

// idempotencyHeader mirrors remote.IdempotencyHeader. It is repeated here
// so remote's own tests can use the fake backend without an import cycle.
const idempotencyHeader = "Idempotency-Key"

// Request is one call observed by the fake backend.
type Request struct {
	Method string
	Path   string // without the /api prefix
	Nonce  string
	Status int // 0 when the connection was dropped
}

// String renders the request as a stable trace line.
func (r Request) String() string {
	line := r.Method + " " + r.Path
	if r.Nonce != "" {
		line += " key=" + r.Nonce
	}
	if r.Status == 0 {
		return line + " -> dropped"
	}
	return fmt.Sprintf("%s -> %d", line, r.Status)
}

// Matcher selects requests for a scripted failure.
type Matcher func(Request) bool

// AnyRequest matches every request.
func AnyRequest(Request) bool { return true }

// Match selects requests by method and path prefix ("" matches any).
func Match(method, pathPrefix string) Matcher {
	return func(r Request) bool {
		return (method == "" || r.Method == method) && strings.HasPrefix(r.Path, pathPrefix)
	}
}

type rule struct {
	match     Matcher
	status    int
	message   string
	drop      bool
	apply     bool
	remaining int
}

type fakeJournal struct {
	ID    int
	Title string
	Date  string
}

type fakeEntry struct {
	ID           int
	JournalID    int
	Description  string
	DateTime     string
	Location     string
	LocationName string
	LocationID   string
	Images       []string
}

type storedResponse struct {
	status int
	body   []byte
}

// Backend is an in-memory fake of the journal API served over httptest.
//
// It deduplicates creates by Idempotency-Key, can be scripted to fail or
// drop requests, and logs every call it sees.
//
// Thread-safety: All methods are safe for concurrent use.
type Backend struct {
	srv *httptest.Server
	mux *http.ServeMux

	mu          sync.Mutex
	nextID      int
	token       string
	dedup       bool
	journals    []fakeJournal
	entries     []fakeEntry
	nonces      map[string]storedResponse
	requests    []Request
	rules       []*rule
	inflight    int
	maxInflight int
	gate        chan struct{}
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithNextID sets the first permanent id the backend assigns.
func WithNextID(id int) BackendOption {
	return func(b *Backend) { b.nextID = id }
}

// WithToken makes the backend require "Bearer token" on data endpoints and
// issue token from login.
func WithToken(token string) BackendOption {
	return func(b *Backend) { b.token = token }
}

// WithoutDedup disables Idempotency-Key handling, so a replayed create
// produces a second record.
func WithoutDedup() BackendOption {
	return func(b *Backend) { b.dedup = false }
}

// NewBackend starts a fake backend that is closed when the test ends.
func NewBackend(t testing.TB, opts ...BackendOption) *Backend {
	t.Helper()
	b := &Backend{
		nextID: 1,
		dedup:  true,
		nonces: make(map[string]storedResponse),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.mux = b.routes()
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

// URL returns the API base URL to configure a client with.
func (b *Backend) URL() string {
	return b.srv.URL + "/api"
}

// Fail makes the next times requests matching m fail with status and a
// JSON message. times < 0 fails forever.
func (b *Backend) Fail(m Matcher, status int, message string, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = append(b.rules, &rule{match: m, status: status, message: message, remaining: times})
}

// Drop makes the next times matching requests lose their connection
// before the backend processes them.
func (b *Backend) Drop(m Matcher, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = append(b.rules, &rule{match: m, drop: true, remaining: times})
}

// DropAfterApply makes the next times matching requests take effect on the
// backend and then lose their connection, so the client never sees the
// response. This is the crash window between "server accepted" and "client
// committed".
func (b *Backend) DropAfterApply(m Matcher, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = append(b.rules, &rule{match: m, drop: true, apply: true, remaining: times})
}

// Pause holds every subsequent request until Resume is called.
func (b *Backend) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate == nil {
		b.gate = make(chan struct{})
	}
}

// Resume releases requests held by Pause.
func (b *Backend) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
}

// Requests returns every request seen so far.
func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// Writes returns the trace lines of every non-GET request, in arrival order.
func (b *Backend) Writes() []string {
	var out []string
	for _, r := range b.Requests() {
		if r.Method != http.MethodGet {
			out = append(out, r.String())
		}
	}
	return out
}

// Inflight returns how many requests are being handled right now.
func (b *Backend) Inflight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inflight
}

// MaxInflight returns the highest number of concurrently handled requests.
func (b *Backend) MaxInflight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxInflight
}

// Journals returns the backend's journals.
func (b *Backend) Journals() []model.Journal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Journal, 0, len(b.journals))
	for _, j := range b.journals {
		out = append(out, j.model())
	}
	return out
}

// Entries returns the backend's entries of one journal.
func (b *Backend) Entries(journalID model.ID) []model.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Entry
	for _, e := range b.entries {
		if strconv.Itoa(e.JournalID) == journalID.String() {
			out = append(out, e.model())
		}
	}
	return out
}

// SeedJournal stores a journal directly, as if another device created it.
func (b *Backend) SeedJournal(title, date string) model.Journal {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := fakeJournal{ID: b.allocID(), Title: title, Date: date}
	b.journals = append(b.journals, j)
	return j.model()
}

// SeedEntry stores an entry directly.
func (b *Backend) SeedEntry(journalID model.ID, description string) model.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	jid, _ := strconv.Atoi(journalID.String())
	e := fakeEntry{ID: b.allocID(), JournalID: jid, Description: description}
	b.entries = append(b.entries, e)
	return e.model()
}

func (b *Backend) allocID() int {
	id := b.nextID
	b.nextID++
	return id
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.inflight++
	if b.inflight > b.maxInflight {
		b.maxInflight = b.inflight
	}
	gate := b.gate
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inflight--
		b.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	// No keep-alive: net/http silently retries an Idempotency-Key request
	// that fails on a reused connection, which would hide scripted drops.
	w.Header().Set("Connection", "close")

	req := Request{
		Method: r.Method,
		Path:   strings.TrimPrefix(r.URL.Path, "/api"),
		Nonce:  r.Header.Get(idempotencyHeader),
	}
	rl := b.takeRule(req)

	if rl != nil && rl.drop && !rl.apply {
		b.log(req, 0)
		hijackClose(w)
		return
	}
	if rl != nil && !rl.drop {
		b.log(req, rl.status)
		writeJSON(w, rl.status, map[string]string{"message": rl.message})
		return
	}

	if !strings.HasPrefix(req.Path, "/auth/") && !b.authorized(r) {
		b.log(req, http.StatusUnauthorized)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
		return
	}

	rec := httptest.NewRecorder()
	b.mux.ServeHTTP(rec, r)

	if rl != nil && rl.apply {
		b.log(req, 0)
		hijackClose(w)
		return
	}

	b.log(req, rec.Code)
	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	_, _ = w.Write(rec.Body.Bytes())
}

func (b *Backend) takeRule(req Request) *rule {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rl := range b.rules {
		if rl.remaining == 0 || !rl.match(req) {
			continue
		}
		if rl.remaining > 0 {
			rl.remaining--
		}
		return rl
	}
	return nil
}

func (b *Backend) authorized(r *http.Request) bool {
	b.mu.Lock()
	token := b.token
	b.mu.Unlock()
	return token == "" || r.Header.Get("Authorization") == "Bearer "+token
}

func (b *Backend) log(req Request, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req.Status = status
	b.requests = append(b.requests, req)
}

func hijackClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("testutil: response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(fmt.Sprintf("testutil: hijack: %v", err))
	}
	conn.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (j fakeJournal) model() model.Journal {
	return model.Journal{ID: model.ID(strconv.Itoa(j.ID)), Title: j.Title, Date: j.Date}
}

func (j fakeJournal) wire() map[string]any {
	return map[string]any{
		"journal_id":    j.ID,
		"journal_title": j.Title,
		"journal_date":  j.Date,
	}
}

func (e fakeEntry) model() model.Entry {
	var out model.Entry
	data, _ := json.Marshal(e.wire())
	_ = json.Unmarshal(data, &out)
	return out
}

// wire encodes location and images as JSON strings, as the real backend does.
func (e fakeEntry) wire() map[string]any {
	images, _ := json.Marshal(e.Images)
	if e.Images == nil {
		images = []byte("[]")
	}
	var location any
	if e.Location != "" {
		location = e.Location
	}
	return map[string]any{
		"entry_id":            e.ID,
		"journal_id":          e.JournalID,
		"entry_description":   e.Description,
		"entry_datetime":      e.DateTime,
		"entry_location":      location,
		"entry_location_name": e.LocationName,
		"location_id":         e.LocationID,
		"entry_images":        string(images),
		"sentiment":           "positive",
		"positive_percentage": 60,
		"negative_percentage": 10,
		"neutral_percentage":  30,
	}
}

// replayNonce answers a create whose key was seen before. Returns false if
// the key is new.
func (b *Backend) replayNonce(w http.ResponseWriter, nonce string) bool {
	if nonce == "" {
		return false
	}
	b.mu.Lock()
	stored, ok := b.nonces[nonce]
	dedup := b.dedup
	b.mu.Unlock()
	if !ok || !dedup {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(stored.status)
	_, _ = w.Write(stored.body)
	return true
}

// respondCreated writes v and remembers it under nonce for replay.
// Must be called with b.mu held.
func (b *Backend) respondCreated(w http.ResponseWriter, nonce string, v any) {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(v)
	if nonce != "" {
		b.nonces[nonce] = storedResponse{status: http.StatusCreated, body: buf.Bytes()}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(buf.Bytes())
}
