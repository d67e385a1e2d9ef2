package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds every call when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// IdempotencyHeader carries the temporary id of a create so a server that
// deduplicates by nonce returns the original record on replay.
const IdempotencyHeader = "Idempotency-Key"

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. "https://journal.example.com/api".
	BaseURL string

	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration

	// HTTPClient defaults to a client with no overall timeout; the
	// per-call timeout is applied through the request context.
	HTTPClient *http.Client

	// Now is used to check token expiry. Defaults to time.Now.
	Now func() time.Time
}

// Client is a thin CRUD façade over the journal backend.
//
// Every method returns either the server's record or an *Error whose Kind
// tells the caller whether to retry, give up, or re-authenticate. Client
// keeps no local state beyond the bearer token.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote: base URL %q must be http or https", cfg.BaseURL)
	}

	c := &Client{
		base:    base,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		now:     cfg.Now,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// SetToken sets the bearer token sent with every call. An empty token
// sends no Authorization header.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// request describes one HTTP call.
type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
	nonce       string
	// public calls (login, register) skip the token check.
	public bool
	// notFoundOK treats 404 as success; deletes are idempotent.
	notFoundOK bool
}

// do performs req and decodes a 2xx JSON body into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	token := c.Token()
	if !req.public && tokenExpired(token, c.now()) {
		return &Error{Kind: KindAuth, Op: req.op, Message: "token expired"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.base.JoinPath(req.path)
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), body)
	if err != nil {
		return &Error{Kind: KindValidation, Op: req.op, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if token != "" && !req.public {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if req.nonce != "" {
		httpReq.Header.Set(IdempotencyHeader, req.nonce)
	}

	start := c.now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		slog.Debug("remote call failed", "op", req.op, "error", err)
		return &Error{Kind: KindNetwork, Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Kind: KindNetwork, Op: req.op, Status: resp.StatusCode, Err: err}
	}
	slog.Debug("remote call",
		"op", req.op,
		"method", req.method,
		"path", u.Path,
		"status", resp.StatusCode,
		"duration", c.now().Sub(start),
	)

	if resp.StatusCode == http.StatusNotFound && req.notFoundOK {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Kind:    classifyStatus(resp.StatusCode),
			Op:      req.op,
			Status:  resp.StatusCode,
			Message: serverMessage(data),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{
			Kind:    KindValidation,
			Op:      req.op,
			Status:  resp.StatusCode,
			Message: "malformed response",
			Err:     err,
		}
	}
	return nil
}

// serverMessage extracts {"message": ...} or {"error": ...} from an error
// body, falling back to the raw text.
func serverMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// jsonRequest builds a request with a JSON body.
func jsonRequest(op, method, path string, v any) (request, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return request{}, &Error{Kind: KindValidation, Op: op, Err: err}
	}
	return request{op: op, method: method, path: path, body: data, contentType: "application/json"}, nil
}

// listBody accepts either a bare JSON array or {"data": [...]}.
type listBody[T any] struct {
	items []T
}

func (l *listBody[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &l.items)
	}
	var wrapped struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	l.items = wrapped.Data
	return nil
}

// missingID builds the error returned when a create response carries no
// permanent id; reconciliation cannot proceed without one.
func missingID(op, field string) error {
	return &Error{Kind: KindValidation, Op: op, Message: "response missing " + field}
}

var errTempID = errors.New("temporary id cannot be sent to the server")
