package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPProber checks reachability by fetching a known URL.
//
// Only the exact ExpectStatus counts as Online. Captive portals answer
// generate_204-style URLs with a 200 login page or a redirect, so they are
// reported Offline.
type HTTPProber struct {
	URL          string
	ExpectStatus int
	Timeout      time.Duration
	Client       *http.Client
}

// NewHTTPProber creates a prober expecting 204 No Content.
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{URL: url, ExpectStatus: http.StatusNoContent, Timeout: 5 * time.Second}
}

// Probe performs one GET.
func (p *HTTPProber) Probe(ctx context.Context) Status {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := p.Client
	if client == nil {
		client = &http.Client{
			// Captive portals redirect; a redirect is not reachability.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		slog.Warn("connectivity probe: bad request", "url", p.URL, "error", err)
		return Offline
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Debug("connectivity probe failed", "url", p.URL, "error", err)
		return Offline
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	want := p.ExpectStatus
	if want == 0 {
		want = http.StatusNoContent
	}
	if resp.StatusCode != want {
		slog.Debug("connectivity probe: unexpected status", "url", p.URL, "status", resp.StatusCode)
		return Offline
	}
	return Online
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) Status

func (f ProberFunc) Probe(ctx context.Context) Status { return f(ctx) }
