package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/store"
	"github.com/roach88/djsync/internal/testutil"
)

// env is a config file pointing at a fake backend and a probe endpoint
// whose answer the test controls.
type env struct {
	t       *testing.T
	backend *testutil.Backend
	probe   atomic.Int32
	db      string
	config  string
}

func newEnv(t *testing.T, opts ...testutil.BackendOption) *env {
	t.Helper()
	e := &env{t: t, backend: testutil.NewBackend(t, opts...)}
	e.probe.Store(http.StatusNoContent)
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(e.probe.Load()))
	}))
	t.Cleanup(probe.Close)

	dir := t.TempDir()
	e.db = filepath.Join(dir, "djsync.db")
	e.config = filepath.Join(dir, "djsync.yaml")
	cfg := fmt.Sprintf(`database: %s
api:
  url: %s
  timeout: 2s
connectivity:
  probe_url: %s
sync:
  refresh_interval: 0s
log:
  level: error
`, e.db, e.backend.URL(), probe.URL)
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o644))
	return e
}

// captive makes the probe answer like a captive portal login page.
func (e *env) captive() { e.probe.Store(http.StatusOK) }

// exec runs djsync with the env's config and returns stdout.
func (e *env) exec(stdin string, args ...string) (string, error) {
	return e.execContext(context.Background(), stdin, args...)
}

func (e *env) execContext(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// status runs "status --format json".
func (e *env) status() StatusReport {
	e.t.Helper()
	out, err := e.exec("", "status", "--format", "json")
	require.NoError(e.t, err)
	var resp struct {
		Status string       `json:"status"`
		Data   StatusReport `json:"data"`
	}
	require.NoError(e.t, json.Unmarshal([]byte(out), &resp))
	require.Equal(e.t, "ok", resp.Status)
	return resp.Data
}

// enqueue writes a journal create straight into the database, as an
// earlier offline session would have.
func (e *env) enqueue(tempID, title string) {
	e.t.Helper()
	ctx := context.Background()
	s, err := store.Open(e.db)
	require.NoError(e.t, err)
	defer s.Close()

	j := model.Journal{ID: model.ID(tempID), Title: title, Date: "2026-05-01"}
	err = s.Update(ctx, func(tx *store.Tx) error {
		if err := tx.Upsert(ctx, j); err != nil {
			return err
		}
		_, err := tx.Enqueue(ctx, model.NewMutation(model.JournalCreate{Journal: j}, time.Now()))
		return err
	})
	require.NoError(e.t, err)
}
