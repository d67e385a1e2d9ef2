package cli

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/djsync/internal/config"
	"github.com/roach88/djsync/internal/connectivity"
	"github.com/roach88/djsync/internal/engine"
	"github.com/roach88/djsync/internal/journal"
	"github.com/roach88/djsync/internal/model"
	"github.com/roach88/djsync/internal/remote"
	"github.com/roach88/djsync/internal/store"
)

// app wires the components every command works with.
type app struct {
	cfg     config.Config
	store   *store.Store
	client  *remote.Client
	monitor *connectivity.Monitor
	engine  *engine.Engine
	journal *journal.Service
	logs    io.Closer
}

// openApp loads configuration, applies flag overrides and opens the
// database. reg receives the engine's metrics and may be nil.
func openApp(cmd *cobra.Command, opts *RootOptions, reg prometheus.Registerer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cfg.API.URL == "" {
		return nil, NewExitError(ExitCommandError, "api.url is not configured (set it in the config file or pass --api-url)")
	}

	logs, err := setupLogging(cfg.Log, opts.Verbose, os.Stderr)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up logging", err)
	}

	client, err := remote.New(remote.Config{BaseURL: cfg.API.URL, Timeout: cfg.API.Timeout})
	if err != nil {
		logs.Close()
		return nil, WrapExitError(ExitCommandError, "invalid api.url", err)
	}

	if dir := filepath.Dir(cfg.Database); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logs.Close()
			return nil, WrapExitError(ExitCommandError, "failed to create database directory", err)
		}
	}
	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		logs.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	prober := connectivity.NewHTTPProber(cfg.Connectivity.ProbeURL)
	prober.ExpectStatus = cfg.Connectivity.ProbeStatus
	monitor := connectivity.NewMonitor(prober, connectivity.WithInterval(cfg.Connectivity.Interval))
	if cfg.Connectivity.ForceOffline {
		monitor.ForceOffline(true)
	}

	eng := engine.New(st, client, monitor,
		engine.WithBackoff(cfg.Sync.InitialBackoff, cfg.Sync.MaxBackoff),
		engine.WithRefreshInterval(cfg.Sync.RefreshInterval),
		engine.WithRegisterer(reg),
		engine.WithOnAuthRequired(func() {
			slog.Warn("server rejected the stored credentials; run 'djsync login'")
		}),
		engine.WithOnFailed(func(m model.Mutation, reason engine.FailureReason, message string) {
			slog.Warn("change rejected by server; see 'djsync failed'", "mutation", m, "reason", reason, "message", message)
		}),
	)

	a := &app{
		cfg:     cfg,
		store:   st,
		client:  client,
		monitor: monitor,
		engine:  eng,
		journal: journal.New(st, client, eng, monitor),
		logs:    logs,
	}
	if _, err := a.journal.RestoreSession(cmd.Context()); err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read stored session", err)
	}
	return a, nil
}

// Close releases the database and log file.
func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.logs.Close())
}

// loadConfig reads the config file and applies flag overrides. The default
// config file is optional; an explicit --config must exist.
func loadConfig(opts *RootOptions) (config.Config, error) {
	path, optional := opts.ConfigPath, false
	if path == "" {
		path, optional = defaultConfigPath(), true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.APIURL != "" {
		cfg.API.URL = opts.APIURL
	}
	if opts.Offline {
		cfg.Connectivity.ForceOffline = true
	}
	return cfg, cfg.Validate()
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "djsync.yaml"
	}
	return filepath.Join(dir, "djsync", "djsync.yaml")
}

func (a *app) formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
