// Package config loads djsync settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultProbeURL answers 204 when the internet is reachable. Captive
// portals answer it with a login page instead.
const DefaultProbeURL = "https://clients3.google.com/generate_204"

// Config is the full set of settings.
type Config struct {
	Database     string       `yaml:"database"`
	API          API          `yaml:"api"`
	Connectivity Connectivity `yaml:"connectivity"`
	Sync         Sync         `yaml:"sync"`
	Log          Log          `yaml:"log"`
	Metrics      Metrics      `yaml:"metrics"`
}

// API configures the backend client.
type API struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Connectivity configures the reachability probe. ForceOffline keeps the
// client offline whatever the probe says.
type Connectivity struct {
	ProbeURL     string        `yaml:"probe_url"`
	ProbeStatus  int           `yaml:"probe_status"`
	Interval     time.Duration `yaml:"interval"`
	ForceOffline bool          `yaml:"force_offline"`
}

// Sync configures the sync engine.
type Sync struct {
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Log configures logging. An empty File logs to stderr.
type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Database: defaultDatabase(),
		API: API{
			Timeout: 30 * time.Second,
		},
		Connectivity: Connectivity{
			ProbeURL:    DefaultProbeURL,
			ProbeStatus: 204,
			Interval:    15 * time.Second,
		},
		Sync: Sync{
			InitialBackoff:  time.Second,
			MaxBackoff:      time.Minute,
			RefreshInterval: time.Hour,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func defaultDatabase() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "djsync.db"
	}
	return filepath.Join(dir, "djsync", "djsync.db")
}

// Load reads path over the defaults. Unknown keys are rejected so typos
// do not silently fall back to defaults. A missing file yields the
// defaults when optional is true.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail later at runtime.
// API.URL may be empty; commands that talk to the server check it.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.API.URL != "" {
		if err := checkURL(c.API.URL); err != nil {
			errs = append(errs, fmt.Errorf("api.url: %w", err))
		}
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if err := checkURL(c.Connectivity.ProbeURL); err != nil {
		errs = append(errs, fmt.Errorf("connectivity.probe_url: %w", err))
	}
	if c.Connectivity.ProbeStatus < 100 || c.Connectivity.ProbeStatus > 599 {
		errs = append(errs, fmt.Errorf("connectivity.probe_status %d is not an HTTP status", c.Connectivity.ProbeStatus))
	}
	if c.Connectivity.Interval <= 0 {
		errs = append(errs, errors.New("connectivity.interval must be positive"))
	}
	if c.Sync.InitialBackoff <= 0 {
		errs = append(errs, errors.New("sync.initial_backoff must be positive"))
	}
	if c.Sync.MaxBackoff < c.Sync.InitialBackoff {
		errs = append(errs, errors.New("sync.max_backoff must not be below sync.initial_backoff"))
	}
	if c.Sync.RefreshInterval < 0 {
		errs = append(errs, errors.New("sync.refresh_interval must not be negative"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http or https URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
