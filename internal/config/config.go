// Package config loads agent and collector settings.
//
// Files are YAML (or CUE) and are validated against an embedded CUE schema,
// which also supplies defaults. The schema is closed: unknown keys are
// rejected.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Defaults, mirrored by schema.cue.
const (
	DefaultBootstrapPath   = "/1/{key}"
	DefaultEventsPath      = "/events"
	DefaultHarvestInterval = 10 * time.Second
	DefaultCancelTimeout   = 30 * time.Second
	DefaultRequestTimeout  = 5 * time.Second
	DefaultCollectorAddr   = "127.0.0.1:8089"
	DefaultDatabase        = "softnav.db"
)

// Config is the validated configuration.
type Config struct {
	LicenseKey       string `json:"license_key"`
	Endpoint         string `json:"endpoint"`
	BootstrapPath    string `json:"bootstrap_path"`
	EventsPath       string `json:"events_path"`
	HarvestInterval  int64  `json:"harvest_interval_ms"`
	RetryDelayMillis int64  `json:"retry_delay_ms"`
	CancelTimeout    int64  `json:"cancel_timeout_ms"`
	RequestTimeout   int64  `json:"request_timeout_ms"`
	CollectorAddr    string `json:"collector_addr"`
	Database         string `json:"database"`
	Entitled         bool   `json:"entitled"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		BootstrapPath:   DefaultBootstrapPath,
		EventsPath:      DefaultEventsPath,
		HarvestInterval: DefaultHarvestInterval.Milliseconds(),
		CancelTimeout:   DefaultCancelTimeout.Milliseconds(),
		RequestTimeout:  DefaultRequestTimeout.Milliseconds(),
		CollectorAddr:   DefaultCollectorAddr,
		Database:        DefaultDatabase,
		Entitled:        true,
	}
}

// HarvestPeriod returns the harvest interval.
func (c Config) HarvestPeriod() time.Duration {
	return time.Duration(c.HarvestInterval) * time.Millisecond
}

// RetryDelay returns the delay after a retry response. Defaults to the
// harvest interval.
func (c Config) RetryDelay() time.Duration {
	if c.RetryDelayMillis <= 0 {
		return c.HarvestPeriod()
	}
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

// CancelAfter returns the interaction idle timeout.
func (c Config) CancelAfter() time.Duration {
	return time.Duration(c.CancelTimeout) * time.Millisecond
}

// RequestTimeoutDuration returns the HTTP client timeout.
func (c Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// BootstrapURL returns the bootstrap request URL for the license key.
func (c Config) BootstrapURL() string {
	return strings.TrimRight(c.Endpoint, "/") + strings.ReplaceAll(c.BootstrapPath, "{key}", c.LicenseKey)
}

// EventsURL returns the harvest URL.
func (c Config) EventsURL() string {
	return strings.TrimRight(c.Endpoint, "/") + c.EventsPath
}

// Load reads and validates a config file. Files ending in .cue are compiled
// as CUE; anything else is parsed as YAML.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if filepath.Ext(path) == ".cue" {
		return ParseCUE(data, path)
	}
	return ParseYAML(data)
}

// ParseYAML validates a YAML document against the schema.
func ParseYAML(data []byte) (Config, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config yaml: %w", err)
	}

	ctx := cuecontext.New()
	return validate(ctx, ctx.Encode(raw))
}

// ParseCUE validates a CUE document against the schema.
func ParseCUE(data []byte, filename string) (Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config: %w", err)
	}
	return validate(ctx, v)
}

func validate(ctx *cue.Context, v cue.Value) (Config, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
