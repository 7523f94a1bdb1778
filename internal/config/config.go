// Package config loads the dfbridge configuration file.
//
// The file is YAML and decoded strictly: unknown keys are errors. Every
// field is optional. DFBRIDGE_POSTGRES_DSN overrides postgres.dsn, and
// command-line flags override both.
//
//	log_level: debug
//	default_backend: sqlite
//	collect_backend: arrow
//	backends: [gota, arrow, sqlite]
//	sqlite:
//	  path: ./scratch.db
//	postgres:
//	  dsn: postgres://localhost/dfbridge
//	tolerances:
//	  std: {abs: 1e-9, rel: 1e-5}
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dfbridge/backend"
	"github.com/roach88/dfbridge/backend/arrowbackend"
	"github.com/roach88/dfbridge/backend/gotabackend"
	"github.com/roach88/dfbridge/backend/sqlbackend"
	"github.com/roach88/dfbridge/backends"
	"github.com/roach88/dfbridge/internal/equiv"
)

// ErrUnknownBackend is returned for a backend tag no adapter carries.
var ErrUnknownBackend = errors.New("unknown backend")

// KnownBackends lists every backend tag, in registry order.
var KnownBackends = []string{gotabackend.Tag, arrowbackend.Tag, sqlbackend.TagSQLite, sqlbackend.TagPostgres}

var lazyBackends = []string{sqlbackend.TagSQLite, sqlbackend.TagPostgres}

// Config is the decoded configuration file.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// DefaultBackend runs programs when no --backend flag is given.
	DefaultBackend string `yaml:"default_backend"`

	// CollectBackend receives the results of lazy SQL programs. It must be
	// an eager backend.
	CollectBackend string `yaml:"collect_backend"`

	// Backends restricts the registry; empty enables every backend.
	Backends []string `yaml:"backends"`

	SQLite   SQLite   `yaml:"sqlite"`
	Postgres Postgres `yaml:"postgres"`

	// Tolerances override equiv.DefaultTolerances by aggregation kind.
	Tolerances map[string]equiv.Tolerance `yaml:"tolerances"`
}

// SQLite configures the SQLite backend.
type SQLite struct {
	// Path of the database file; empty is an in-memory database.
	Path string `yaml:"path"`
}

// Postgres configures the PostgreSQL backend. The backend is registered
// only when DSN is set.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Default returns the configuration used without a file.
func Default() Config {
	return Config{
		LogLevel:       "info",
		DefaultBackend: arrowbackend.Tag,
		CollectBackend: arrowbackend.Tag,
	}
}

// Load reads path, applies the environment and validates the result. An
// empty path yields Default with the environment applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes data over Default. It does not validate.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if dsn := getenv(backends.PostgresDSNEnv); dsn != "" {
		c.Postgres.DSN = dsn
	}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	for _, tag := range c.Backends {
		if !slices.Contains(KnownBackends, tag) {
			errs = append(errs, fmt.Errorf("backends: %w %q", ErrUnknownBackend, tag))
		}
	}
	if c.DefaultBackend != "" {
		if err := c.checkEnabled("default_backend", c.DefaultBackend); err != nil {
			errs = append(errs, err)
		}
	}
	if c.CollectBackend != "" {
		if err := c.checkEnabled("collect_backend", c.CollectBackend); err != nil {
			errs = append(errs, err)
		} else if slices.Contains(lazyBackends, c.CollectBackend) {
			errs = append(errs, fmt.Errorf("collect_backend: %q is lazy; choose an eager backend", c.CollectBackend))
		}
	}
	for kind, tol := range c.Tolerances {
		if tol.Abs < 0 || tol.Rel < 0 {
			errs = append(errs, fmt.Errorf("tolerances.%s: bounds must not be negative", kind))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) checkEnabled(field, tag string) error {
	if !slices.Contains(KnownBackends, tag) {
		return fmt.Errorf("%s: %w %q", field, ErrUnknownBackend, tag)
	}
	if !c.Enabled(tag) {
		return fmt.Errorf("%s: backend %q is not enabled", field, tag)
	}
	return nil
}

// Enabled reports whether tag is in the registry this configuration builds.
func (c *Config) Enabled(tag string) bool {
	if tag == sqlbackend.TagPostgres && c.Postgres.DSN == "" {
		return false
	}
	return len(c.Backends) == 0 || slices.Contains(c.Backends, tag)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// ToleranceTable merges the overrides into equiv.DefaultTolerances.
func (c *Config) ToleranceTable() map[string]equiv.Tolerance {
	out := equiv.DefaultTolerances()
	for kind, tol := range c.Tolerances {
		out[kind] = tol
	}
	return out
}

// BackendOptions returns the registry options for this configuration.
func (c *Config) BackendOptions(opts ...backend.Option) backends.Options {
	return backends.Options{
		Enabled:     c.Backends,
		SQLitePath:  c.SQLite.Path,
		PostgresDSN: c.Postgres.DSN,
		Backend:     opts,
	}
}
