package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dfbridge/backends"
	"github.com/roach88/dfbridge/internal/equiv"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dfbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	t.Setenv(backends.PostgresDSNEnv, "")
	path := writeConfig(t, `
log_level: debug
default_backend: sqlite
collect_backend: gota
backends: [gota, sqlite]
sqlite:
  path: /tmp/x.db
tolerances:
  std: {abs: 0, rel: 1e-4}
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DefaultBackend)
	assert.Equal(t, "gota", cfg.CollectBackend)
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	tols := cfg.ToleranceTable()
	assert.Equal(t, equiv.Tolerance{Rel: 1e-4}, tols["std"])
	assert.Equal(t, equiv.DefaultTolerances()["mean"], tols["mean"])

	opts := cfg.BackendOptions()
	assert.Equal(t, []string{"gota", "sqlite"}, opts.Enabled)
	assert.Equal(t, "/tmp/x.db", opts.SQLitePath)
	assert.Empty(t, opts.PostgresDSN)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(backends.PostgresDSNEnv, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.Enabled("sqlite"))
	assert.False(t, cfg.Enabled("postgres"))
}

func TestEmptyFileIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv(backends.PostgresDSNEnv, "postgres://env/db")
	cfg, err := Load(writeConfig(t, "postgres:\n  dsn: postgres://file/db\n"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Postgres.DSN)
	assert.True(t, cfg.Enabled("postgres"))
}

func TestRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("log_levle: debug\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_levle")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"unknown backend", func(c *Config) { c.Backends = []string{"duckdb"} }, `unknown backend "duckdb"`},
		{"default disabled", func(c *Config) { c.Backends = []string{"gota"} }, `default_backend: backend "arrow" is not enabled`},
		{"lazy collect", func(c *Config) { c.CollectBackend = "sqlite" }, "collect_backend"},
		{"postgres without dsn", func(c *Config) { c.DefaultBackend = "postgres" }, "not enabled"},
		{"negative tolerance", func(c *Config) { c.Tolerances = map[string]equiv.Tolerance{"sum": {Abs: -1}} }, "tolerances.sum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg := Default()
	cfg.Backends = []string{"duckdb", "gota"}
	cfg.LogLevel = "loud"
	err := cfg.Validate()
	assert.True(t, errors.Is(err, ErrUnknownBackend))
	assert.Contains(t, err.Error(), "log_level")
}
