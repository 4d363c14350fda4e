package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, uint64(200_000_000), cfg.Cleanup.MaxLedgerShreds)
	assert.Equal(t, uint64(512), cfg.Cleanup.PurgeInterval)
	assert.Equal(t, time.Second, cfg.Cleanup.PollInterval)
	assert.True(t, cfg.Cleanup.Enabled)
	assert.Equal(t, ":9090", cfg.Observability.MetricsAddr)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsCapBelowFloor(t *testing.T) {
	cfg := Default()
	cfg.Cleanup.MaxLedgerShreds = MinMaxLedgerShreds - 1

	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg.Cleanup.MaxLedgerShreds = MinMaxLedgerShreds
	assert.NoError(t, cfg.Validate())
}

func TestValidateFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.Ledger.Path = "" }},
		{"bad fsync", func(c *Config) { c.Ledger.Fsync = "sometimes" }},
		{"bad compression", func(c *Config) { c.Ledger.Compression = "brotli" }},
		{"zero poll interval", func(c *Config) { c.Cleanup.PollInterval = 0 }},
		{"zero root poll interval", func(c *Config) { c.Cleanup.RootPollInterval = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgerd.yaml")
	data := []byte(`
ledger:
  path: /var/lib/ledgerd
  fsync: always
cleanup:
  maxLedgerShreds: 60000000
  purgeInterval: 1024
  pollInterval: 250ms
observability:
  logLevel: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ledgerd", cfg.Ledger.Path)
	assert.Equal(t, "always", cfg.Ledger.Fsync)
	assert.Equal(t, uint64(60_000_000), cfg.Cleanup.MaxLedgerShreds)
	assert.Equal(t, uint64(1024), cfg.Cleanup.PurgeInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Cleanup.PollInterval)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	// Untouched keys keep their defaults.
	assert.Equal(t, "json", cfg.Observability.LogFormat)
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGERD_MAX_LEDGER_SHREDS", "75000000")
	t.Setenv("LEDGERD_PURGE_INTERVAL", "64")
	t.Setenv("LEDGERD_POLL_INTERVAL", "2s")
	t.Setenv("LEDGERD_CLEANUP_ENABLED", "false")
	t.Setenv("LEDGERD_LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, uint64(75_000_000), cfg.Cleanup.MaxLedgerShreds)
	assert.Equal(t, uint64(64), cfg.Cleanup.PurgeInterval)
	assert.Equal(t, 2*time.Second, cfg.Cleanup.PollInterval)
	assert.False(t, cfg.Cleanup.Enabled)
	assert.Equal(t, "text", cfg.Observability.LogFormat)
}

func TestEnvOverrideParseError(t *testing.T) {
	t.Setenv("LEDGERD_PURGE_INTERVAL", "lots")

	_, err := Load()
	assert.Error(t, err)
}
