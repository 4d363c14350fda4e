// Package config provides configuration loading and validation for ledgerd.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxLedgerShreds keeps roughly 400GB at ~2000 bytes per shred.
	DefaultMaxLedgerShreds uint64 = 200_000_000

	// MinMaxLedgerShreds is the lowest retention cap the daemon accepts.
	MinMaxLedgerShreds uint64 = 50_000_000

	// DefaultPurgeInterval is the minimum number of slots between purges.
	DefaultPurgeInterval uint64 = 512
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Config holds all configuration for a ledgerd process.
type Config struct {
	Ledger        LedgerConfig        `yaml:"ledger"`
	Cleanup       CleanupConfig       `yaml:"cleanup"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type LedgerConfig struct {
	Path               string        `yaml:"path" env:"LEDGERD_LEDGER_PATH"`
	Fsync              string        `yaml:"fsync" env:"LEDGERD_LEDGER_FSYNC"`
	Compression        string        `yaml:"compression" env:"LEDGERD_LEDGER_COMPRESSION"`
	CompactionInterval time.Duration `yaml:"compactionInterval" env:"LEDGERD_COMPACTION_INTERVAL"`
}

type CleanupConfig struct {
	Enabled          bool          `yaml:"enabled" env:"LEDGERD_CLEANUP_ENABLED"`
	MaxLedgerShreds  uint64        `yaml:"maxLedgerShreds" env:"LEDGERD_MAX_LEDGER_SHREDS"`
	PurgeInterval    uint64        `yaml:"purgeInterval" env:"LEDGERD_PURGE_INTERVAL"`
	PollInterval     time.Duration `yaml:"pollInterval" env:"LEDGERD_POLL_INTERVAL"`
	RootPollInterval time.Duration `yaml:"rootPollInterval" env:"LEDGERD_ROOT_POLL_INTERVAL"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"LEDGERD_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"LEDGERD_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"LEDGERD_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Path:               "ledger",
			Fsync:              "interval",
			Compression:        "none",
			CompactionInterval: time.Minute,
		},
		Cleanup: CleanupConfig{
			Enabled:          true,
			MaxLedgerShreds:  DefaultMaxLedgerShreds,
			PurgeInterval:    DefaultPurgeInterval,
			PollInterval:     time.Second,
			RootPollInterval: 400 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load returns the defaults with environment overrides applied.
func Load() (*Config, error) {
	cfg := Default()
	if err := applyEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFromPath reads a YAML file over the defaults, then applies
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := applyEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Ledger.Path == "" {
		return fmt.Errorf("%w: ledger.path is required", ErrInvalidConfig)
	}
	switch c.Ledger.Fsync {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("%w: ledger.fsync must be always, interval or never, got %q", ErrInvalidConfig, c.Ledger.Fsync)
	}
	switch c.Ledger.Compression {
	case "", "none", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("%w: ledger.compression must be none, snappy, lz4 or zstd, got %q", ErrInvalidConfig, c.Ledger.Compression)
	}
	if c.Cleanup.MaxLedgerShreds < MinMaxLedgerShreds {
		return fmt.Errorf("%w: cleanup.maxLedgerShreds %d is below the minimum %d",
			ErrInvalidConfig, c.Cleanup.MaxLedgerShreds, MinMaxLedgerShreds)
	}
	if c.Cleanup.PollInterval <= 0 {
		return fmt.Errorf("%w: cleanup.pollInterval must be positive", ErrInvalidConfig)
	}
	if c.Cleanup.RootPollInterval <= 0 {
		return fmt.Errorf("%w: cleanup.rootPollInterval must be positive", ErrInvalidConfig)
	}
	return nil
}

// applyEnv walks struct fields and overrides any field whose env tag names a
// set environment variable.
func applyEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnv(field); err != nil {
				return err
			}
			continue
		}

		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("config: %s=%q: %w", name, raw, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
