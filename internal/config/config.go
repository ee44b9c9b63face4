// Package config loads pstore settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pstore/internal/persist"
	"github.com/roach88/pstore/internal/store"
)

// Config holds the tunables of a database and the CLI.
type Config struct {
	// JournalMode is the SQLite journal_mode (WAL, DELETE, TRUNCATE, ...).
	JournalMode string `yaml:"journal_mode"`

	// Synchronous is the SQLite synchronous level (OFF, NORMAL, FULL, EXTRA).
	Synchronous string `yaml:"synchronous"`

	// BusyTimeoutMS is how long SQLite waits on a locked file.
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`

	// RowCacheSize bounds the engine's decoded row cache.
	RowCacheSize int `yaml:"row_cache_size"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

var (
	journalModes = []string{"DELETE", "TRUNCATE", "PERSIST", "MEMORY", "WAL", "OFF"}
	syncLevels   = []string{"OFF", "NORMAL", "FULL", "EXTRA"}
)

// Default returns the settings used when no file is given.
func Default() Config {
	d := store.DefaultOptions()
	return Config{
		JournalMode:   d.JournalMode,
		Synchronous:   d.Synchronous,
		BusyTimeoutMS: int(d.BusyTimeout / time.Millisecond),
		RowCacheSize:  persist.DefaultRowCacheSize,
		LogLevel:      "info",
	}
}

// Load reads a YAML config file. Fields missing from the file keep their
// defaults; unknown fields are an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every field and normalizes the pragma names to upper case.
func (c *Config) Validate() error {
	c.JournalMode = strings.ToUpper(c.JournalMode)
	c.Synchronous = strings.ToUpper(c.Synchronous)

	var errs []error
	if !contains(journalModes, c.JournalMode) {
		errs = append(errs, fmt.Errorf("journal_mode %q is not one of %v", c.JournalMode, journalModes))
	}
	if !contains(syncLevels, c.Synchronous) {
		errs = append(errs, fmt.Errorf("synchronous %q is not one of %v", c.Synchronous, syncLevels))
	}
	if c.BusyTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("busy_timeout_ms must not be negative, got %d", c.BusyTimeoutMS))
	}
	if c.RowCacheSize < 1 {
		errs = append(errs, fmt.Errorf("row_cache_size must be positive, got %d", c.RowCacheSize))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// StoreOptions returns the backing store options.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		JournalMode: c.JournalMode,
		Synchronous: c.Synchronous,
		BusyTimeout: time.Duration(c.BusyTimeoutMS) * time.Millisecond,
	}
}

// Options returns the persist options for these settings.
func (c Config) Options(logger *slog.Logger) []persist.Option {
	opts := []persist.Option{
		persist.WithStoreOptions(c.StoreOptions()),
		persist.WithRowCacheSize(c.RowCacheSize),
	}
	if logger != nil {
		opts = append(opts, persist.WithLogger(logger))
	}
	return opts
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
