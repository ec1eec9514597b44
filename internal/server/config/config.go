package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage/compress"
)

// Storage backends.
const (
	BackendFile    = "file"
	BackendLevelDB = "leveldb"
	BackendSQLite  = "sqlite"
)

// Config holds the server configuration.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	Backend     string `yaml:"backend"`     // "file", "leveldb" or "sqlite"
	Compression string `yaml:"compression"` // see compress.Parse
	Generator   string `yaml:"generator"`   // "noise" or "flat"
	Seed        int64  `yaml:"seed"`
	Height      int    `yaml:"height"` // world height in blocks, a multiple of 16

	MaxLoadedChunks   int           `yaml:"max_loaded_chunks"`
	UnloadAfter       time.Duration `yaml:"unload_after"`
	GCInterval        time.Duration `yaml:"gc_interval"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	FullSaveThreshold int           `yaml:"full_save_threshold"`
	IOWorkers         int           `yaml:"io_workers"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:           "world",
		Backend:           BackendFile,
		Compression:       "gzip",
		Generator:         "noise",
		Height:            64,
		MaxLoadedChunks:   256,
		UnloadAfter:       60 * time.Second,
		GCInterval:        10 * time.Second,
		FlushInterval:     30 * time.Second,
		FullSaveThreshold: 1000,
		IOWorkers:         runtime.GOMAXPROCS(0),
		LogLevel:          "info",
	}
}

// Load reads a YAML config file. Keys missing from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge applies file-loaded config values into cfg, but only for fields
// that were NOT explicitly set via CLI flags. explicitFlags contains the
// flag names that were explicitly provided on the command line.
func Merge(cfg *Config, fromFile *Config, explicitFlags map[string]bool) {
	if !explicitFlags["data"] {
		cfg.DataDir = fromFile.DataDir
	}
	if !explicitFlags["backend"] {
		cfg.Backend = fromFile.Backend
	}
	if !explicitFlags["compression"] {
		cfg.Compression = fromFile.Compression
	}
	if !explicitFlags["generator"] {
		cfg.Generator = fromFile.Generator
	}
	if !explicitFlags["seed"] {
		cfg.Seed = fromFile.Seed
	}
	if !explicitFlags["height"] {
		cfg.Height = fromFile.Height
	}
	if !explicitFlags["max-loaded"] {
		cfg.MaxLoadedChunks = fromFile.MaxLoadedChunks
	}
	if !explicitFlags["unload-after"] {
		cfg.UnloadAfter = fromFile.UnloadAfter
	}
	if !explicitFlags["gc-interval"] {
		cfg.GCInterval = fromFile.GCInterval
	}
	if !explicitFlags["flush-interval"] {
		cfg.FlushInterval = fromFile.FlushInterval
	}
	if !explicitFlags["full-save-threshold"] {
		cfg.FullSaveThreshold = fromFile.FullSaveThreshold
	}
	if !explicitFlags["io-workers"] {
		cfg.IOWorkers = fromFile.IOWorkers
	}
	if !explicitFlags["log-level"] {
		cfg.LogLevel = fromFile.LogLevel
	}
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is empty"))
	}
	switch c.Backend {
	case BackendFile, BackendLevelDB, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if _, err := compress.Parse(c.Compression); err != nil {
		errs = append(errs, err)
	}
	switch c.Generator {
	case "noise", "default", "flat":
	default:
		errs = append(errs, fmt.Errorf("unknown generator %q", c.Generator))
	}
	if c.Height <= 0 || c.Height%16 != 0 {
		errs = append(errs, fmt.Errorf("height %d is not a positive multiple of 16", c.Height))
	}
	if c.MaxLoadedChunks < 1 {
		errs = append(errs, fmt.Errorf("max_loaded_chunks must be at least 1, got %d", c.MaxLoadedChunks))
	}
	for name, d := range map[string]time.Duration{
		"unload_after":   c.UnloadAfter,
		"gc_interval":    c.GCInterval,
		"flush_interval": c.FlushInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.FullSaveThreshold < 0 {
		errs = append(errs, fmt.Errorf("full_save_threshold must not be negative, got %d", c.FullSaveThreshold))
	}
	if c.IOWorkers < 1 {
		errs = append(errs, fmt.Errorf("io_workers must be at least 1, got %d", c.IOWorkers))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
