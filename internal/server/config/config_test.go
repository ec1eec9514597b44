package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 256, cfg.MaxLoadedChunks)
	assert.Equal(t, 64, cfg.Height)
	assert.Equal(t, 1000, cfg.FullSaveThreshold)
	assert.Equal(t, 60*time.Second, cfg.UnloadAfter)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	data := "backend: sqlite\nmax_loaded_chunks: 32\nflush_interval: 5s\nlog_level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, 32, cfg.MaxLoadedChunks)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 10*time.Second, cfg.GCInterval)
	assert.Equal(t, "gzip", cfg.Compression)

	l, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("height: [1, 2"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestMergeRespectsExplicitFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.Backend = BackendLevelDB

	fromFile := DefaultConfig()
	fromFile.Seed = 7
	fromFile.Backend = BackendSQLite
	fromFile.MaxLoadedChunks = 12

	Merge(cfg, fromFile, map[string]bool{"seed": true})
	assert.EqualValues(t, 42, cfg.Seed)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, 12, cfg.MaxLoadedChunks)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "tape"
	cfg.Height = 60
	cfg.GCInterval = 0
	cfg.Compression = "rar"
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"tape", "height 60", "gc_interval", "rar", "log_level"} {
		assert.Contains(t, err.Error(), want)
	}
}
