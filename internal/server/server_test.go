package server

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCharnyshevich/chunk-server/internal/server/config"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage/anvil"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Backend = backend
	cfg.Generator = "flat"
	cfg.IOWorkers = 2
	return cfg
}

func run(t *testing.T, cfg *config.Config, script string) string {
	t.Helper()
	srv, err := New(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, srv.Run(context.Background(), strings.NewReader(script), &out))
	return out.String()
}

func TestServerPersistsAcrossRestarts(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendLevelDB, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)

			out := run(t, cfg, "set 5 20 -7 9\nfill 0 30 0 3 30 3 4\nsave\nset 6 20 -7 8\nquit\nset 0 0 0 0\n")
			assert.Contains(t, out, "changed=true")
			assert.Contains(t, out, "16 blocks changed")
			assert.Contains(t, out, "saved")

			out = run(t, cfg, "get 5 20 -7\nget 6 20 -7\nget 2 30 2\nget 0 0 0\n")
			assert.Equal(t, "9\n8\n4\n3\n", out)
		})
	}
}

func TestConsoleListAndErrors(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	out := run(t, cfg, strings.Join([]string{
		"list",
		"get 0 0 0",
		"set 17 10 0 1",
		"list",
		"unload 0 0",
		"stats",
		"bogus",
		"set 1 2",
		"set 0 999 0 1",
		"set 0 1 0 300",
		"gc 0s",
		"list",
	}, "\n"))

	assert.Contains(t, out, "No chunks currently loaded in memory.")
	assert.Contains(t, out, "Loaded chunks in memory: 2")
	assert.Contains(t, out, " - 1,0 ")
	assert.Contains(t, out, "dirty=true changes=1")
	assert.Contains(t, out, "unloaded\n")
	assert.Contains(t, out, "resident=1 dirty=1 dirtyBlocks=1")
	assert.Contains(t, out, `unknown command "bogus"`)
	assert.Contains(t, out, "want 4 arguments, got 2")
	assert.Contains(t, out, "out of range")
	assert.Contains(t, out, "block id 300")
	assert.Contains(t, out, "unloaded 1 chunks")
	assert.True(t, strings.HasSuffix(out, "No chunks currently loaded in memory.\n"), out)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "tape")
	_, err := New(cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
}

func TestConsoleExport(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	dir := filepath.Join(t.TempDir(), "region")
	out := run(t, cfg, "set 0 10 0 1\nset -40 10 0 1\nexport "+dir+"\n")
	assert.Contains(t, out, "wrote 2 region files")

	_, err := os.Stat(anvil.RegionPath(dir, -1, 0))
	require.NoError(t, err)
}
