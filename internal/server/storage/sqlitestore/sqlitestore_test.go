package sqlitestore

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage/compress"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage/storagetest"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

func open(t *testing.T, path string, c compress.Type) *Store {
	t.Helper()
	s, err := Open(path, storagetest.Height, c, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return s
}

func TestStoreContract(t *testing.T) {
	for _, c := range []compress.Type{compress.Zstd, compress.Gzip} {
		t.Run(c.String(), func(t *testing.T) {
			storagetest.Run(t, func(t *testing.T) storage.Store {
				return open(t, filepath.Join(t.TempDir(), "world.db"), c)
			})
		})
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("", storagetest.Height, compress.Zstd, slog.New(slog.DiscardHandler))
	require.Error(t, err)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "world.db")
	pos := chunk.Pos{X: 1, Z: 1}

	s := open(t, path, compress.Zstd)
	require.NoError(t, s.SaveFull(ctx, pos, storagetest.Pattern(5)))
	require.NoError(t, s.Close())

	s = open(t, path, compress.Zstd)
	defer s.Close()
	g, err := s.LoadFull(ctx, pos)
	require.NoError(t, err)
	require.True(t, storagetest.Pattern(5).Equal(g))
}

func TestStoreCorruptBlob(t *testing.T) {
	ctx := context.Background()
	s := open(t, filepath.Join(t.TempDir(), "world.db"), compress.Zstd)
	defer s.Close()

	_, err := s.db.ExecContext(ctx, upsert, 0, 0, kindFull, []byte("junk"))
	require.NoError(t, err)
	_, err = s.LoadFull(ctx, chunk.Pos{})
	require.ErrorIs(t, err, storage.ErrCorrupt)
}
