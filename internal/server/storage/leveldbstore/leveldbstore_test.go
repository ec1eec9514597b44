package leveldbstore

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

func open(t *testing.T, dir string, c compress.Type) *Store {
	t.Helper()
	s, err := Open(dir, storagetest.Height, c, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return s
}

func TestStoreContract(t *testing.T) {
	for _, c := range []compress.Type{compress.Snappy, compress.LZ4, compress.None} {
		t.Run(c.String(), func(t *testing.T) {
			storagetest.Run(t, func(t *testing.T) storage.Store {
				return open(t, t.TempDir(), c)
			})
		})
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")
	pos := chunk.Pos{X: 8, Z: -8}

	s := open(t, dir, compress.Snappy)
	require.NoError(t, s.SaveFull(ctx, pos, storagetest.Pattern(3)))
	require.NoError(t, s.SavePartial(ctx, pos, []storage.BlockChange{
		{Pos: chunk.BlockPos{X: 0, Y: 63, Z: 0}, BlockID: 42},
	}))
	require.NoError(t, s.Close())

	s = open(t, dir, compress.Snappy)
	defer s.Close()
	g, err := s.LoadFull(ctx, pos)
	require.NoError(t, err)
	require.NoError(t, s.LoadPartial(ctx, pos, g))

	want := storagetest.Pattern(3)
	want.SetBlock(0, 63, 0, 42)
	require.True(t, want.Equal(g), "reopened store returned a different grid")
}

func TestStoreCorruptValue(t *testing.T) {
	ctx := context.Background()
	s := open(t, t.TempDir(), compress.Snappy)
	defer s.Close()

	require.NoError(t, s.db.Put(key(chunk.Pos{}, kindFull), []byte("junk"), nil))
	_, err := s.LoadFull(ctx, chunk.Pos{})
	require.ErrorIs(t, err, storage.ErrCorrupt)

	require.NoError(t, s.db.Put(key(chunk.Pos{}, kindPartial), []byte("junk"), nil))
	require.NoError(t, s.SavePartial(ctx, chunk.Pos{}, []storage.BlockChange{
		{Pos: chunk.BlockPos{X: 1, Y: 1, Z: 1}, BlockID: 1},
	}), "a corrupt change record is replaced")
}
