// Package storagetest holds behaviour tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// Height is the grid height stores under test must be created with.
const Height = chunk.DefaultHeight

// Factory returns a fresh, empty store. The store is closed by the caller.
type Factory func(t *testing.T) storage.Store

// Pattern returns a grid whose every block is derived from its coordinates.
func Pattern(seed byte) *chunk.Grid {
	g := chunk.NewGrid(Height)
	for i := range g.Sections {
		for j := range g.Sections[i].Blocks {
			g.Sections[i].Blocks[j] = byte(i*31+j) ^ seed
		}
	}
	return g
}

// Run exercises the storage.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("missing full record", func(t *testing.T) {
		s := open(t, newStore)
		_, err := s.LoadFull(ctx, chunk.Pos{X: 1, Z: 2})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("missing partial record is a no-op", func(t *testing.T) {
		s := open(t, newStore)
		g := Pattern(1)
		require.NoError(t, s.LoadPartial(ctx, chunk.Pos{X: 1, Z: 2}, g))
		assert.True(t, g.Equal(Pattern(1)))
	})

	t.Run("full round trip", func(t *testing.T) {
		s := open(t, newStore)
		pos := chunk.Pos{X: -3, Z: 7}
		want := Pattern(9)
		require.NoError(t, s.SaveFull(ctx, pos, want))

		got, err := s.LoadFull(ctx, pos)
		require.NoError(t, err)
		for y := 0; y < Height; y++ {
			for z := 0; z < chunk.SectionSize; z++ {
				for x := 0; x < chunk.SectionSize; x++ {
					w, _ := want.GetBlock(x, y, z)
					g, _ := got.GetBlock(x, y, z)
					if w != g {
						t.Fatalf("block (%d,%d,%d) = %d, want %d", x, y, z, g, w)
					}
				}
			}
		}

		_, err = s.LoadFull(ctx, chunk.Pos{X: 7, Z: -3})
		require.ErrorIs(t, err, storage.ErrNotFound, "records are keyed by position")
	})

	t.Run("partial records accumulate", func(t *testing.T) {
		s := open(t, newStore)
		pos := chunk.Pos{X: 0, Z: 0}
		first := []storage.BlockChange{
			{Pos: chunk.BlockPos{X: 1, Y: 2, Z: 3}, BlockID: 10},
			{Pos: chunk.BlockPos{X: 4, Y: 5, Z: 6}, BlockID: 11},
		}
		second := []storage.BlockChange{
			{Pos: chunk.BlockPos{X: 4, Y: 5, Z: 6}, BlockID: 12},
			{Pos: chunk.BlockPos{X: 15, Y: 63, Z: 15}, BlockID: 13},
		}
		require.NoError(t, s.SavePartial(ctx, pos, first))
		require.NoError(t, s.SavePartial(ctx, pos, second))

		g := chunk.NewGrid(Height)
		require.NoError(t, s.LoadPartial(ctx, pos, g))
		got := map[chunk.BlockPos]byte{}
		for _, p := range []chunk.BlockPos{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}, {X: 15, Y: 63, Z: 15}} {
			got[p], _ = g.GetBlock(p.X, p.Y, p.Z)
		}
		want := map[chunk.BlockPos]byte{
			{X: 1, Y: 2, Z: 3}:    10,
			{X: 4, Y: 5, Z: 6}:    12,
			{X: 15, Y: 63, Z: 15}: 13,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("replayed blocks mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("full save supersedes partial record", func(t *testing.T) {
		s := open(t, newStore)
		pos := chunk.Pos{X: 2, Z: 2}
		require.NoError(t, s.SavePartial(ctx, pos, []storage.BlockChange{
			{Pos: chunk.BlockPos{X: 0, Y: 0, Z: 0}, BlockID: 99},
		}))
		base := Pattern(3)
		require.NoError(t, s.SaveFull(ctx, pos, base))

		got, err := s.LoadFull(ctx, pos)
		require.NoError(t, err)
		require.NoError(t, s.LoadPartial(ctx, pos, got))
		assert.True(t, got.Equal(base), "stale change record was replayed after a full save")
	})

	t.Run("partial replay reproduces live grid", func(t *testing.T) {
		s := open(t, newStore)
		pos := chunk.Pos{X: 5, Z: -5}
		base := Pattern(0)
		require.NoError(t, s.SaveFull(ctx, pos, base))

		live := base.Clone()
		var dirty []chunk.BlockPos
		for i := 0; i < 40; i++ {
			p := chunk.BlockPos{X: i % 16, Y: (i * 7) % Height, Z: (i * 3) % 16}
			changed, err := live.SetBlock(p.X, p.Y, p.Z, byte(200+i))
			require.NoError(t, err)
			if changed {
				dirty = append(dirty, p)
			}
		}
		changes, err := storage.ChangesFrom(live, dirty)
		require.NoError(t, err)
		require.NoError(t, s.SavePartial(ctx, pos, changes))

		reloaded, err := s.LoadFull(ctx, pos)
		require.NoError(t, err)
		require.NoError(t, s.LoadPartial(ctx, pos, reloaded))
		assert.True(t, reloaded.Equal(live))
	})
}

func open(t *testing.T, newStore Factory) storage.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { s.Close() })
	return s
}
