package world

import (
	"sync/atomic"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// Region is one resident grid together with its bookkeeping. Regions are
// owned by a ChunkStore; a region reports writes upward only through notify.
type Region struct {
	pos  chunk.Pos
	grid *chunk.Grid
	dirtyTracker

	// lastAccess is nanoseconds since the owning store's epoch.
	lastAccess atomic.Int64

	notify func(pos chunk.Pos, b chunk.BlockPos)
}

func newRegion(pos chunk.Pos, grid *chunk.Grid, now int64, notify func(chunk.Pos, chunk.BlockPos)) *Region {
	r := &Region{
		pos:          pos,
		grid:         grid,
		dirtyTracker: newDirtyTracker(grid.SectionCount()),
		notify:       notify,
	}
	r.lastAccess.Store(now)
	return r
}

// Pos returns the region position.
func (r *Region) Pos() chunk.Pos { return r.pos }

// Grid returns the region's block data. Writes must go through the owning
// ChunkStore so they are tracked.
func (r *Region) Grid() *chunk.Grid { return r.grid }

func (r *Region) touch(now int64) {
	r.lastAccess.Store(now)
}

// markDirty records a change at b and refreshes the access time. The caller
// holds b's section lock.
func (r *Region) markDirty(b chunk.BlockPos, now int64) {
	r.mark(b)
	r.touch(now)
}

// setBlock writes id at b and, when the value changed, marks it dirty and
// notifies the owner. The caller holds b's section lock for the whole call.
func (r *Region) setBlock(b chunk.BlockPos, id byte, now int64) (bool, error) {
	changed, err := r.grid.SetBlock(b.X, b.Y, b.Z, id)
	if err != nil || !changed {
		r.touch(now)
		return false, err
	}
	r.markDirty(b, now)
	if r.notify != nil {
		r.notify(r.pos, b)
	}
	return true, nil
}
