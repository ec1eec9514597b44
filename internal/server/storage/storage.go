// Package storage persists region block data as full snapshots plus
// incremental change records.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

var (
	// ErrNotFound reports a missing or zero-length record.
	ErrNotFound = errors.New("record not found")
	// ErrCorrupt reports a record that exists but cannot be decoded.
	ErrCorrupt = errors.New("corrupt record")
)

// Store is the durable home of region snapshots and change records.
// Implementations are safe for concurrent use across different positions;
// callers serialize operations on the same position.
type Store interface {
	// LoadFull returns the last full snapshot of a region, ErrNotFound when
	// none exists or ErrCorrupt when it cannot be decoded.
	LoadFull(ctx context.Context, pos chunk.Pos) (*chunk.Grid, error)
	// LoadPartial replays the stored change record onto grid. It is a no-op
	// when no change record exists.
	LoadPartial(ctx context.Context, pos chunk.Pos, grid *chunk.Grid) error
	// SaveFull writes a full snapshot and drops the change record it supersedes.
	SaveFull(ctx context.Context, pos chunk.Pos, grid *chunk.Grid) error
	// SavePartial merges changes into the region's change record.
	SavePartial(ctx context.Context, pos chunk.Pos, changes []BlockChange) error
	Close() error
}

// BlockChange is one changed block of a region.
type BlockChange struct {
	Pos     chunk.BlockPos
	BlockID byte
}

// ChangesFrom reads the current block ID at each position of grid.
func ChangesFrom(grid *chunk.Grid, positions []chunk.BlockPos) ([]BlockChange, error) {
	out := make([]BlockChange, 0, len(positions))
	for _, p := range positions {
		id, err := grid.GetBlock(p.X, p.Y, p.Z)
		if err != nil {
			return nil, fmt.Errorf("read changed block: %w", err)
		}
		out = append(out, BlockChange{Pos: p, BlockID: id})
	}
	return out, nil
}

// MergeChanges overlays next onto prev; for a position present in both, the
// entry from next wins. Order is prev's order followed by new positions.
func MergeChanges(prev, next []BlockChange) []BlockChange {
	if len(prev) == 0 {
		return next
	}
	idx := make(map[chunk.BlockPos]int, len(prev)+len(next))
	out := make([]BlockChange, 0, len(prev)+len(next))
	for _, c := range prev {
		if i, ok := idx[c.Pos]; ok {
			out[i] = c
			continue
		}
		idx[c.Pos] = len(out)
		out = append(out, c)
	}
	for _, c := range next {
		if i, ok := idx[c.Pos]; ok {
			out[i] = c
			continue
		}
		idx[c.Pos] = len(out)
		out = append(out, c)
	}
	return out
}

// ApplyChanges writes every change into grid.
func ApplyChanges(grid *chunk.Grid, changes []BlockChange) error {
	for _, c := range changes {
		if _, err := grid.SetBlock(c.Pos.X, c.Pos.Y, c.Pos.Z, c.BlockID); err != nil {
			return fmt.Errorf("%w: change at %+v: %v", ErrCorrupt, c.Pos, err)
		}
	}
	return nil
}
