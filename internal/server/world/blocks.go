package world

import (
	"context"
	"fmt"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// BlockPos is a position in world coordinates.
type BlockPos struct {
	X, Y, Z int
}

func (p BlockPos) region() chunk.Pos {
	return chunk.PosOf(p.X, p.Z)
}

func (p BlockPos) local() chunk.BlockPos {
	return chunk.BlockPos{X: p.X & 0xF, Y: p.Y, Z: p.Z & 0xF}
}

func (s *ChunkStore) checkY(p BlockPos) error {
	if p.Y < 0 || p.Y >= s.opts.Height {
		return fmt.Errorf("%w: y=%d, height %d", chunk.ErrOutOfBounds, p.Y, s.opts.Height)
	}
	return nil
}

// withSection runs fn on the resident region at pos while holding the
// section lock, loading the region first. If the region is evicted between
// the load and the lock, it is loaded again.
func (s *ChunkStore) withSection(ctx context.Context, pos chunk.Pos, section int, fn func(*Region) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := s.region(ctx, pos)
		if err != nil {
			return err
		}

		unlock := s.locks.section(pos, section)
		if s.lookup(pos) != r {
			unlock()
			continue
		}
		err = fn(r)
		unlock()
		return err
	}
}

// GetBlock returns the block at world position p.
func (s *ChunkStore) GetBlock(ctx context.Context, p BlockPos) (byte, error) {
	if err := s.checkY(p); err != nil {
		return 0, fmt.Errorf("get block %v: %w", p, err)
	}
	var id byte
	b := p.local()
	err := s.withSection(ctx, p.region(), b.Section(), func(r *Region) error {
		var err error
		id, err = r.grid.GetBlock(b.X, b.Y, b.Z)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get block %v: %w", p, err)
	}
	return id, nil
}

// SetBlock writes id at world position p and reports whether the block
// changed. Writing the current value leaves the region clean.
func (s *ChunkStore) SetBlock(ctx context.Context, p BlockPos, id byte) (bool, error) {
	if err := s.checkY(p); err != nil {
		return false, fmt.Errorf("set block %v: %w", p, err)
	}
	var changed bool
	b := p.local()
	err := s.withSection(ctx, p.region(), b.Section(), func(r *Region) error {
		var err error
		changed, err = r.setBlock(b, id, s.now())
		return err
	})
	if err != nil {
		return false, fmt.Errorf("set block %v: %w", p, err)
	}
	return changed, nil
}

// Fill sets every block in the inclusive box between a and b to id and returns
// the number of blocks that changed. The box is clipped to the world height.
func (s *ChunkStore) Fill(ctx context.Context, a, b BlockPos, id byte) (int, error) {
	lo := BlockPos{X: min(a.X, b.X), Y: max(min(a.Y, b.Y), 0), Z: min(a.Z, b.Z)}
	hi := BlockPos{X: max(a.X, b.X), Y: min(max(a.Y, b.Y), s.opts.Height-1), Z: max(a.Z, b.Z)}
	if lo.Y > hi.Y {
		return 0, nil
	}

	changed := 0
	for cx := lo.X >> 4; cx <= hi.X>>4; cx++ {
		for cz := lo.Z >> 4; cz <= hi.Z>>4; cz++ {
			pos := chunk.Pos{X: cx, Z: cz}
			for sec := lo.Y / chunk.SectionSize; sec <= hi.Y/chunk.SectionSize; sec++ {
				err := s.withSection(ctx, pos, sec, func(r *Region) error {
					now := s.now()
					y0 := max(lo.Y, sec*chunk.SectionSize)
					y1 := min(hi.Y, sec*chunk.SectionSize+chunk.SectionSize-1)
					x0, x1 := max(lo.X, cx<<4), min(hi.X, cx<<4+0xF)
					z0, z1 := max(lo.Z, cz<<4), min(hi.Z, cz<<4+0xF)
					for y := y0; y <= y1; y++ {
						for z := z0; z <= z1; z++ {
							for x := x0; x <= x1; x++ {
								ok, err := r.setBlock(BlockPos{X: x, Y: y, Z: z}.local(), id, now)
								if err != nil {
									return err
								}
								if ok {
									changed++
								}
							}
						}
					}
					return nil
				})
				if err != nil {
					return changed, fmt.Errorf("fill region %v: %w", pos, err)
				}
			}
		}
	}
	return changed, nil
}
