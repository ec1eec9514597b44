package storage

import (
	"fmt"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// FullRecord is the stored form of a full region snapshot. Generation counts
// the snapshots written for the region.
type FullRecord struct {
	ChunkX     int32           `nbt:"chunkX"`
	ChunkZ     int32           `nbt:"chunkZ"`
	Generation int64           `nbt:"generation"`
	Sections   []SectionRecord `nbt:"sections"`
}

// SectionRecord holds the raw blocks of one section.
type SectionRecord struct {
	YIndex int32  `nbt:"yIndex"`
	Blocks []byte `nbt:"blocks"`
}

// PartialRecord is the stored form of a region's change set. Base is the
// generation of the snapshot the changes apply to, 0 for a generated region.
type PartialRecord struct {
	ChunkX        int32          `nbt:"chunkX"`
	ChunkZ        int32          `nbt:"chunkZ"`
	Base          int64          `nbt:"base"`
	ChangedBlocks []ChangeRecord `nbt:"changedBlocks"`
}

// ChangeRecord is one stored block change.
type ChangeRecord struct {
	X       int32 `nbt:"x"`
	Y       int32 `nbt:"y"`
	Z       int32 `nbt:"z"`
	BlockID int32 `nbt:"blockId"`
}

// NewFullRecord captures every section of grid.
func NewFullRecord(pos chunk.Pos, grid *chunk.Grid) FullRecord {
	rec := FullRecord{
		ChunkX:   int32(pos.X),
		ChunkZ:   int32(pos.Z),
		Sections: make([]SectionRecord, grid.SectionCount()),
	}
	for i := range grid.Sections {
		blocks := make([]byte, chunk.SectionVolume)
		copy(blocks, grid.Sections[i].Raw())
		rec.Sections[i] = SectionRecord{YIndex: int32(i), Blocks: blocks}
	}
	return rec
}

// Grid rebuilds a grid of the given height, checking that the record belongs
// to pos and fits the grid.
func (r FullRecord) Grid(pos chunk.Pos, height int) (*chunk.Grid, error) {
	if err := checkOwner(pos, r.ChunkX, r.ChunkZ); err != nil {
		return nil, err
	}
	grid := chunk.NewGrid(height)
	for _, s := range r.Sections {
		if s.YIndex < 0 || int(s.YIndex) >= grid.SectionCount() {
			return nil, fmt.Errorf("%w: section index %d outside grid of %d", ErrCorrupt, s.YIndex, grid.SectionCount())
		}
		if len(s.Blocks) != chunk.SectionVolume {
			return nil, fmt.Errorf("%w: section %d has %d bytes", ErrCorrupt, s.YIndex, len(s.Blocks))
		}
		if err := grid.Sections[s.YIndex].Load(s.Blocks); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	return grid, nil
}

// NewPartialRecord captures a change set.
func NewPartialRecord(pos chunk.Pos, changes []BlockChange) PartialRecord {
	rec := PartialRecord{
		ChunkX:        int32(pos.X),
		ChunkZ:        int32(pos.Z),
		ChangedBlocks: make([]ChangeRecord, len(changes)),
	}
	for i, c := range changes {
		rec.ChangedBlocks[i] = ChangeRecord{
			X:       int32(c.Pos.X),
			Y:       int32(c.Pos.Y),
			Z:       int32(c.Pos.Z),
			BlockID: int32(c.BlockID),
		}
	}
	return rec
}

// Changes converts the record back into block changes.
func (r PartialRecord) Changes(pos chunk.Pos) ([]BlockChange, error) {
	if err := checkOwner(pos, r.ChunkX, r.ChunkZ); err != nil {
		return nil, err
	}
	out := make([]BlockChange, len(r.ChangedBlocks))
	for i, c := range r.ChangedBlocks {
		if c.BlockID < 0 || c.BlockID > 0xFF {
			return nil, fmt.Errorf("%w: block id %d", ErrCorrupt, c.BlockID)
		}
		out[i] = BlockChange{
			Pos:     chunk.BlockPos{X: int(c.X), Y: int(c.Y), Z: int(c.Z)},
			BlockID: byte(c.BlockID),
		}
	}
	return out, nil
}

func checkOwner(pos chunk.Pos, x, z int32) error {
	if int(x) != pos.X || int(z) != pos.Z {
		return fmt.Errorf("%w: record for (%d,%d) stored under %v", ErrCorrupt, x, z, pos)
	}
	return nil
}
