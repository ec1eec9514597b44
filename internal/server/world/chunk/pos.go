package chunk

import "fmt"

// Pos identifies a region (chunk column) by its X and Z coordinates.
type Pos struct{ X, Z int }

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Z)
}

// PosOf returns the region that contains the world block column (x, z).
func PosOf(x, z int) Pos {
	return Pos{X: x >> 4, Z: z >> 4}
}

// BlockPos is a block position inside a region: X and Z are region-local
// in [0,16), Y is the grid height coordinate.
type BlockPos struct {
	X, Y, Z int
}

// Section returns the index of the section holding the block.
func (b BlockPos) Section() int {
	return b.Y / SectionSize
}

// Index returns the block slot inside its section, (y*16+z)*16+x.
func (b BlockPos) Index() int {
	return slotIndex(b.X, b.Y%SectionSize, b.Z)
}

// BlockPosAt converts a section index and slot back into a BlockPos.
func BlockPosAt(section, slot int) BlockPos {
	return BlockPos{
		X: slot & 0xF,
		Y: section*SectionSize + (slot>>8)&0xF,
		Z: (slot >> 4) & 0xF,
	}
}
