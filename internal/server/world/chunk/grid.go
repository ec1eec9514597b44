package chunk

import "fmt"

// DefaultHeight is the world height in blocks used when none is configured.
const DefaultHeight = 64

// Grid is the block data of one region: a fixed stack of sections.
type Grid struct {
	Sections []Section
}

// NewGrid creates an all-air grid with the given height, rounded up to whole sections.
func NewGrid(height int) *Grid {
	n := (height + SectionSize - 1) / SectionSize
	if n < 1 {
		n = 1
	}
	return &Grid{Sections: make([]Section, n)}
}

// Height returns the grid height in blocks.
func (g *Grid) Height() int {
	return len(g.Sections) * SectionSize
}

// SectionCount returns the number of sections.
func (g *Grid) SectionCount() int {
	return len(g.Sections)
}

func (g *Grid) section(y int) (*Section, error) {
	if y < 0 || y >= g.Height() {
		return nil, fmt.Errorf("%w: y=%d, height %d", ErrOutOfBounds, y, g.Height())
	}
	return &g.Sections[y/SectionSize], nil
}

// GetBlock returns the block ID at region-local (x, z) and grid height y.
func (g *Grid) GetBlock(x, y, z int) (byte, error) {
	s, err := g.section(y)
	if err != nil {
		return 0, err
	}
	return s.GetBlock(x, y%SectionSize, z)
}

// SetBlock stores a block ID. It is a no-op returning false when the block
// already holds id.
func (g *Grid) SetBlock(x, y, z int, id byte) (bool, error) {
	s, err := g.section(y)
	if err != nil {
		return false, err
	}
	return s.SetBlock(x, y%SectionSize, z, id)
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	c := &Grid{Sections: make([]Section, len(g.Sections))}
	copy(c.Sections, g.Sections)
	return c
}

// Equal reports whether both grids hold the same blocks.
func (g *Grid) Equal(o *Grid) bool {
	if len(g.Sections) != len(o.Sections) {
		return false
	}
	for i := range g.Sections {
		if g.Sections[i].Blocks != o.Sections[i].Blocks {
			return false
		}
	}
	return true
}
