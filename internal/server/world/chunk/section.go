package chunk

import (
	"errors"
	"fmt"
)

const (
	// SectionSize is the edge length of a section in blocks.
	SectionSize = 16
	// SectionVolume is the number of block slots in one section.
	SectionVolume = SectionSize * SectionSize * SectionSize
)

// ErrOutOfBounds is returned for block coordinates outside a section or grid.
var ErrOutOfBounds = errors.New("block coordinates out of range")

// Section holds block IDs for a 16×16×16 vertical slice of a region.
// Index = (y*16+z)*16+x.
type Section struct {
	Blocks [SectionVolume]byte
}

func slotIndex(x, y, z int) int {
	return (y*SectionSize+z)*SectionSize + x
}

func checkLocal(x, y, z int) error {
	if x < 0 || x >= SectionSize || y < 0 || y >= SectionSize || z < 0 || z >= SectionSize {
		return fmt.Errorf("%w: x=%d, y=%d, z=%d", ErrOutOfBounds, x, y, z)
	}
	return nil
}

// GetBlock returns the block ID at section-local coordinates.
func (s *Section) GetBlock(x, y, z int) (byte, error) {
	if err := checkLocal(x, y, z); err != nil {
		return 0, err
	}
	return s.Blocks[slotIndex(x, y, z)], nil
}

// SetBlock stores a block ID at section-local coordinates and reports whether
// the stored value changed.
func (s *Section) SetBlock(x, y, z int, id byte) (bool, error) {
	if err := checkLocal(x, y, z); err != nil {
		return false, err
	}
	i := slotIndex(x, y, z)
	if s.Blocks[i] == id {
		return false, nil
	}
	s.Blocks[i] = id
	return true, nil
}

// Raw returns the section's backing bytes. The slice aliases the section.
func (s *Section) Raw() []byte {
	return s.Blocks[:]
}

// Load copies a raw block buffer into the section. Short buffers leave the
// remaining slots untouched; long buffers are an error.
func (s *Section) Load(buf []byte) error {
	if len(buf) > SectionVolume {
		return fmt.Errorf("section buffer is %d bytes, max %d", len(buf), SectionVolume)
	}
	copy(s.Blocks[:], buf)
	return nil
}
