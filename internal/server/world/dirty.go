package world

import (
	"math/bits"
	"sync/atomic"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

const bitsetWords = chunk.SectionVolume / 64

// sectionBits marks the changed slots of one section. bits is guarded by the
// section lock; count mirrors its popcount and may be read without it.
type sectionBits struct {
	bits  [bitsetWords]uint64
	count atomic.Int32
}

// dirtyTracker records which blocks of a region changed since the last
// successful save.
type dirtyTracker struct {
	sections []sectionBits
}

func newDirtyTracker(sectionCount int) dirtyTracker {
	return dirtyTracker{sections: make([]sectionBits, sectionCount)}
}

// mark sets the bit for b and reports whether it was newly set. The caller
// holds b's section lock.
func (d *dirtyTracker) mark(b chunk.BlockPos) bool {
	s := &d.sections[b.Section()]
	slot := b.Index()
	word, bit := slot/64, uint64(1)<<(slot%64)
	if s.bits[word]&bit != 0 {
		return false
	}
	s.bits[word] |= bit
	s.count.Add(1)
	return true
}

// dirtyBlockCount returns the number of changed blocks across all sections.
func (d *dirtyTracker) dirtyBlockCount() int {
	n := 0
	for i := range d.sections {
		n += int(d.sections[i].count.Load())
	}
	return n
}

// dirty reports whether any section has a changed block.
func (d *dirtyTracker) dirty() bool {
	for i := range d.sections {
		if d.sections[i].count.Load() > 0 {
			return true
		}
	}
	return false
}

// dirtySections returns the indices of sections holding changes, ascending.
func (d *dirtyTracker) dirtySections() []int {
	var out []int
	for i := range d.sections {
		if d.sections[i].count.Load() > 0 {
			out = append(out, i)
		}
	}
	return out
}

// snapshotDirtyPositions lists the changed blocks of the given sections
// ordered by (y, z, x). The caller holds those section locks.
func (d *dirtyTracker) snapshotDirtyPositions(sections ...int) []chunk.BlockPos {
	n := 0
	for _, s := range sections {
		n += int(d.sections[s].count.Load())
	}
	out := make([]chunk.BlockPos, 0, n)
	for _, s := range sections {
		for w, word := range d.sections[s].bits {
			for word != 0 {
				bit := bits.TrailingZeros64(word)
				out = append(out, chunk.BlockPosAt(s, w*64+bit))
				word &= word - 1
			}
		}
	}
	return out
}

// clear empties the given sections, or every section when none are given.
// The caller holds the matching section locks.
func (d *dirtyTracker) clear(sections ...int) {
	if len(sections) == 0 {
		for i := range d.sections {
			d.clearSection(i)
		}
		return
	}
	for _, s := range sections {
		d.clearSection(s)
	}
}

func (d *dirtyTracker) clearSection(i int) {
	s := &d.sections[i]
	s.bits = [bitsetWords]uint64{}
	s.count.Store(0)
}
