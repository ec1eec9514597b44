package world

import (
	"slices"
	"sync"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// lockTable hands out one mutex per key. Entries are created on first use and
// dropped once nobody holds or waits on them, so the table only ever contains
// keys that are in use.
type lockTable[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int // holders + waiters, guarded by lockTable.mu
}

func newLockTable[K comparable]() *lockTable[K] {
	return &lockTable[K]{entries: make(map[K]*lockEntry)}
}

// lock blocks until the key's mutex is held and returns its release func.
// The release func must be called exactly once.
func (t *lockTable[K]) lock(k K) (unlock func()) {
	t.mu.Lock()
	e, ok := t.entries[k]
	if !ok {
		e = &lockEntry{}
		t.entries[k] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		t.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(t.entries, k)
		}
		t.mu.Unlock()
	}
}

// len returns the number of live entries.
func (t *lockTable[K]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

type sectionKey struct {
	pos     chunk.Pos
	section int
}

// locks owns the two lock tiers of a ChunkStore. Ordering: the region lock
// is taken before any section lock of that region, and section locks are
// taken in ascending index order.
type locks struct {
	regions  *lockTable[chunk.Pos]
	sections *lockTable[sectionKey]
}

func newLocks() locks {
	return locks{
		regions:  newLockTable[chunk.Pos](),
		sections: newLockTable[sectionKey](),
	}
}

func (l locks) region(pos chunk.Pos) func() {
	return l.regions.lock(pos)
}

func (l locks) section(pos chunk.Pos, section int) func() {
	return l.sections.lock(sectionKey{pos: pos, section: section})
}

// sectionSet locks the given sections of pos in ascending order and returns a
// func releasing them in reverse order.
func (l locks) sectionSet(pos chunk.Pos, sections []int) func() {
	sorted := slices.Clone(sections)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, s := range sorted {
		unlocks = append(unlocks, l.section(pos, s))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
