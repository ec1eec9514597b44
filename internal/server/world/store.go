// Package world keeps the bounded working set of loaded regions on top of a
// storage.Store and a world generator.
package world

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/gen"
)

// Defaults used for zero Options fields.
const (
	DefaultMaxLoaded         = 256
	DefaultFullSaveThreshold = 1000
	DefaultIOWorkers         = 4
)

// Options configures a ChunkStore.
type Options struct {
	// Height of every grid in blocks.
	Height int
	// MaxLoaded is the number of resident regions EnforceCapacity keeps below.
	MaxLoaded int
	// FullSaveThreshold is the dirty block count above which a save writes a
	// full snapshot instead of a change record.
	FullSaveThreshold int
	// IOWorkers bounds concurrent saves during flushes and bulk evictions.
	IOWorkers int
	// Now replaces time.Now, for tests.
	Now func() time.Time
	Log *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Height <= 0 {
		o.Height = chunk.DefaultHeight
	}
	if o.MaxLoaded <= 0 {
		o.MaxLoaded = DefaultMaxLoaded
	}
	if o.FullSaveThreshold <= 0 {
		o.FullSaveThreshold = DefaultFullSaveThreshold
	}
	if o.IOWorkers <= 0 {
		o.IOWorkers = DefaultIOWorkers
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = slog.New(slog.DiscardHandler)
	}
	return o
}

// ChunkStore is the set of resident regions. It loads regions on demand,
// tracks their changes and writes them back to storage on flush and eviction.
type ChunkStore struct {
	store storage.Store
	gen   gen.Generator
	opts  Options
	log   *slog.Logger
	epoch time.Time

	mu      sync.RWMutex
	regions map[chunk.Pos]*Region

	locks locks
	loads singleflight.Group
	// admission serializes capacity enforcement with region insertion.
	admission sync.Mutex

	loaded    atomic.Uint64
	generated atomic.Uint64
	evicted   atomic.Uint64
	writes    atomic.Uint64
}

// NewChunkStore creates an empty ChunkStore.
func NewChunkStore(store storage.Store, generator gen.Generator, opts Options) *ChunkStore {
	opts = opts.withDefaults()
	return &ChunkStore{
		store:   store,
		gen:     generator,
		opts:    opts,
		log:     opts.Log,
		epoch:   opts.Now(),
		regions: make(map[chunk.Pos]*Region),
		locks:   newLocks(),
	}
}

// Height returns the grid height of every region.
func (s *ChunkStore) Height() int {
	return s.opts.Height
}

func (s *ChunkStore) now() int64 {
	return int64(s.opts.Now().Sub(s.epoch))
}

func (s *ChunkStore) lookup(pos chunk.Pos) *Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regions[pos]
}

// GetOrLoad returns the grid at pos, loading or generating it when it is not
// resident. Concurrent callers for the same position share one load.
func (s *ChunkStore) GetOrLoad(ctx context.Context, pos chunk.Pos) (*chunk.Grid, error) {
	r, err := s.region(ctx, pos)
	if err != nil {
		return nil, err
	}
	return r.grid, nil
}

func (s *ChunkStore) region(ctx context.Context, pos chunk.Pos) (*Region, error) {
	if r := s.lookup(pos); r != nil {
		r.touch(s.now())
		return r, nil
	}

	v, err, _ := s.loads.Do(pos.String(), func() (any, error) {
		// Every caller waiting on this flight shares its outcome.
		ctx := context.WithoutCancel(ctx)

		// A flight that finished just before this one may have inserted it.
		if r := s.lookup(pos); r != nil {
			return r, nil
		}

		// The region lock orders this load after a save still running for
		// pos. It is released before admission, which takes region locks of
		// its own while evicting.
		unlock := s.locks.region(pos)
		grid, err := s.load(ctx, pos)
		unlock()
		if err != nil {
			return nil, err
		}
		r := newRegion(pos, grid, s.now(), s.onWrite)
		if err := s.admit(ctx, r); err != nil {
			return nil, fmt.Errorf("load region %v: make room: %w", pos, err)
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	r := v.(*Region)
	r.touch(s.now())
	return r, nil
}

// admit inserts r once the working set has room for it. Admissions are
// serialized so that concurrent loads never share the slot one eviction frees.
func (s *ChunkStore) admit(ctx context.Context, r *Region) error {
	s.admission.Lock()
	defer s.admission.Unlock()

	if err := s.enforceCapacity(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.regions[r.pos] = r
	s.mu.Unlock()
	return nil
}

// load reads the region from storage, falling back to the generator, and
// replays the stored change record on top. Generation is deterministic, so a
// change record is valid over a generated grid as well as over a snapshot.
func (s *ChunkStore) load(ctx context.Context, pos chunk.Pos) (*chunk.Grid, error) {
	grid, err := s.store.LoadFull(ctx, pos)
	switch {
	case err == nil:
		s.loaded.Add(1)
	case errors.Is(err, storage.ErrNotFound):
		if grid, err = s.generate(pos); err != nil {
			return nil, err
		}
	case errors.Is(err, storage.ErrCorrupt):
		s.log.Warn("corrupt region record, regenerating", "x", pos.X, "z", pos.Z, "error", err)
		if grid, err = s.generate(pos); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("load region %v: %w", pos, err)
	}

	if err := s.store.LoadPartial(ctx, pos, grid); err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return nil, fmt.Errorf("load region %v: %w", pos, err)
		}
		s.log.Warn("ignoring corrupt change record", "x", pos.X, "z", pos.Z, "error", err)
	}
	return grid, nil
}

func (s *ChunkStore) generate(pos chunk.Pos) (*chunk.Grid, error) {
	grid, err := s.gen.Generate(pos.X, pos.Z)
	if err != nil {
		return nil, fmt.Errorf("load region %v: %w", pos, err)
	}
	if grid.Height() != s.opts.Height {
		return nil, fmt.Errorf("load region %v: generator returned height %d, want %d", pos, grid.Height(), s.opts.Height)
	}
	s.generated.Add(1)
	s.log.Debug("generated region", "x", pos.X, "z", pos.Z)
	return grid, nil
}

func (s *ChunkStore) onWrite(chunk.Pos, chunk.BlockPos) {
	s.writes.Add(1)
}

// MarkDirty records a change at region-local (x, z) and grid height y of the
// resident region at pos. It is a no-op when pos is not resident.
func (s *ChunkStore) MarkDirty(pos chunk.Pos, x, y, z int) error {
	b := chunk.BlockPos{X: x, Y: y, Z: z}
	if err := s.checkLocal(b); err != nil {
		return err
	}
	unlock := s.locks.section(pos, b.Section())
	defer unlock()

	if r := s.lookup(pos); r != nil {
		r.markDirty(b, s.now())
	}
	return nil
}

func (s *ChunkStore) checkLocal(b chunk.BlockPos) error {
	if b.X < 0 || b.X >= chunk.SectionSize || b.Z < 0 || b.Z >= chunk.SectionSize || b.Y < 0 || b.Y >= s.opts.Height {
		return fmt.Errorf("%w: x=%d, y=%d, z=%d", chunk.ErrOutOfBounds, b.X, b.Y, b.Z)
	}
	return nil
}

// RegionInfo describes one resident region.
type RegionInfo struct {
	Pos         chunk.Pos
	LastAccess  time.Time
	Dirty       bool
	DirtyBlocks int
}

// Resident lists the resident regions ordered by position.
func (s *ChunkStore) Resident() []RegionInfo {
	regions := s.snapshot()
	out := make([]RegionInfo, 0, len(regions))
	for _, r := range regions {
		out = append(out, RegionInfo{
			Pos:         r.pos,
			LastAccess:  s.epoch.Add(time.Duration(r.lastAccess.Load())),
			Dirty:       r.dirty(),
			DirtyBlocks: r.dirtyBlockCount(),
		})
	}
	slices.SortFunc(out, func(a, b RegionInfo) int {
		if a.Pos.X != b.Pos.X {
			return a.Pos.X - b.Pos.X
		}
		return a.Pos.Z - b.Pos.Z
	})
	return out
}

// Len returns the number of resident regions.
func (s *ChunkStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions)
}

// Stats is a point-in-time summary of a ChunkStore.
type Stats struct {
	Resident    int
	Dirty       int
	DirtyBlocks int
	Loaded      uint64
	Generated   uint64
	Evicted     uint64
	Writes      uint64
}

// Stats returns current counters.
func (s *ChunkStore) Stats() Stats {
	st := Stats{
		Loaded:    s.loaded.Load(),
		Generated: s.generated.Load(),
		Evicted:   s.evicted.Load(),
		Writes:    s.writes.Load(),
	}
	for _, r := range s.snapshot() {
		st.Resident++
		if n := r.dirtyBlockCount(); n > 0 {
			st.Dirty++
			st.DirtyBlocks += n
		}
	}
	return st
}

// SnapshotResident returns a copy of every resident grid. Each copy is taken
// under all of its region's section locks, so it never shows half a write.
func (s *ChunkStore) SnapshotResident() map[chunk.Pos]*chunk.Grid {
	regions := s.snapshot()
	out := make(map[chunk.Pos]*chunk.Grid, len(regions))
	for _, r := range regions {
		unlock := s.locks.sectionSet(r.pos, s.allSections(r))
		out[r.pos] = r.grid.Clone()
		unlock()
	}
	return out
}

func (s *ChunkStore) snapshot() []*Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r)
	}
	return out
}
