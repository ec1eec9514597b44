package world

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// Evict saves the region at pos and removes it from the working set. It is a
// no-op when pos is not resident. On a failed save the region stays resident.
func (s *ChunkStore) Evict(ctx context.Context, pos chunk.Pos) error {
	return s.evict(ctx, pos, nil)
}

// evict removes pos if it is resident and keep, when given, returns false for
// it under the region lock.
func (s *ChunkStore) evict(ctx context.Context, pos chunk.Pos, keep func(*Region) bool) error {
	unlock := s.locks.region(pos)
	defer unlock()

	r := s.lookup(pos)
	if r == nil || (keep != nil && keep(r)) {
		return nil
	}

	all := s.allSections(r)
	unlockSections := s.locks.sectionSet(pos, all)
	defer unlockSections()

	if err := s.persist(ctx, r, all, s.wantsFull(r)); err != nil {
		return fmt.Errorf("evict region %v: %w", pos, err)
	}

	s.mu.Lock()
	delete(s.regions, pos)
	s.mu.Unlock()
	s.evicted.Add(1)
	s.log.Debug("evicted region", "x", pos.X, "z", pos.Z)
	return nil
}

// EnforceCapacity evicts the least recently used regions when the working set
// is at or above MaxLoaded, leaving room for one more region.
func (s *ChunkStore) EnforceCapacity(ctx context.Context) error {
	s.admission.Lock()
	defer s.admission.Unlock()
	return s.enforceCapacity(ctx)
}

// enforceCapacity is EnforceCapacity for callers holding s.admission.
func (s *ChunkStore) enforceCapacity(ctx context.Context) error {
	type entry struct {
		pos  chunk.Pos
		last int64
	}

	s.mu.RLock()
	n := len(s.regions)
	if n < s.opts.MaxLoaded {
		s.mu.RUnlock()
		return nil
	}
	entries := make([]entry, 0, n)
	for pos, r := range s.regions {
		entries = append(entries, entry{pos: pos, last: r.lastAccess.Load()})
	}
	s.mu.RUnlock()

	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.last, b.last) })
	victims := make([]chunk.Pos, 0, n-s.opts.MaxLoaded+1)
	for _, e := range entries[:n-s.opts.MaxLoaded+1] {
		victims = append(victims, e.pos)
	}
	s.log.Debug("enforcing capacity", "resident", n, "max", s.opts.MaxLoaded, "evicting", len(victims))
	return s.evictAll(ctx, victims, nil)
}

// SweepInactive evicts every region not accessed within idle.
func (s *ChunkStore) SweepInactive(ctx context.Context, idle time.Duration) error {
	now := s.now()
	isIdle := func(r *Region) bool { return now-r.lastAccess.Load() > int64(idle) }

	var victims []chunk.Pos
	for _, r := range s.snapshot() {
		if isIdle(r) {
			victims = append(victims, r.pos)
		}
	}
	if len(victims) == 0 {
		return nil
	}
	s.log.Debug("sweeping inactive regions", "count", len(victims), "idle", idle)
	// Keep regions touched again since they were selected.
	return s.evictAll(ctx, victims, func(r *Region) bool { return !isIdle(r) })
}

// UnloadAll saves and evicts every resident region.
func (s *ChunkStore) UnloadAll(ctx context.Context) error {
	regions := s.snapshot()
	positions := make([]chunk.Pos, len(regions))
	for i, r := range regions {
		positions[i] = r.pos
	}
	return s.evictAll(ctx, positions, nil)
}

// FlushDirty saves every dirty region and clears the saved changes. Regions
// stay resident.
func (s *ChunkStore) FlushDirty(ctx context.Context) error {
	var dirty []*Region
	for _, r := range s.snapshot() {
		if r.dirty() {
			dirty = append(dirty, r)
		}
	}
	return s.fanOut(len(dirty), func(i int) error {
		return s.flush(ctx, dirty[i])
	})
}

func (s *ChunkStore) flush(ctx context.Context, r *Region) error {
	unlock := s.locks.region(r.pos)
	defer unlock()

	// Evicted (and saved) since the snapshot was taken.
	if s.lookup(r.pos) != r {
		return nil
	}

	full := s.wantsFull(r)
	sections := r.dirtySections()
	if full {
		sections = s.allSections(r)
	}
	if len(sections) == 0 {
		return nil
	}
	unlockSections := s.locks.sectionSet(r.pos, sections)
	defer unlockSections()

	if err := s.persist(ctx, r, sections, full); err != nil {
		return fmt.Errorf("flush region %v: %w", r.pos, err)
	}
	return nil
}

// wantsFull reports whether the next save of r writes a full snapshot rather
// than a change record.
func (s *ChunkStore) wantsFull(r *Region) bool {
	return r.dirtyBlockCount() > s.opts.FullSaveThreshold
}

// persist writes the pending changes of r and clears what it wrote. The caller
// holds the region lock and the section locks for sections; a full save
// requires every section to be held.
func (s *ChunkStore) persist(ctx context.Context, r *Region, sections []int, full bool) error {
	n := r.dirtyBlockCount()
	if n == 0 {
		return nil
	}

	if full {
		if err := s.store.SaveFull(ctx, r.pos, r.grid); err != nil {
			return err
		}
		r.clear()
		s.log.Debug("saved full region", "x", r.pos.X, "z", r.pos.Z, "dirty", n)
		return nil
	}

	positions := r.snapshotDirtyPositions(sections...)
	if len(positions) == 0 {
		return nil
	}
	changes, err := storage.ChangesFrom(r.grid, positions)
	if err != nil {
		return err
	}
	if err := s.store.SavePartial(ctx, r.pos, changes); err != nil {
		return err
	}
	r.clear(sections...)
	s.log.Debug("saved region changes", "x", r.pos.X, "z", r.pos.Z, "changes", len(changes))
	return nil
}

func (s *ChunkStore) allSections(r *Region) []int {
	all := make([]int, r.grid.SectionCount())
	for i := range all {
		all[i] = i
	}
	return all
}

func (s *ChunkStore) evictAll(ctx context.Context, positions []chunk.Pos, keep func(*Region) bool) error {
	return s.fanOut(len(positions), func(i int) error {
		return s.evict(ctx, positions[i], keep)
	})
}

// fanOut runs fn for 0..n-1 on at most IOWorkers goroutines and joins every
// error. A failure does not stop the remaining calls.
func (s *ChunkStore) fanOut(n int, fn func(i int) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(s.opts.IOWorkers)
	for i := range n {
		g.Go(func() error {
			if err := fn(i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
