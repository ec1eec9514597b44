package world

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/gen"
)

var errDisk = errors.New("disk on fire")

type saveCall struct {
	pos     chunk.Pos
	full    bool
	changes []storage.BlockChange
}

// memStore is an in-memory storage.Store that records every save.
type memStore struct {
	mu      sync.Mutex
	full    map[chunk.Pos]*chunk.Grid
	partial map[chunk.Pos][]storage.BlockChange
	saves   []saveCall

	loadErr error
	saveErr error
	corrupt map[chunk.Pos]bool
}

func newMemStore() *memStore {
	return &memStore{
		full:    make(map[chunk.Pos]*chunk.Grid),
		partial: make(map[chunk.Pos][]storage.BlockChange),
		corrupt: make(map[chunk.Pos]bool),
	}
}

func (m *memStore) LoadFull(_ context.Context, pos chunk.Pos) (*chunk.Grid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.corrupt[pos] {
		return nil, storage.ErrCorrupt
	}
	g, ok := m.full[pos]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return g.Clone(), nil
}

func (m *memStore) LoadPartial(ctx context.Context, pos chunk.Pos, grid *chunk.Grid) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return storage.ApplyChanges(grid, m.partial[pos])
}

func (m *memStore) SaveFull(_ context.Context, pos chunk.Pos, grid *chunk.Grid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.full[pos] = grid.Clone()
	delete(m.partial, pos)
	m.saves = append(m.saves, saveCall{pos: pos, full: true})
	return nil
}

func (m *memStore) SavePartial(_ context.Context, pos chunk.Pos, changes []storage.BlockChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.partial[pos] = storage.MergeChanges(m.partial[pos], changes)
	m.saves = append(m.saves, saveCall{pos: pos, changes: slices.Clone(changes)})
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) setSaveErr(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

func (m *memStore) takeSaves() []saveCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.saves
	m.saves = nil
	return out
}

// countingGen wraps the flat generator and counts calls. When gate is set,
// every call blocks until it is closed.
type countingGen struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
	inner gen.Generator
}

func newCountingGen() *countingGen {
	return &countingGen{inner: gen.FromRaw(gen.NewFlatSource(chunk.DefaultHeight), chunk.DefaultHeight)}
}

func (g *countingGen) Generate(x, z int) (*chunk.Grid, error) {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.inner.Generate(x, z)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store *ChunkStore
	mem   *memStore
	gen   *countingGen
	clock *fakeClock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{mem: newMemStore(), gen: newCountingGen(), clock: newFakeClock()}
	opts.Now = f.clock.Now
	opts.Log = slog.New(slog.DiscardHandler)
	f.store = NewChunkStore(f.mem, f.gen, opts)
	return f
}
