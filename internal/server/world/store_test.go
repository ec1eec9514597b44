package world

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/gen"
)

func TestGetOrLoadSingleFlight(t *testing.T) {
	f := newFixture(t, Options{})
	f.gen.gate = make(chan struct{})
	ctx := context.Background()
	pos := chunk.Pos{X: 3, Z: -2}

	const callers = 16
	grids := make([]*chunk.Grid, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := f.store.GetOrLoad(ctx, pos)
			assert.NoError(t, err)
			grids[i] = g
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(f.gen.gate)
	wg.Wait()

	assert.EqualValues(t, 1, f.gen.calls.Load(), "generator calls")
	for i := 1; i < callers; i++ {
		assert.Same(t, grids[0], grids[i])
	}
	assert.Equal(t, 1, f.store.Len())
}

func TestGetOrLoadResidentSkipsIO(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	a, err := f.store.GetOrLoad(ctx, chunk.Pos{})
	require.NoError(t, err)
	b, err := f.store.GetOrLoad(ctx, chunk.Pos{})
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.EqualValues(t, 1, f.gen.calls.Load())
}

func TestGetOrLoadReplaysPartialOnSnapshot(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	pos := chunk.Pos{X: 1, Z: 1}

	base := chunk.NewGrid(chunk.DefaultHeight)
	base.SetBlock(0, 0, 0, 9)
	f.mem.full[pos] = base
	f.mem.partial[pos] = []storage.BlockChange{{Pos: chunk.BlockPos{X: 2, Y: 40, Z: 3}, BlockID: 7}}

	g, err := f.store.GetOrLoad(ctx, pos)
	require.NoError(t, err)
	id, _ := g.GetBlock(0, 0, 0)
	assert.EqualValues(t, 9, id)
	id, _ = g.GetBlock(2, 40, 3)
	assert.EqualValues(t, 7, id)
	assert.Zero(t, f.gen.calls.Load(), "stored region must not be generated")
}

func TestGetOrLoadCorruptRegenerates(t *testing.T) {
	f := newFixture(t, Options{})
	pos := chunk.Pos{X: 4}
	f.mem.corrupt[pos] = true

	g, err := f.store.GetOrLoad(context.Background(), pos)
	require.NoError(t, err)
	id, _ := g.GetBlock(0, 0, 0)
	assert.Equal(t, gen.BlockBedrock, id)
	assert.EqualValues(t, 1, f.gen.calls.Load())
}

func TestGetOrLoadFailures(t *testing.T) {
	t.Run("io", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.mem.loadErr = errDisk
		_, err := f.store.GetOrLoad(context.Background(), chunk.Pos{X: 5, Z: 6})
		require.ErrorIs(t, err, errDisk)
		assert.Contains(t, err.Error(), "(5,6)")
		assert.Zero(t, f.store.Len())
	})
	t.Run("generator", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.gen.err = errors.New("no terrain today")
		_, err := f.store.GetOrLoad(context.Background(), chunk.Pos{})
		require.ErrorIs(t, err, f.gen.err)
		assert.Zero(t, f.store.Len())
	})
}

func TestEnforceCapacityEvictsOldestFirst(t *testing.T) {
	f := newFixture(t, Options{MaxLoaded: 2})
	s := f.store
	for i, at := range []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second} {
		pos := chunk.Pos{X: i}
		s.regions[pos] = newRegion(pos, chunk.NewGrid(chunk.DefaultHeight), int64(at), nil)
	}
	f.clock.Advance(time.Minute)

	_, err := s.GetOrLoad(context.Background(), chunk.Pos{X: 9})
	require.NoError(t, err)

	var got []chunk.Pos
	for _, info := range s.Resident() {
		got = append(got, info.Pos)
	}
	assert.Equal(t, []chunk.Pos{{X: 2}, {X: 9}}, got)
}

func TestEnforceCapacityBound(t *testing.T) {
	f := newFixture(t, Options{MaxLoaded: 4})
	ctx := context.Background()
	for i := range 4 {
		_, err := f.store.GetOrLoad(ctx, chunk.Pos{X: i})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	require.NoError(t, f.store.EnforceCapacity(ctx))
	assert.LessOrEqual(t, f.store.Len(), 4)
	assert.Equal(t, 3, f.store.Len(), "one slot is opened for the next admission")

	require.NoError(t, f.store.EnforceCapacity(ctx))
	assert.Equal(t, 3, f.store.Len(), "below capacity is a no-op")
}

func TestConcurrentAdmissionsRespectCapacity(t *testing.T) {
	f := newFixture(t, Options{MaxLoaded: 2})
	ctx := context.Background()
	for i := range 2 {
		_, err := f.store.GetOrLoad(ctx, chunk.Pos{X: i})
		require.NoError(t, err)
	}

	f.gen.gate = make(chan struct{})
	const loads = 6
	var wg sync.WaitGroup
	for i := range loads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.store.GetOrLoad(ctx, chunk.Pos{X: 100 + i})
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return f.gen.calls.Load() == 2+loads },
		time.Second, time.Millisecond, "every load reaches the generator")
	close(f.gen.gate)
	wg.Wait()

	assert.LessOrEqual(t, f.store.Len(), 2)
	assert.EqualValues(t, 2+loads, f.store.Stats().Generated)
}

func TestGetOrLoadIgnoresFirstCallerCancellation(t *testing.T) {
	f := newFixture(t, Options{})
	f.gen.gate = make(chan struct{})
	pos := chunk.Pos{X: 8, Z: 8}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.store.GetOrLoad(ctx, pos)
		first <- err
	}()
	require.Eventually(t, func() bool { return f.gen.calls.Load() == 1 },
		time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		_, err := f.store.GetOrLoad(context.Background(), pos)
		second <- err
	}()
	cancel()
	close(f.gen.gate)

	require.NoError(t, <-second)
	require.NoError(t, <-first)
	assert.EqualValues(t, 1, f.gen.calls.Load())
	assert.Equal(t, 1, f.store.Len())
}

func TestSavePolicy(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	pos := chunk.Pos{}
	f.mem.full[pos] = chunk.NewGrid(chunk.DefaultHeight)

	_, err := f.store.GetOrLoad(ctx, pos)
	require.NoError(t, err)

	var want []storage.BlockChange
	for i := range 5 {
		p := BlockPos{X: i, Y: 20 + i, Z: 15 - i}
		_, err := f.store.SetBlock(ctx, p, 8)
		require.NoError(t, err)
		want = append(want, storage.BlockChange{Pos: p.local(), BlockID: 8})
	}
	require.NoError(t, f.store.FlushDirty(ctx))

	saves := f.mem.takeSaves()
	require.Len(t, saves, 1)
	assert.False(t, saves[0].full)
	assert.ElementsMatch(t, want, saves[0].changes)

	for i := range 1001 {
		b := chunk.BlockPosAt(1+i/chunk.SectionVolume, i%chunk.SectionVolume)
		_, err := f.store.SetBlock(ctx, BlockPos{X: b.X, Y: b.Y, Z: b.Z}, 6)
		require.NoError(t, err)
	}
	r := f.store.lookup(pos)
	require.Equal(t, 1001, r.dirtyBlockCount())
	require.NoError(t, f.store.FlushDirty(ctx))

	saves = f.mem.takeSaves()
	require.Len(t, saves, 1)
	assert.True(t, saves[0].full)
	assert.Zero(t, r.dirtyBlockCount())
	assert.False(t, r.dirty())
}

func TestGeneratedRegionSavesChangesOnly(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var want []storage.BlockChange
	for i := range 5 {
		p := BlockPos{X: i, Y: 30, Z: 2 * i}
		_, err := f.store.SetBlock(ctx, p, 4)
		require.NoError(t, err)
		want = append(want, storage.BlockChange{Pos: p.local(), BlockID: 4})
	}
	require.NoError(t, f.store.FlushDirty(ctx))

	saves := f.mem.takeSaves()
	require.Len(t, saves, 1)
	assert.Equal(t, chunk.Pos{}, saves[0].pos)
	assert.False(t, saves[0].full)
	assert.ElementsMatch(t, want, saves[0].changes)

	// The change record is replayed over the regenerated grid.
	require.NoError(t, f.store.Evict(ctx, chunk.Pos{}))
	assert.Empty(t, f.mem.takeSaves(), "clean region is not written again")
	for _, c := range want {
		id, err := f.store.GetBlock(ctx, BlockPos{X: c.Pos.X, Y: c.Pos.Y, Z: c.Pos.Z})
		require.NoError(t, err)
		assert.Equal(t, c.BlockID, id, "block %+v", c.Pos)
	}
	assert.EqualValues(t, 2, f.gen.calls.Load())
}

func TestFlushDirtyClearsDirtyState(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for x := range 4 {
		_, err := f.store.SetBlock(ctx, BlockPos{X: x * 16, Y: 50, Z: 0}, 2)
		require.NoError(t, err)
	}
	_, err := f.store.GetOrLoad(ctx, chunk.Pos{X: 10})
	require.NoError(t, err)

	require.NoError(t, f.store.FlushDirty(ctx))
	for _, info := range f.store.Resident() {
		assert.False(t, info.Dirty, "region %v", info.Pos)
		assert.Zero(t, info.DirtyBlocks, "region %v", info.Pos)
	}
	assert.Equal(t, 5, f.store.Len())
	assert.Len(t, f.mem.takeSaves(), 4, "clean regions are not written")
}

func TestFlushFailureKeepsChanges(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.store.SetBlock(ctx, BlockPos{X: 1, Y: 1, Z: 1}, 9)
	require.NoError(t, err)
	f.mem.setSaveErr(errDisk)

	require.ErrorIs(t, f.store.FlushDirty(ctx), errDisk)
	require.ErrorIs(t, f.store.Evict(ctx, chunk.Pos{}), errDisk)
	assert.Equal(t, 1, f.store.Len(), "failed eviction keeps the region")
	assert.Equal(t, 1, f.store.lookup(chunk.Pos{}).dirtyBlockCount())

	f.mem.setSaveErr(nil)
	require.NoError(t, f.store.Evict(ctx, chunk.Pos{}))
	assert.Zero(t, f.store.Len())
}

func TestSetBlockSameValueStaysClean(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	changed, err := f.store.SetBlock(ctx, BlockPos{X: 0, Y: 0, Z: 0}, gen.BlockBedrock)
	require.NoError(t, err)
	assert.False(t, changed)
	r := f.store.lookup(chunk.Pos{})
	assert.False(t, r.dirty())

	changed, err = f.store.SetBlock(ctx, BlockPos{X: 0, Y: 0, Z: 0}, gen.BlockStone)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.store.SetBlock(ctx, BlockPos{X: 0, Y: 0, Z: 0}, gen.BlockStone)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, r.dirtyBlockCount())
	assert.EqualValues(t, 1, f.store.Stats().Writes)
}

func TestMarkDirty(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	require.NoError(t, f.store.MarkDirty(chunk.Pos{X: 7}, 1, 1, 1), "absent region is a no-op")
	assert.Zero(t, f.store.Len())

	_, err := f.store.GetOrLoad(ctx, chunk.Pos{X: 7})
	require.NoError(t, err)
	require.NoError(t, f.store.MarkDirty(chunk.Pos{X: 7}, 1, 1, 1))
	assert.Equal(t, 1, f.store.lookup(chunk.Pos{X: 7}).dirtyBlockCount())

	require.ErrorIs(t, f.store.MarkDirty(chunk.Pos{X: 7}, 16, 1, 1), chunk.ErrOutOfBounds)
	require.ErrorIs(t, f.store.MarkDirty(chunk.Pos{X: 7}, 1, chunk.DefaultHeight, 1), chunk.ErrOutOfBounds)
}

func TestSweepInactive(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.store.GetOrLoad(ctx, chunk.Pos{X: 1})
	require.NoError(t, err)
	f.clock.Advance(45 * time.Second)
	_, err = f.store.GetOrLoad(ctx, chunk.Pos{X: 2})
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)

	require.NoError(t, f.store.SweepInactive(ctx, time.Minute))
	var got []chunk.Pos
	for _, info := range f.store.Resident() {
		got = append(got, info.Pos)
	}
	assert.Equal(t, []chunk.Pos{{X: 2}}, got)
}

func TestUnloadAllSavesEverything(t *testing.T) {
	f := newFixture(t, Options{IOWorkers: 2})
	ctx := context.Background()

	for x := range 6 {
		_, err := f.store.SetBlock(ctx, BlockPos{X: x * 16, Y: 10, Z: 0}, 3)
		require.NoError(t, err)
	}
	require.NoError(t, f.store.UnloadAll(ctx))
	assert.Zero(t, f.store.Len())
	assert.Len(t, f.mem.partial, 6)
	assert.Zero(t, f.store.locks.regions.len())
	assert.Zero(t, f.store.locks.sections.len())

	st := f.store.Stats()
	assert.EqualValues(t, 6, st.Evicted)
	assert.EqualValues(t, 6, st.Generated)
}

func TestResidentListing(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.store.GetOrLoad(ctx, chunk.Pos{X: 1, Z: 0})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.store.SetBlock(ctx, BlockPos{X: -1, Y: 5, Z: 0}, 1)
	require.NoError(t, err)

	list := f.store.Resident()
	require.Len(t, list, 2)
	assert.Equal(t, chunk.Pos{X: -1}, list[0].Pos)
	assert.True(t, list[0].Dirty)
	assert.True(t, f.clock.Now().Equal(list[0].LastAccess))
	assert.False(t, list[1].Dirty)
}

func TestSnapshotResidentIsACopy(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.store.SetBlock(ctx, BlockPos{X: 20, Y: 30, Z: 0}, 7)
	require.NoError(t, err)
	snap := f.store.SnapshotResident()
	require.Len(t, snap, 1)

	g := snap[chunk.Pos{X: 1}]
	require.NotNil(t, g)
	id, _ := g.GetBlock(4, 30, 0)
	assert.EqualValues(t, 7, id)

	_, err = f.store.SetBlock(ctx, BlockPos{X: 20, Y: 30, Z: 0}, 8)
	require.NoError(t, err)
	id, _ = g.GetBlock(4, 30, 0)
	assert.EqualValues(t, 7, id, "snapshot must not follow later writes")
}
