package gen

import (
	"fmt"
	"sync"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// Generator produces the initial block content of a region that has never
// been stored.
type Generator interface {
	Generate(chunkX, chunkZ int) (*chunk.Grid, error)
}

// RawSource produces region content as a flat y-major buffer, index
// (y*16+z)*16+x, covering every block of the region. The buffer belongs to
// the source until Release is called.
type RawSource interface {
	GenerateRaw(chunkX, chunkZ int) (*Buffer, error)
}

// Buffer is a generator-owned byte buffer handed across the RawSource
// boundary. Callers copy out of it and must call Release exactly once.
type Buffer struct {
	data []byte
	pool *sync.Pool
}

// Bytes returns the buffer content. It is invalid after Release.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Release returns the buffer to its owner.
func (b *Buffer) Release() {
	if b.pool == nil || b.data == nil {
		return
	}
	data := b.data[:0]
	b.data = nil
	b.pool.Put(&data)
}

// bufferPool hands out reusable raw buffers of a fixed capacity.
type bufferPool struct {
	size int
	p    sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{size: size}
	bp.p.New = func() any {
		buf := make([]byte, 0, size)
		return &buf
	}
	return bp
}

func (bp *bufferPool) get() *Buffer {
	data := *(bp.p.Get().(*[]byte))
	return &Buffer{data: data[:bp.size], pool: &bp.p}
}

// FromRaw adapts a RawSource into a Generator for grids of the given height.
func FromRaw(src RawSource, height int) Generator {
	return rawGenerator{src: src, height: height}
}

type rawGenerator struct {
	src    RawSource
	height int
}

func (g rawGenerator) Generate(chunkX, chunkZ int) (*chunk.Grid, error) {
	buf, err := g.src.GenerateRaw(chunkX, chunkZ)
	if err != nil {
		return nil, err
	}
	defer buf.Release()

	grid := chunk.NewGrid(g.height)
	data := buf.Bytes()
	if want := g.height * chunk.SectionSize * chunk.SectionSize; len(data) != want {
		return nil, fmt.Errorf("raw region (%d,%d) is %d bytes, want %d", chunkX, chunkZ, len(data), want)
	}
	for i := range grid.Sections {
		off := i * chunk.SectionVolume
		end := min(off+chunk.SectionVolume, len(data))
		if err := grid.Sections[i].Load(data[off:end]); err != nil {
			return nil, fmt.Errorf("load section %d: %w", i, err)
		}
	}
	return grid, nil
}

// New returns the named generator: "flat" or "noise" (the default).
func New(kind string, seed int64, height int) (Generator, error) {
	switch kind {
	case "flat":
		return FromRaw(NewFlatSource(height), height), nil
	case "noise", "default", "":
		return FromRaw(NewTerrainSource(seed, height), height), nil
	default:
		return nil, fmt.Errorf("unknown generator %q", kind)
	}
}
