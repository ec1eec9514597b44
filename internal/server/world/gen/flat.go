package gen

import "github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"

// Block IDs used by the built-in generators.
const (
	BlockAir     byte = 0
	BlockGrass   byte = 1
	BlockDirt    byte = 2
	BlockBedrock byte = 3
	BlockStone   byte = 4
	BlockWater   byte = 5
)

// FlatSource generates a superflat world:
// bedrock at y=0, dirt y=1..3, grass y=4, air above.
type FlatSource struct {
	pool *bufferPool
}

// NewFlatSource creates a FlatSource for grids of the given height.
func NewFlatSource(height int) *FlatSource {
	return &FlatSource{pool: newBufferPool(height * chunk.SectionSize * chunk.SectionSize)}
}

func (s *FlatSource) GenerateRaw(_, _ int) (*Buffer, error) {
	buf := s.pool.get()
	data := buf.Bytes()
	const layer = chunk.SectionSize * chunk.SectionSize
	for i := range data {
		var id byte
		switch y := i / layer; {
		case y == 0:
			id = BlockBedrock
		case y <= 3:
			id = BlockDirt
		case y == 4:
			id = BlockGrass
		default:
			id = BlockAir
		}
		data[i] = id
	}
	return buf, nil
}
