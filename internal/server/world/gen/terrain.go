package gen

import "github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"

// TerrainSource generates rolling terrain from a simplex heightmap.
type TerrainSource struct {
	height int
	seaLvl int
	noise  *Simplex
	detail *Simplex
	pool   *bufferPool
}

// NewTerrainSource creates a TerrainSource from a seed.
func NewTerrainSource(seed int64, height int) *TerrainSource {
	return &TerrainSource{
		height: height,
		seaLvl: height / 2,
		noise:  NewSimplex(seed),
		detail: NewSimplex(seed + 1),
		pool:   newBufferPool(height * chunk.SectionSize * chunk.SectionSize),
	}
}

// HeightAt returns the surface height of the world column (bx, bz).
func (s *TerrainSource) HeightAt(bx, bz int) int {
	base := s.noise.Octaves(float64(bx)/64.0, float64(bz)/64.0, 4, 0.5)
	detail := s.detail.Octaves(float64(bx)/16.0, float64(bz)/16.0, 2, 0.5)

	h := s.seaLvl + int(base*float64(s.height)/4+detail*2)
	return max(1, min(h, s.height-1))
}

func (s *TerrainSource) GenerateRaw(chunkX, chunkZ int) (*Buffer, error) {
	buf := s.pool.get()
	data := buf.Bytes()
	clear(data)

	const size = chunk.SectionSize
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			top := s.HeightAt(chunkX*size+x, chunkZ*size+z)
			for y := 0; y < s.height; y++ {
				var id byte
				switch {
				case y == 0:
					id = BlockBedrock
				case y < top-3:
					id = BlockStone
				case y < top:
					id = BlockDirt
				case y == top:
					id = BlockGrass
				case y <= s.seaLvl:
					id = BlockWater
				default:
					continue
				}
				data[(y*size+z)*size+x] = id
			}
		}
	}
	return buf, nil
}
