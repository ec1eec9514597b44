// Package anvil exports regions as Minecraft 1.8 Anvil region files, so a
// world can be opened with standard map tools.
package anvil

import (
	"bytes"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/nbt"
)

const nibbleBytes = chunk.SectionVolume / 2

// EncodeChunk encodes a grid as a MC 1.8 chunk NBT tree. Block IDs are written
// as-is with zero metadata; all-air sections are omitted.
func EncodeChunk(pos chunk.Pos, grid *chunk.Grid) ([]byte, error) {
	var buf bytes.Buffer
	w := nbt.NewWriter(&buf)

	w.BeginCompound("")
	w.BeginCompound("Level")

	w.WriteInt("xPos", int32(pos.X))
	w.WriteInt("zPos", int32(pos.Z))
	w.WriteTagByte("TerrainPopulated", 1)
	w.WriteLong("LastUpdate", 0)

	var sections []int
	for i := range grid.Sections {
		if !empty(&grid.Sections[i]) {
			sections = append(sections, i)
		}
	}

	// Anvil uses the same y-z-x slot order as chunk.Section.
	fullLight := bytes.Repeat([]byte{0xFF}, nibbleBytes)
	noMeta := make([]byte, nibbleBytes)
	w.BeginList("Sections", nbt.TagCompound, len(sections))
	for _, i := range sections {
		w.WriteTagByte("Y", byte(i))
		w.WriteByteArray("Blocks", grid.Sections[i].Raw())
		w.WriteByteArray("Data", noMeta)
		w.WriteByteArray("BlockLight", fullLight)
		w.WriteByteArray("SkyLight", fullLight)
		w.EndCompound()
	}

	w.WriteByteArray("Biomes", make([]byte, chunk.SectionSize*chunk.SectionSize))
	w.WriteIntArray("HeightMap", heightMap(grid))

	w.EndCompound() // Level
	w.EndCompound() // root

	if w.Err() != nil {
		return nil, w.Err()
	}
	return buf.Bytes(), nil
}

func empty(s *chunk.Section) bool {
	for _, b := range s.Blocks {
		if b != 0 {
			return false
		}
	}
	return true
}

// heightMap returns, per x,z column, one above the highest non-air block.
func heightMap(grid *chunk.Grid) []int32 {
	hm := make([]int32, chunk.SectionSize*chunk.SectionSize)
	for z := 0; z < chunk.SectionSize; z++ {
		for x := 0; x < chunk.SectionSize; x++ {
			for y := grid.Height() - 1; y >= 0; y-- {
				if id, _ := grid.GetBlock(x, y, z); id != 0 {
					hm[z*chunk.SectionSize+x] = int32(y + 1)
					break
				}
			}
		}
	}
	return hm
}
