package storage

import (
	"bytes"
	"fmt"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/nbt"
)

// EncodeFull writes a full record as a big-endian NBT tree.
func EncodeFull(rec FullRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := nbt.NewWriter(&buf)

	w.BeginCompound("")
	w.WriteInt("chunkX", rec.ChunkX)
	w.WriteInt("chunkZ", rec.ChunkZ)
	w.WriteLong("generation", rec.Generation)
	w.BeginList("sections", nbt.TagCompound, len(rec.Sections))
	for _, s := range rec.Sections {
		w.WriteInt("yIndex", s.YIndex)
		w.WriteByteArray("blocks", s.Blocks)
		w.EndCompound()
	}
	w.EndCompound()

	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode full record: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFull parses a tree written by EncodeFull. Any structural problem is
// reported as ErrCorrupt.
func DecodeFull(data []byte) (FullRecord, error) {
	var rec FullRecord
	root, err := readRoot(data)
	if err != nil {
		return rec, err
	}
	if rec.ChunkX, err = root.Int("chunkX"); err != nil {
		return rec, corrupt(err)
	}
	if rec.ChunkZ, err = root.Int("chunkZ"); err != nil {
		return rec, corrupt(err)
	}
	if rec.Generation, err = optionalLong(root, "generation"); err != nil {
		return rec, corrupt(err)
	}
	sections, err := root.Compounds("sections")
	if err != nil {
		return rec, corrupt(err)
	}
	rec.Sections = make([]SectionRecord, len(sections))
	for i, s := range sections {
		if rec.Sections[i].YIndex, err = s.Int("yIndex"); err != nil {
			return rec, corrupt(err)
		}
		if rec.Sections[i].Blocks, err = s.ByteArray("blocks"); err != nil {
			return rec, corrupt(err)
		}
	}
	return rec, nil
}

// EncodePartial writes a change record as a big-endian NBT tree.
func EncodePartial(rec PartialRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := nbt.NewWriter(&buf)

	w.BeginCompound("")
	w.WriteInt("chunkX", rec.ChunkX)
	w.WriteInt("chunkZ", rec.ChunkZ)
	w.WriteLong("base", rec.Base)
	w.BeginList("changedBlocks", nbt.TagCompound, len(rec.ChangedBlocks))
	for _, c := range rec.ChangedBlocks {
		w.WriteInt("x", c.X)
		w.WriteInt("y", c.Y)
		w.WriteInt("z", c.Z)
		w.WriteInt("blockId", c.BlockID)
		w.EndCompound()
	}
	w.EndCompound()

	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("encode partial record: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePartial parses a tree written by EncodePartial.
func DecodePartial(data []byte) (PartialRecord, error) {
	var rec PartialRecord
	root, err := readRoot(data)
	if err != nil {
		return rec, err
	}
	if rec.ChunkX, err = root.Int("chunkX"); err != nil {
		return rec, corrupt(err)
	}
	if rec.ChunkZ, err = root.Int("chunkZ"); err != nil {
		return rec, corrupt(err)
	}
	if rec.Base, err = optionalLong(root, "base"); err != nil {
		return rec, corrupt(err)
	}
	blocks, err := root.Compounds("changedBlocks")
	if err != nil {
		return rec, corrupt(err)
	}
	rec.ChangedBlocks = make([]ChangeRecord, len(blocks))
	for i, b := range blocks {
		c := &rec.ChangedBlocks[i]
		for _, f := range []struct {
			name string
			dst  *int32
		}{{"x", &c.X}, {"y", &c.Y}, {"z", &c.Z}, {"blockId", &c.BlockID}} {
			if *f.dst, err = b.Int(f.name); err != nil {
				return rec, corrupt(err)
			}
		}
	}
	return rec, nil
}

// optionalLong reads a long tag that records written before it existed lack.
func optionalLong(c nbt.Compound, name string) (int64, error) {
	if _, ok := c[name]; !ok {
		return 0, nil
	}
	return c.Long(name)
}

func readRoot(data []byte) (nbt.Compound, error) {
	_, root, err := nbt.Read(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt(err)
	}
	return root, nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}
