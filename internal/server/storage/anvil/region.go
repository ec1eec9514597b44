package anvil

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"

	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

const (
	sectorSize      = 4096
	headerSectors   = 2 // location table + timestamp table
	compressionZlib = 2
	regionChunks    = 32
)

// RegionOf returns the region file coordinates holding pos.
func RegionOf(pos chunk.Pos) (rx, rz int) {
	return pos.X >> 5, pos.Z >> 5
}

// RegionPath returns the path of the region file for rx, rz under dir.
func RegionPath(dir string, rx, rz int) string {
	return filepath.Join(dir, fmt.Sprintf("r.%d.%d.mca", rx, rz))
}

// Export writes grids into region files under dir, one file per 32×32
// block of chunks, and returns the number of files written. Existing region
// files are replaced.
func Export(ctx context.Context, dir string, grids map[chunk.Pos]*chunk.Grid) (int, error) {
	byRegion := make(map[[2]int]map[chunk.Pos][]byte)
	for pos, g := range grids {
		data, err := EncodeChunk(pos, g)
		if err != nil {
			return 0, fmt.Errorf("encode chunk %v: %w", pos, err)
		}
		rx, rz := RegionOf(pos)
		key := [2]int{rx, rz}
		if byRegion[key] == nil {
			byRegion[key] = make(map[chunk.Pos][]byte)
		}
		byRegion[key][pos] = data
	}

	written := 0
	for key, chunks := range byRegion {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := SaveRegion(dir, key[0], key[1], chunks); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// SaveRegion writes all provided chunks to a .mca region file.
// chunks maps chunk positions to their uncompressed NBT data.
func SaveRegion(dir string, rx, rz int, chunks map[chunk.Pos][]byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create region dir: %w", err)
	}

	locations := make([]byte, sectorSize)
	timestamps := make([]byte, sectorSize)
	now := uint32(time.Now().Unix())

	// Each chunk: 4 byte length + 1 byte compression type + zlib data,
	// padded to a sector boundary.
	var data bytes.Buffer
	sector := uint32(headerSectors)
	for pos, raw := range chunks {
		if x, z := RegionOf(pos); x != rx || z != rz {
			return fmt.Errorf("chunk %v does not belong to region (%d,%d)", pos, rx, rz)
		}
		var cbuf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&cbuf, zlib.DefaultCompression)
		if err != nil {
			return fmt.Errorf("create zlib writer: %w", err)
		}
		if _, err := zw.Write(raw); err != nil {
			return fmt.Errorf("compress chunk %v: %w", pos, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("close zlib writer: %w", err)
		}

		payloadLen := uint32(cbuf.Len()) + 1
		totalLen := 4 + payloadLen
		sectors := (totalLen + sectorSize - 1) / sectorSize
		if sectors > 0xFF {
			return fmt.Errorf("chunk %v needs %d sectors", pos, sectors)
		}

		off := ((pos.X & (regionChunks - 1)) + (pos.Z&(regionChunks-1))*regionChunks) * 4
		binary.BigEndian.PutUint32(locations[off:], sector<<8|sectors)
		binary.BigEndian.PutUint32(timestamps[off:], now)

		var header [5]byte
		binary.BigEndian.PutUint32(header[:4], payloadLen)
		header[4] = compressionZlib
		data.Write(header[:])
		data.Write(cbuf.Bytes())
		data.Write(make([]byte, int(sectors*sectorSize-totalLen)))

		sector += sectors
	}

	path := RegionPath(dir, rx, rz)
	tmp := path + "." + uuid.NewString() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp region file: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(tmp)
	}()

	for _, part := range [][]byte{locations, timestamps, data.Bytes()} {
		if _, err := f.Write(part); err != nil {
			return fmt.Errorf("write region file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close region file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename region file: %w", err)
	}
	return nil
}
