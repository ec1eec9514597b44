package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage/compress"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

// CacheDir is the directory under the data dir that holds region files.
const CacheDir = "chunk_cache"

// FileStore keeps one file per record kind and region:
// <x>_<z>.dat for full snapshots and <x>_<z>_partial.dat for change records.
// Files are compressed NBT trees. A change record carries the generation of
// the snapshot it was written against and is only replayed onto that one.
type FileStore struct {
	dir         string
	height      int
	compression compress.Type
	log         *slog.Logger

	// gens caches snapshot generations by position.
	mu   sync.Mutex
	gens map[chunk.Pos]int64
}

// NewFileStore creates a FileStore rooted at dataDir/chunk_cache, creating the
// directory as needed.
func NewFileStore(dataDir string, height int, compression compress.Type, log *slog.Logger) (*FileStore, error) {
	dir := filepath.Join(dataDir, CacheDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	return &FileStore{
		dir:         dir,
		height:      height,
		compression: compression,
		log:         log,
		gens:        make(map[chunk.Pos]int64),
	}, nil
}

// Dir returns the directory holding the region files.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) fullPath(pos chunk.Pos) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_%d.dat", pos.X, pos.Z))
}

func (s *FileStore) partialPath(pos chunk.Pos) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d_%d_partial.dat", pos.X, pos.Z))
}

// Positions lists the regions that have a full snapshot on disk.
func (s *FileStore) Positions() ([]chunk.Pos, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	var out []chunk.Pos
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".dat")
		if !ok || e.IsDir() {
			continue
		}
		xs, zs, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		x, errX := strconv.Atoi(xs)
		z, errZ := strconv.Atoi(zs)
		if errX != nil || errZ != nil {
			continue
		}
		out = append(out, chunk.Pos{X: x, Z: z})
	}
	return out, nil
}

// LoadFull reads <x>_<z>.dat. Missing and zero-length files are ErrNotFound.
func (s *FileStore) LoadFull(_ context.Context, pos chunk.Pos) (*chunk.Grid, error) {
	rec, err := s.loadFull(pos)
	if err != nil {
		return nil, fmt.Errorf("load full %v: %w", pos, err)
	}
	grid, err := rec.Grid(pos, s.height)
	if err != nil {
		return nil, fmt.Errorf("load full %v: %w", pos, err)
	}
	return grid, nil
}

// LoadPartial replays <x>_<z>_partial.dat onto grid if it exists and belongs
// to the current snapshot.
func (s *FileStore) LoadPartial(_ context.Context, pos chunk.Pos, grid *chunk.Grid) error {
	rec, err := s.loadPartial(pos)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load partial %v: %w", pos, err)
	}
	gen, err := s.generation(pos)
	if err != nil {
		return fmt.Errorf("load partial %v: %w", pos, err)
	}
	if rec.Base != gen {
		s.log.Warn("skipping stale change record", "x", pos.X, "z", pos.Z, "base", rec.Base, "generation", gen)
		return nil
	}
	changes, err := rec.Changes(pos)
	if err != nil {
		return fmt.Errorf("load partial %v: %w", pos, err)
	}
	if err := ApplyChanges(grid, changes); err != nil {
		return fmt.Errorf("load partial %v: %w", pos, err)
	}
	return nil
}

// SaveFull writes the snapshot under the next generation and then removes
// the superseded change record. A change record left behind by a failed
// removal names an older generation and is never replayed.
func (s *FileStore) SaveFull(_ context.Context, pos chunk.Pos, grid *chunk.Grid) error {
	gen, err := s.generation(pos)
	if err != nil {
		return fmt.Errorf("save full %v: %w", pos, err)
	}
	rec := NewFullRecord(pos, grid)
	rec.Generation = gen + 1
	data, err := EncodeFull(rec)
	if err != nil {
		return err
	}
	if err := s.atomicWrite(s.fullPath(pos), data); err != nil {
		return fmt.Errorf("save full %v: %w", pos, err)
	}
	s.remember(pos, rec.Generation)
	if err := os.Remove(s.partialPath(pos)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("drop partial %v: %w", pos, err)
	}
	return nil
}

// SavePartial merges changes into the existing change record. A corrupt or
// stale existing record is replaced.
func (s *FileStore) SavePartial(_ context.Context, pos chunk.Pos, changes []BlockChange) error {
	gen, err := s.generation(pos)
	if err != nil {
		return fmt.Errorf("save partial %v: %w", pos, err)
	}

	var prev []BlockChange
	old, err := s.loadPartial(pos)
	if err == nil && old.Base == gen {
		prev, err = old.Changes(pos)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
	case errors.Is(err, ErrCorrupt):
		s.log.Warn("replacing corrupt partial record", "x", pos.X, "z", pos.Z, "error", err)
		prev = nil
	default:
		return fmt.Errorf("save partial %v: %w", pos, err)
	}

	rec := NewPartialRecord(pos, MergeChanges(prev, changes))
	rec.Base = gen
	data, err := EncodePartial(rec)
	if err != nil {
		return err
	}
	if err := s.atomicWrite(s.partialPath(pos), data); err != nil {
		return fmt.Errorf("save partial %v: %w", pos, err)
	}
	return nil
}

// Close is a no-op; FileStore holds no open handles.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) loadFull(pos chunk.Pos) (FullRecord, error) {
	data, err := s.read(s.fullPath(pos))
	if err != nil {
		return FullRecord{}, err
	}
	rec, err := DecodeFull(data)
	if err != nil {
		return FullRecord{}, err
	}
	s.remember(pos, rec.Generation)
	return rec, nil
}

func (s *FileStore) loadPartial(pos chunk.Pos) (PartialRecord, error) {
	data, err := s.read(s.partialPath(pos))
	if err != nil {
		return PartialRecord{}, err
	}
	return DecodePartial(data)
}

// generation returns the generation of the stored snapshot of pos, 0 when
// there is none or it cannot be decoded.
func (s *FileStore) generation(pos chunk.Pos) (int64, error) {
	s.mu.Lock()
	gen, ok := s.gens[pos]
	s.mu.Unlock()
	if ok {
		return gen, nil
	}

	rec, err := s.loadFull(pos)
	switch {
	case err == nil:
		return rec.Generation, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
		return 0, nil
	default:
		return 0, err
	}
}

func (s *FileStore) remember(pos chunk.Pos, gen int64) {
	s.mu.Lock()
	s.gens[pos] = gen
	s.mu.Unlock()
}

// read returns the decompressed file content.
func (s *FileStore) read(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	data, err := compress.Decode(s.compression, raw)
	if err != nil {
		return nil, corrupt(err)
	}
	return data, nil
}

// atomicWrite compresses data and writes it atomically using a temp file + rename.
func (s *FileStore) atomicWrite(path string, data []byte) error {
	payload, err := compress.Encode(s.compression, data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
