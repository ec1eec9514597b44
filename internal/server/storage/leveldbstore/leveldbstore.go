// Package leveldbstore keeps region records in a LevelDB database, encoded as
// little-endian NBT the way Bedrock world databases store chunk data.
package leveldbstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/sandertv/gophertunnel/minecraft/nbt"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage/compress"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

const (
	kindFull    = "full"
	kindPartial = "partial"
)

// Store is a storage.Store backed by LevelDB.
type Store struct {
	db          *leveldb.DB
	height      int
	compression compress.Type
	log         *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database in dir. Values are compressed by the
// store itself, so LevelDB's block compression is disabled.
func Open(dir string, height int, compression compress.Type, log *slog.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{Compression: opt.NoCompression})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return &Store{db: db, height: height, compression: compression, log: log}, nil
}

func key(pos chunk.Pos, kind string) []byte {
	return fmt.Appendf(nil, "region/%d/%d/%s", pos.X, pos.Z, kind)
}

func (s *Store) get(pos chunk.Pos, kind string, v any) error {
	raw, err := s.db.Get(key(pos, kind), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("get %s %v: %w", kind, pos, err)
	}
	if len(raw) == 0 {
		return storage.ErrNotFound
	}
	data, err := compress.Decode(s.compression, raw)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	if err := nbt.UnmarshalEncoding(data, v, nbt.LittleEndian); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	return nil
}

func (s *Store) encode(v any) ([]byte, error) {
	data, err := nbt.MarshalEncoding(v, nbt.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("marshal nbt: %w", err)
	}
	return compress.Encode(s.compression, data)
}

// LoadFull returns the stored snapshot for pos.
func (s *Store) LoadFull(_ context.Context, pos chunk.Pos) (*chunk.Grid, error) {
	var rec storage.FullRecord
	if err := s.get(pos, kindFull, &rec); err != nil {
		return nil, fmt.Errorf("load full %v: %w", pos, err)
	}
	grid, err := rec.Grid(pos, s.height)
	if err != nil {
		return nil, fmt.Errorf("load full %v: %w", pos, err)
	}
	return grid, nil
}

// LoadPartial replays the stored change record onto grid.
func (s *Store) LoadPartial(_ context.Context, pos chunk.Pos, grid *chunk.Grid) error {
	changes, err := s.changes(pos)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load partial %v: %w", pos, err)
	}
	return storage.ApplyChanges(grid, changes)
}

func (s *Store) changes(pos chunk.Pos) ([]storage.BlockChange, error) {
	var rec storage.PartialRecord
	if err := s.get(pos, kindPartial, &rec); err != nil {
		return nil, err
	}
	return rec.Changes(pos)
}

// SaveFull writes the snapshot and deletes the change record in one batch.
func (s *Store) SaveFull(_ context.Context, pos chunk.Pos, grid *chunk.Grid) error {
	val, err := s.encode(storage.NewFullRecord(pos, grid))
	if err != nil {
		return fmt.Errorf("save full %v: %w", pos, err)
	}
	batch := new(leveldb.Batch)
	batch.Put(key(pos, kindFull), val)
	batch.Delete(key(pos, kindPartial))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("save full %v: %w", pos, err)
	}
	return nil
}

// SavePartial merges changes into the stored change record.
func (s *Store) SavePartial(_ context.Context, pos chunk.Pos, changes []storage.BlockChange) error {
	prev, err := s.changes(pos)
	switch {
	case err == nil, errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, storage.ErrCorrupt):
		s.log.Warn("replacing corrupt partial record", "x", pos.X, "z", pos.Z, "error", err)
		prev = nil
	default:
		return fmt.Errorf("save partial %v: %w", pos, err)
	}

	val, err := s.encode(storage.NewPartialRecord(pos, storage.MergeChanges(prev, changes)))
	if err != nil {
		return fmt.Errorf("save partial %v: %w", pos, err)
	}
	if err := s.db.Put(key(pos, kindPartial), val, nil); err != nil {
		return fmt.Errorf("save partial %v: %w", pos, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
