// Package sqlitestore keeps region records as compressed NBT blobs in a
// SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage/compress"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/chunk"
)

const (
	kindFull    = "full"
	kindPartial = "partial"
)

// Store is a storage.Store backed by SQLite.
type Store struct {
	db          *sql.DB
	height      int
	compression compress.Type
	log         *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database file at path.
func Open(path string, height int, compression compress.Type, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, height: height, compression: compression, log: log}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS region_records (
		x INTEGER NOT NULL,
		z INTEGER NOT NULL,
		kind TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (x, z, kind)
	);`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) blob(ctx context.Context, q querier, pos chunk.Pos, kind string) ([]byte, error) {
	var raw []byte
	err := q.QueryRowContext(ctx,
		`SELECT data FROM region_records WHERE x = ? AND z = ? AND kind = ?`,
		pos.X, pos.Z, kind).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select %s %v: %w", kind, pos, err)
	}
	if len(raw) == 0 {
		return nil, storage.ErrNotFound
	}
	data, err := compress.Decode(s.compression, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrCorrupt, err)
	}
	return data, nil
}

func (s *Store) changes(ctx context.Context, q querier, pos chunk.Pos) ([]storage.BlockChange, error) {
	data, err := s.blob(ctx, q, pos, kindPartial)
	if err != nil {
		return nil, err
	}
	rec, err := storage.DecodePartial(data)
	if err != nil {
		return nil, err
	}
	return rec.Changes(pos)
}

// LoadFull returns the stored snapshot for pos.
func (s *Store) LoadFull(ctx context.Context, pos chunk.Pos) (*chunk.Grid, error) {
	data, err := s.blob(ctx, s.db, pos, kindFull)
	if err != nil {
		return nil, fmt.Errorf("load full %v: %w", pos, err)
	}
	rec, err := storage.DecodeFull(data)
	if err != nil {
		return nil, fmt.Errorf("load full %v: %w", pos, err)
	}
	grid, err := rec.Grid(pos, s.height)
	if err != nil {
		return nil, fmt.Errorf("load full %v: %w", pos, err)
	}
	return grid, nil
}

// LoadPartial replays the stored change record onto grid.
func (s *Store) LoadPartial(ctx context.Context, pos chunk.Pos, grid *chunk.Grid) error {
	changes, err := s.changes(ctx, s.db, pos)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load partial %v: %w", pos, err)
	}
	return storage.ApplyChanges(grid, changes)
}

const upsert = `INSERT INTO region_records (x, z, kind, data) VALUES (?, ?, ?, ?)
	ON CONFLICT (x, z, kind) DO UPDATE SET data = excluded.data`

// SaveFull replaces the snapshot and deletes the change record in one transaction.
func (s *Store) SaveFull(ctx context.Context, pos chunk.Pos, grid *chunk.Grid) error {
	data, err := storage.EncodeFull(storage.NewFullRecord(pos, grid))
	if err != nil {
		return err
	}
	payload, err := compress.Encode(s.compression, data)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save full %v: begin: %w", pos, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsert, pos.X, pos.Z, kindFull, payload); err != nil {
		return fmt.Errorf("save full %v: %w", pos, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM region_records WHERE x = ? AND z = ? AND kind = ?`,
		pos.X, pos.Z, kindPartial); err != nil {
		return fmt.Errorf("save full %v: drop partial: %w", pos, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save full %v: commit: %w", pos, err)
	}
	return nil
}

// SavePartial merges changes into the stored change record.
func (s *Store) SavePartial(ctx context.Context, pos chunk.Pos, changes []storage.BlockChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save partial %v: begin: %w", pos, err)
	}
	defer tx.Rollback()

	prev, err := s.changes(ctx, tx, pos)
	switch {
	case err == nil, errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, storage.ErrCorrupt):
		s.log.Warn("replacing corrupt partial record", "x", pos.X, "z", pos.Z, "error", err)
		prev = nil
	default:
		return fmt.Errorf("save partial %v: %w", pos, err)
	}

	data, err := storage.EncodePartial(storage.NewPartialRecord(pos, storage.MergeChanges(prev, changes)))
	if err != nil {
		return err
	}
	payload, err := compress.Encode(s.compression, data)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsert, pos.X, pos.Z, kindPartial, payload); err != nil {
		return fmt.Errorf("save partial %v: %w", pos, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save partial %v: commit: %w", pos, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
