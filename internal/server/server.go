package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/OCharnyshevich/chunk-server/internal/server/config"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage/compress"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage/leveldbstore"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage/sqlitestore"
	"github.com/OCharnyshevich/chunk-server/internal/server/world"
	"github.com/OCharnyshevich/chunk-server/internal/server/world/gen"
)

// Server owns the chunk store, its storage backend and the background
// scheduler, and serves console commands against them.
type Server struct {
	cfg    *config.Config
	log    *slog.Logger
	store  storage.Store
	chunks *world.ChunkStore
	sched  *world.Scheduler
}

// New opens the configured storage backend and builds the chunk store.
func New(cfg *config.Config, log *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	generator, err := gen.New(cfg.Generator, cfg.Seed, cfg.Height)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(cfg, log)
	if err != nil {
		return nil, err
	}

	chunks := world.NewChunkStore(store, generator, world.Options{
		Height:            cfg.Height,
		MaxLoaded:         cfg.MaxLoadedChunks,
		FullSaveThreshold: cfg.FullSaveThreshold,
		IOWorkers:         cfg.IOWorkers,
		Log:               log.With("component", "chunks"),
	})
	sched := world.NewScheduler(chunks, world.SchedulerConfig{
		GCInterval:    cfg.GCInterval,
		FlushInterval: cfg.FlushInterval,
		UnloadAfter:   cfg.UnloadAfter,
	}, log.With("component", "scheduler"))

	return &Server{cfg: cfg, log: log, store: store, chunks: chunks, sched: sched}, nil
}

// OpenStore opens the storage backend named by cfg.Backend under cfg.DataDir.
func OpenStore(cfg *config.Config, log *slog.Logger) (storage.Store, error) {
	c, err := compress.Parse(cfg.Compression)
	if err != nil {
		return nil, err
	}
	log = log.With("component", "storage", "backend", cfg.Backend)

	switch cfg.Backend {
	case config.BackendFile:
		return storage.NewFileStore(cfg.DataDir, cfg.Height, c, log)
	case config.BackendLevelDB:
		return leveldbstore.Open(filepath.Join(cfg.DataDir, "db"), cfg.Height, c, log)
	case config.BackendSQLite:
		return sqlitestore.Open(filepath.Join(cfg.DataDir, "world.db"), cfg.Height, c, log)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Chunks returns the chunk store.
func (s *Server) Chunks() *world.ChunkStore {
	return s.chunks
}

// Run starts the scheduler and executes console commands read from in until
// the context is cancelled, in is exhausted or a quit command arrives. It then
// stops the scheduler, saves every resident region and closes storage.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.log.Info("server started",
		"dataDir", s.cfg.DataDir,
		"backend", s.cfg.Backend,
		"compression", s.cfg.Compression,
		"generator", s.cfg.Generator,
		"seed", s.cfg.Seed,
		"maxLoaded", s.cfg.MaxLoadedChunks,
	)
	s.sched.Start(ctx)

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	con := &console{chunks: s.chunks, out: out}
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if err := con.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					break loop
				}
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}

	s.log.Info("server shutting down")
	return s.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown stops the scheduler, unloads every region and closes storage.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sched.Stop()
	unloadErr := s.chunks.UnloadAll(ctx)
	if unloadErr != nil {
		s.log.Error("unload regions", "error", unloadErr)
	}
	return errors.Join(unloadErr, s.store.Close())
}
