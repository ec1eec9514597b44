package world

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Maintainer is the work the scheduler runs. *ChunkStore implements it.
type Maintainer interface {
	SweepInactive(ctx context.Context, idle time.Duration) error
	EnforceCapacity(ctx context.Context) error
	FlushDirty(ctx context.Context) error
}

// SchedulerConfig sets the loop periods.
type SchedulerConfig struct {
	GCInterval    time.Duration
	FlushInterval time.Duration
	UnloadAfter   time.Duration
}

// DefaultSchedulerConfig returns the standard loop periods.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		GCInterval:    10 * time.Second,
		FlushInterval: 30 * time.Second,
		UnloadAfter:   60 * time.Second,
	}
}

// Scheduler runs the GC loop (sweep idle regions, then enforce capacity) and
// the flush loop against a Maintainer.
type Scheduler struct {
	m   Maintainer
	cfg SchedulerConfig
	log *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(m Maintainer, cfg SchedulerConfig, log *slog.Logger) *Scheduler {
	return &Scheduler{m: m, cfg: cfg, log: log}
}

// Start launches both loops. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.loop(ctx, "gc", s.cfg.GCInterval, s.gc)
	go s.loop(ctx, "flush", s.cfg.FlushInterval, s.m.FlushDirty)
	s.log.Info("scheduler started", "gcInterval", s.cfg.GCInterval, "flushInterval", s.cfg.FlushInterval)
}

// Stop cancels both loops and waits for a running tick to finish. The
// scheduler can be started again afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) gc(ctx context.Context) error {
	sweepErr := s.m.SweepInactive(ctx, s.cfg.UnloadAfter)
	return errors.Join(sweepErr, s.m.EnforceCapacity(ctx))
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, tick func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	// Ticks are not interrupted by Stop.
	work := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tick(work); err != nil {
				s.log.Error("background tick failed", "loop", name, "error", err)
			}
		}
	}
}
