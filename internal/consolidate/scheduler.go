// Package consolidate runs the background maintenance jobs on independent
// timers: a fast decay pass and a slower full pass (dedup sweep, pattern
// maintenance, audit pruning). Jobs never run on the request path.
package consolidate

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kbanc85/claudia-sub002/internal/config"
	"github.com/kbanc85/claudia-sub002/internal/store"
)

// Scheduler owns the timers and the per-job overlap guards.
type Scheduler struct {
	store  *store.Store
	cfg    config.ConsolidateConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]bool
}

// New creates a scheduler for the given store.
func New(s *store.Store, cfg config.ConsolidateConfig) *Scheduler {
	return &Scheduler{
		store:   s,
		cfg:     cfg,
		running: map[string]bool{},
	}
}

// Start launches the decay and full-pass loops. Call Stop to cancel and wait.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.loop(ctx, "decay", s.cfg.DecayInterval, func(ctx context.Context) error {
		sum, err := s.store.RunDecay(ctx, time.Now())
		if err != nil {
			return err
		}
		log.Info("decay pass finished", "touched", sum.Touched)
		return nil
	})

	s.loop(ctx, "full", s.cfg.FullInterval, func(ctx context.Context) error {
		sums, err := s.store.RunFull(ctx, time.Now())
		if err != nil {
			return err
		}
		for _, sum := range sums {
			log.Info("consolidation job finished", "job", sum.Job,
				"touched", sum.Touched, "merged", sum.Merged, "flagged", sum.Flagged)
		}
		return nil
	})
}

// Stop cancels both loops and waits for in-flight passes to check the
// cancellation signal and exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
}

func (s *Scheduler) loop(ctx context.Context, job string, interval time.Duration, run func(context.Context) error) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx, job, run)
			}
		}
	}()
}

// tick runs one pass unless the same job type is already in progress. The
// guard prevents double-decay when a pass outlasts its interval.
func (s *Scheduler) tick(ctx context.Context, job string, run func(context.Context) error) {
	if !s.tryAcquire(job) {
		log.Warn("skipping consolidation tick, previous run still in progress", "job", job)
		return
	}
	defer s.release(job)

	if err := run(ctx); err != nil && ctx.Err() == nil {
		log.Error("consolidation job failed", "job", job, "error", err)
	}
}

func (s *Scheduler) tryAcquire(job string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[job] {
		return false
	}
	s.running[job] = true
	return true
}

func (s *Scheduler) release(job string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[job] = false
}
