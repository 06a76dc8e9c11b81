package consolidate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbanc85/claudia-sub002/internal/config"
	"github.com/kbanc85/claudia-sub002/internal/store"
)

func newScheduler(t *testing.T, cfg config.ConsolidateConfig) (*Scheduler, *store.Store) {
	t.Helper()
	storeCfg := config.Default()
	storeCfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(storeCfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, cfg), s
}

func TestSchedulerRunsDecayOnInterval(t *testing.T) {
	sched, s := newScheduler(t, config.ConsolidateConfig{
		DecayInterval: 20 * time.Millisecond,
		BatchSize:     200,
	})

	sched.Start()
	defer sched.Stop()

	require.Eventually(t, func() bool {
		runs, err := s.LastRuns(context.Background())
		return err == nil && !runs["decay"].IsZero()
	}, 2*time.Second, 10*time.Millisecond, "decay pass never ran")
}

func TestSchedulerStopIsClean(t *testing.T) {
	sched, _ := newScheduler(t, config.ConsolidateConfig{
		DecayInterval: 10 * time.Millisecond,
		FullInterval:  15 * time.Millisecond,
		BatchSize:     200,
	})

	sched.Start()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Stopping again is harmless.
	sched.Stop()
}

func TestSchedulerSkipsZeroIntervals(t *testing.T) {
	sched, s := newScheduler(t, config.ConsolidateConfig{})

	sched.Start()
	time.Sleep(30 * time.Millisecond)
	sched.Stop()

	runs, err := s.LastRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs, "no loops should run with zero intervals")
}

func TestTickOverlapGuard(t *testing.T) {
	sched, _ := newScheduler(t, config.ConsolidateConfig{})

	require.True(t, sched.tryAcquire("decay"))
	assert.False(t, sched.tryAcquire("decay"), "a running job must not be re-entered")
	sched.release("decay")
	assert.True(t, sched.tryAcquire("decay"))
}
