package acquisition_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/bpmcore/acquisition"
	"github.com/xraph/bpmcore/ext"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/store/memory"
	"github.com/xraph/bpmcore/worker"
)

// countingStore counts candidate scans.
type countingStore struct {
	*memory.Store
	scans atomic.Int32
}

func (s *countingStore) FindAcquirableJobs(ctx context.Context, now time.Time, limit int) ([]*job.Job, error) {
	s.scans.Add(1)
	return s.Store.FindAcquirableJobs(ctx, now, limit)
}

type harness struct {
	store    *countingStore
	registry *job.Registry
	runner   *acquisition.Runner
}

func newHarness(waitTime time.Duration) *harness {
	logger := slog.Default()
	s := &countingStore{Store: memory.New()}
	reg := job.NewRegistry()
	owner := id.NewNodeID()
	extensions := ext.NewRegistry(logger)

	executor := worker.NewExecutor(reg, extensions, s, owner, logger)
	pool := worker.NewPool(s, executor, owner, logger,
		worker.WithPoolSize(1, 3),
		worker.WithQueueSize(3),
	)
	a := acquisition.NewAcquirer(s, owner, extensions, logger)
	r := acquisition.NewRunner(a, pool, s, owner, acquisition.RunnerConfig{
		MaxJobsPerAcquisition: 3,
		LockTime:              time.Minute,
		WaitTime:              waitTime,
	}, logger)
	return &harness{store: s, registry: reg, runner: r}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.runner.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestRunner_ExecutesDueJobs(t *testing.T) {
	h := newHarness(20 * time.Millisecond)
	var ran atomic.Int32
	h.registry.RegisterFunc("work", func(context.Context, []byte) error {
		ran.Add(1)
		return nil
	}, job.Options{})

	const total = 10
	for range total {
		enqueue(t, h.store, "work", -time.Second)
	}

	if err := h.runner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "all jobs to run", func() bool {
		n, err := h.store.CountJobs(context.Background(), job.CountOpts{})
		return err == nil && n == 0
	})
	h.stop(t)

	if ran.Load() != total {
		t.Errorf("ran %d jobs, want %d", ran.Load(), total)
	}
}

func TestRunner_BacksOffWhenIdle(t *testing.T) {
	h := newHarness(50 * time.Millisecond)

	if err := h.runner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(260 * time.Millisecond)
	h.stop(t)

	if n := h.store.scans.Load(); n < 2 || n > 8 {
		t.Errorf("idle loop scanned %d times in 260ms with a 50ms wait", n)
	}
}

func TestRunner_HintWakesLoop(t *testing.T) {
	h := newHarness(time.Hour)
	var ran atomic.Bool
	h.registry.RegisterFunc("work", func(context.Context, []byte) error {
		ran.Store(true)
		return nil
	}, job.Options{})

	if err := h.runner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first idle scan", func() bool { return h.store.scans.Load() >= 1 })

	enqueue(t, h.store, "work", 0)
	h.runner.Hint()

	waitFor(t, "hinted job to run", ran.Load)
	h.stop(t)
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	h.stop(t)
	if err := h.runner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.stop(t)
	h.stop(t)
}
