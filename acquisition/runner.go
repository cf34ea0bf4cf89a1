package acquisition

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/worker"
)

// Pool is the part of worker.Pool the runner drives.
type Pool interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Capacity() int
	Freed() <-chan struct{}
	Submit(ctx context.Context, j *job.Job) error
}

var _ Pool = (*worker.Pool)(nil)

// Runner is the scheduling loop of one engine instance.
type Runner struct {
	acquirer *Acquirer
	pool     Pool
	store    job.Store
	owner    id.NodeID
	logger   *slog.Logger

	maxBatch int
	lockTime time.Duration
	waitTime time.Duration

	hint chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// RunnerConfig holds the scheduling settings of a Runner.
type RunnerConfig struct {
	MaxJobsPerAcquisition int
	LockTime              time.Duration
	WaitTime              time.Duration
}

// NewRunner creates a Runner that acquires with a and dispatches to pool.
// store and owner are used to release jobs the pool did not take.
func NewRunner(a *Acquirer, pool Pool, store job.Store, owner id.NodeID, cfg RunnerConfig, logger *slog.Logger) *Runner {
	return &Runner{
		acquirer: a,
		pool:     pool,
		store:    store,
		owner:    owner,
		logger:   logger,
		maxBatch: cfg.MaxJobsPerAcquisition,
		lockTime: cfg.LockTime,
		waitTime: cfg.WaitTime,
		hint:     make(chan struct{}, 1),
	}
}

// Hint wakes an idle loop early. It never blocks.
func (r *Runner) Hint() {
	select {
	case r.hint <- struct{}{}:
	default:
	}
}

// Run acquires and dispatches jobs until ctx is done. It returns nil on
// cancellation.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		capacity := r.pool.Capacity()
		if capacity == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-r.pool.Freed():
			}
			continue
		}

		jobs, err := r.acquirer.AcquireJobs(ctx, min(r.maxBatch, capacity), r.lockTime)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("job acquisition failed", slog.String("error", err.Error()))
			r.idle(ctx)
			continue
		}

		for i, j := range jobs {
			if err := r.pool.Submit(ctx, j); err != nil {
				r.release(jobs[i:])
				return nil
			}
		}

		if len(jobs) == 0 {
			r.idle(ctx)
		}
	}
}

// idle waits for the wait time, a hint, or cancellation.
func (r *Runner) idle(ctx context.Context) {
	timer := time.NewTimer(r.waitTime)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-r.hint:
	}
}

// release unlocks jobs that were acquired but never dispatched.
func (r *Runner) release(jobs []*job.Job) {
	for _, j := range jobs {
		if err := r.store.UnlockJob(context.Background(), j.ID, r.owner); err != nil {
			r.logger.Warn("failed to release undispatched job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Start starts the pool and the loop. It returns immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return nil
	}
	if err := r.pool.Start(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		if err := r.Run(loopCtx); err != nil {
			r.logger.Error("scheduling loop stopped", slog.String("error", err.Error()))
		}
	}()

	r.logger.Info("job acquisition started",
		slog.String("node_id", r.owner.String()),
		slog.Int("max_jobs_per_acquisition", r.maxBatch),
		slog.Duration("lock_time", r.lockTime),
		slog.Duration("wait_time", r.waitTime),
	)
	return nil
}

// Stop ends acquisition, then stops the pool within ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	r.logger.Info("job acquisition stopped", slog.String("node_id", r.owner.String()))
	return r.pool.Stop(ctx)
}
