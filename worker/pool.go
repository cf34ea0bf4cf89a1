package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
)

// ErrPoolStopped is returned by Submit once the pool is stopping.
var ErrPoolStopped = errors.New("bpmcore: worker pool stopped")

// Pool runs acquired jobs on a bounded set of goroutines.
//
// CorePoolSize workers run for the lifetime of the pool. Submitted jobs
// go to an idle worker or wait in a queue of QueueSize; when the queue
// is full the pool grows up to MaxPoolSize workers, and extra workers
// exit again after KeepAlive without work. When every worker is busy
// and the queue is full, Submit blocks.
type Pool struct {
	store    job.Store
	executor *Executor
	owner    id.NodeID
	logger   *slog.Logger

	corePoolSize  int
	maxPoolSize   int
	keepAlive     time.Duration
	lockTime      time.Duration
	renewInterval time.Duration

	queue chan *job.Job
	freed chan struct{}

	stopCh   chan struct{}
	baseCtx  context.Context
	cancelFn context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
	workers int
	pending int

	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolSize sets the core and maximum number of workers.
func WithPoolSize(core, maxSize int) PoolOption {
	return func(p *Pool) {
		p.corePoolSize = core
		p.maxPoolSize = maxSize
	}
}

// WithQueueSize sets how many jobs may wait for a worker.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) { p.queue = make(chan *job.Job, n) }
}

// WithKeepAlive sets how long a non-core worker may stay idle.
func WithKeepAlive(d time.Duration) PoolOption {
	return func(p *Pool) { p.keepAlive = d }
}

// WithLockRenewal extends the lock of running jobs to now+lockTime every
// interval. A zero interval disables renewal.
func WithLockRenewal(interval, lockTime time.Duration) PoolOption {
	return func(p *Pool) {
		p.renewInterval = interval
		p.lockTime = lockTime
	}
}

// NewPool creates a worker pool whose jobs are locked by owner.
func NewPool(
	store job.Store,
	executor *Executor,
	owner id.NodeID,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		owner:        owner,
		logger:       logger,
		corePoolSize: 1,
		maxPoolSize:  1,
		queue:        make(chan *job.Job),
		freed:        make(chan struct{}, 1),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxPoolSize < p.corePoolSize {
		p.maxPoolSize = p.corePoolSize
	}
	return p
}

// Start launches the core workers. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.baseCtx, p.cancelFn = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("node_id", p.owner.String()),
		slog.Int("core_pool_size", p.corePoolSize),
		slog.Int("max_pool_size", p.maxPoolSize),
		slog.Int("queue_size", cap(p.queue)),
	)

	for range p.corePoolSize {
		p.workers++
		p.wg.Add(1)
		go p.work(nil, true)
	}

	if p.renewInterval > 0 {
		p.wg.Add(1)
		go p.renewLoop()
	}

	return nil
}

// Capacity returns how many more jobs the pool accepts without blocking.
func (p *Pool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.maxPoolSize + cap(p.queue) - p.pending
	if n < 0 {
		return 0
	}
	return n
}

// Freed is signalled whenever a job finishes and capacity frees up.
func (p *Pool) Freed() <-chan struct{} { return p.freed }

// Submit hands an acquired job to the pool. It blocks while the pool is
// saturated and fails with ErrPoolStopped or the context error if the
// job could not be handed over; the caller then still owns the lock.
func (p *Pool) Submit(ctx context.Context, j *job.Job) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrPoolStopped
	}

	select {
	case p.queue <- j:
		p.pending++
		p.mu.Unlock()
		return nil
	default:
	}

	if p.workers < p.maxPoolSize {
		p.workers++
		p.pending++
		p.wg.Add(1)
		go p.work(j, false)
		p.mu.Unlock()
		return nil
	}

	p.pending++
	stopCh := p.stopCh
	p.mu.Unlock()

	select {
	case p.queue <- j:
		return nil
	case <-ctx.Done():
		p.unpend()
		return ctx.Err()
	case <-stopCh:
		p.unpend()
		return ErrPoolStopped
	}
}

// Stop stops accepting jobs, releases the locks of queued jobs that never
// started, and waits for running jobs. When ctx is done first, running
// jobs have their contexts cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("node_id", p.owner.String()))

	p.releaseQueued()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}
	p.cancelFn()
	// Workers may have exited while a job was still queued.
	p.releaseQueued()

	return nil
}

// work is run by each worker goroutine. A non-core worker exits once it
// has been idle for keepAlive.
func (p *Pool) work(first *job.Job, core bool) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
	}()

	if first != nil {
		p.run(first)
	}

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if core {
			select {
			case <-p.stopCh:
				return
			case j := <-p.queue:
				p.run(j)
			}
			continue
		}

		select {
		case j := <-p.queue:
			p.run(j)
			continue
		default:
		}
		if p.keepAlive <= 0 {
			return
		}
		timer := time.NewTimer(p.keepAlive)
		select {
		case <-p.stopCh:
			timer.Stop()
			return
		case j := <-p.queue:
			timer.Stop()
			p.run(j)
		case <-timer.C:
			return
		}
	}
}

func (p *Pool) run(j *job.Job) {
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.trackJob(j.ID.String(), cancel)

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}

	p.untrackJob(j.ID.String())
	cancel()
	p.unpend()
}

func (p *Pool) unpend() {
	p.mu.Lock()
	p.pending--
	p.mu.Unlock()

	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// releaseQueued unlocks jobs still waiting in the queue so that other
// instances can acquire them.
func (p *Pool) releaseQueued() {
	for {
		select {
		case j := <-p.queue:
			if err := p.store.UnlockJob(context.Background(), j.ID, p.owner); err != nil {
				p.logger.Warn("failed to release queued job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", err.Error()),
				)
			} else {
				p.logger.Debug("released queued job", slog.String("job_id", j.ID.String()))
			}
			p.unpend()
		default:
			return
		}
	}
}

// renewLoop periodically extends the locks of running jobs.
func (p *Pool) renewLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.renewLocks()
		}
	}
}

func (p *Pool) renewLocks() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	until := time.Now().UTC().Add(p.lockTime).Truncate(time.Millisecond)
	for _, jobIDStr := range jobIDs {
		jobID, err := id.ParseJobID(jobIDStr)
		if err != nil {
			continue
		}
		err = p.store.ExtendJobLock(context.Background(), jobID, p.owner, until)
		switch {
		case err == nil:
		case errors.Is(err, bpmcore.ErrLockConflict):
			p.logger.Warn("lost lock on running job",
				slog.String("job_id", jobIDStr),
			)
		case errors.Is(err, bpmcore.ErrNotFound):
			// Finished between the snapshot and the renewal.
		default:
			p.logger.Warn("lock renewal failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
