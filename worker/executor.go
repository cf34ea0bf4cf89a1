// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware and settles the job
// record, and a Pool of goroutines that runs acquired jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/ext"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/middleware"
)

// Executor runs a single acquired job through middleware and the
// registered handler, then deletes the job, records the failure, or
// releases it, and emits the matching lifecycle event.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	owner      id.NodeID
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor that settles jobs as owner.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	owner id.NodeID,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		owner:      owner,
		mw:         middleware.Chain(mws...),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs a job the executor's owner has locked.
//
// On success the job is deleted and JobCompleted fires. On failure one
// retry is spent: with retries left the job is unlocked and JobFailed
// fires, otherwise it is marked failed and JobExhausted fires. A job
// turned away with bpmcore.ErrExecutionBusy is unlocked without spending
// a retry.
//
// The returned error is the handler error, or the store error if the
// outcome could not be recorded. Store writes are not bound to ctx
// cancellation so that a job cancelled on shutdown is still settled.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	start := time.Now()

	var err error
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		err = fmt.Errorf("%w for job %q", bpmcore.ErrHandlerNotFound, j.Name)
	} else {
		terminal := func(ctx context.Context) error {
			return handler(ctx, j.Payload)
		}
		err = e.mw(ctx, j, terminal)
	}
	elapsed := time.Since(start)

	settleCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		return e.handleSuccess(settleCtx, j, elapsed)
	case errors.Is(err, bpmcore.ErrExecutionBusy):
		return e.handleBusy(settleCtx, j)
	default:
		return e.handleFailure(settleCtx, j, err)
	}
}

// handleSuccess deletes the job and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	if err := e.store.DeleteJob(ctx, j.ID, e.owner); err != nil {
		e.logger.Error("failed to delete job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleBusy releases the lock so the job is picked up again on a later
// acquisition cycle.
func (e *Executor) handleBusy(ctx context.Context, j *job.Job) error {
	if err := e.store.UnlockJob(ctx, j.ID, e.owner); err != nil {
		e.logger.Error("failed to release busy job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	j.SetLock(job.Lock{})
	return nil
}

// handleFailure spends one retry and records the failure.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error) error {
	f := job.NextFailure(j, handlerErr, e.now())

	if err := e.store.FailJob(ctx, j.ID, e.owner, f); err != nil {
		e.logger.Error("failed to record job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return err
	}
	f.Apply(j)

	if f.Terminal {
		e.extensions.EmitJobExhausted(ctx, j, handlerErr)
		e.logger.Warn("job failed terminally after exhausting retries",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", handlerErr.Error()),
		)
		return handlerErr
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)
	e.logger.Info("job failed, released for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("retries_left", j.Retries),
	)
	return handlerErr
}
