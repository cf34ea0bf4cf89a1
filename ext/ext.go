// Package ext defines the extension system for bpmcore.
// Extensions are notified of lifecycle events (job acquired, completed,
// exhausted, task completed, etc.) and can react to them: logging,
// metrics, auditing.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is persisted.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobAcquired is called after this engine instance locked a job.
type JobAcquired interface {
	OnJobAcquired(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finished successfully and was
// deleted.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when an attempt failed and the job has retries
// left. The job is unlocked and will be acquired again.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobExhausted is called when a job failed with no retries left. The job
// stays in the store as an incident.
type JobExhausted interface {
	OnJobExhausted(ctx context.Context, j *job.Job, err error) error
}

// JobCancelled is called after a job was removed before execution.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, jobID id.JobID) error
}

// ──────────────────────────────────────────────────
// Task and execution hooks
// ──────────────────────────────────────────────────

// TaskClaimed is called after a task's assignee changed, including
// unclaims.
type TaskClaimed interface {
	OnTaskClaimed(ctx context.Context, t *task.Task) error
}

// TaskCompleted is called after a task completed together with the jobs
// its completion enqueued.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, jobs []*job.Job) error
}

// ExecutionTransitioned is called after a case execution changed state.
type ExecutionTransitioned interface {
	OnExecutionTransitioned(ctx context.Context, e *execution.Execution, from execution.State) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
