package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/task"
)

// The registry is the notification sink of the task and execution
// services.
var (
	_ task.Emitter      = (*Registry)(nil)
	_ execution.Emitter = (*Registry)(nil)
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobAcquiredEntry struct {
	name string
	hook JobAcquired
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobExhaustedEntry struct {
	name string
	hook JobExhausted
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type taskClaimedEntry struct {
	name string
	hook TaskClaimed
}

type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}

type executionTransitionedEntry struct {
	name string
	hook ExecutionTransitioned
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the engine starts; emit methods read the
// caches without locking.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued           []jobEnqueuedEntry
	jobAcquired           []jobAcquiredEntry
	jobCompleted          []jobCompletedEntry
	jobFailed             []jobFailedEntry
	jobExhausted          []jobExhaustedEntry
	jobCancelled          []jobCancelledEntry
	taskClaimed           []taskClaimedEntry
	taskCompleted         []taskCompletedEntry
	executionTransitioned []executionTransitionedEntry
	shutdown              []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobAcquired); ok {
		r.jobAcquired = append(r.jobAcquired, jobAcquiredEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobExhausted); ok {
		r.jobExhausted = append(r.jobExhausted, jobExhaustedEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(TaskClaimed); ok {
		r.taskClaimed = append(r.taskClaimed, taskClaimedEntry{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, h})
	}
	if h, ok := e.(ExecutionTransitioned); ok {
		r.executionTransitioned = append(r.executionTransitioned, executionTransitionedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobAcquired notifies all extensions that implement JobAcquired.
func (r *Registry) EmitJobAcquired(ctx context.Context, j *job.Job) {
	for _, e := range r.jobAcquired {
		if err := e.hook.OnJobAcquired(ctx, j); err != nil {
			r.logHookError("OnJobAcquired", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobExhausted notifies all extensions that implement JobExhausted.
func (r *Registry) EmitJobExhausted(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobExhausted {
		if err := e.hook.OnJobExhausted(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobExhausted", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, jobID id.JobID) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, jobID); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Task and execution event emitters
// ──────────────────────────────────────────────────

// EmitTaskClaimed notifies all extensions that implement TaskClaimed.
func (r *Registry) EmitTaskClaimed(ctx context.Context, t *task.Task) {
	for _, e := range r.taskClaimed {
		if err := e.hook.OnTaskClaimed(ctx, t); err != nil {
			r.logHookError("OnTaskClaimed", e.name, err)
		}
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t *task.Task, jobs []*job.Job) {
	for _, e := range r.taskCompleted {
		if err := e.hook.OnTaskCompleted(ctx, t, jobs); err != nil {
			r.logHookError("OnTaskCompleted", e.name, err)
		}
	}
}

// EmitExecutionTransitioned notifies all extensions that implement
// ExecutionTransitioned.
func (r *Registry) EmitExecutionTransitioned(ctx context.Context, ex *execution.Execution, from execution.State) {
	for _, e := range r.executionTransitioned {
		if err := e.hook.OnExecutionTransitioned(ctx, ex, from); err != nil {
			r.logHookError("OnExecutionTransitioned", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
