// Package ext defines the extension system for bpmcore.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics or writing audit logs. Each lifecycle hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobExhausted(ctx context.Context, j *job.Job, err error) error {
//	    log.Printf("job %s raised an incident: %v", j.ID, err)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was persisted
//   - [JobAcquired]: this engine instance locked the job
//   - [JobCompleted]: job finished successfully and was deleted
//   - [JobFailed]: an attempt failed and the job will be acquired again
//   - [JobExhausted]: job failed with no retries left
//   - [JobCancelled]: job was removed before it ran
//
// # Task and Execution Hooks
//
//   - [TaskClaimed]: a task's assignee changed
//   - [TaskCompleted]: a task completed
//   - [ExecutionTransitioned]: a case execution changed state
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
