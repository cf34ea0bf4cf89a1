package job

import (
	"time"

	"github.com/xraph/bpmcore/id"
)

// Options configures how a job is enqueued.
type Options struct {
	// Retries is the number of attempts the job gets. Zero means the
	// engine default.
	Retries int

	// Timeout is the maximum duration a single attempt may run. Zero means
	// no timeout beyond the lock.
	Timeout time.Duration

	// DueAt schedules the job for later execution. Zero means immediately.
	DueAt time.Time

	// ExecutionID binds the job to an execution.
	ExecutionID id.ExecutionID

	// InstanceID is the process or case instance of the execution.
	InstanceID id.ExecutionID
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithRetries sets the number of attempts.
func WithRetries(n int) Option {
	return func(o *Options) {
		o.Retries = n
	}
}

// WithTimeout sets the maximum execution duration of one attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithDueAt schedules the job for execution at a specific time.
func WithDueAt(t time.Time) Option {
	return func(o *Options) {
		o.DueAt = t
	}
}

// WithDelay schedules the job d from now.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.DueAt = time.Now().UTC().Add(d)
	}
}

// WithExecution binds the job to an execution of the given instance. An
// empty instance means the execution is its own instance root.
func WithExecution(execID, instanceID id.ExecutionID) Option {
	return func(o *Options) {
		o.ExecutionID = execID
		o.InstanceID = instanceID
		if instanceID.IsNil() {
			o.InstanceID = execID
		}
	}
}
