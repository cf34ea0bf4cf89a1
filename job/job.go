package job

import (
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
)

// State represents the lifecycle state of a job record.
type State string

const (
	// StatePending means the job waits to be acquired. A pending job may
	// carry a lock while an engine instance executes it.
	StatePending State = "pending"
	// StateFailed means the job exhausted its retries. It stays locked by
	// the last owner and is never acquired again until an operator resets
	// its retries.
	StateFailed State = "failed"
)

// Job is a durable record of asynchronous work tied to an execution.
// Successful jobs are deleted, so a stored job is either pending or failed.
type Job struct {
	bpmcore.Entity

	ID          id.JobID       `json:"id"`
	Name        string         `json:"name"`
	ExecutionID id.ExecutionID `json:"execution_id,omitempty"`
	// InstanceID is the process or case instance the execution belongs
	// to. Exclusive execution serializes jobs by it.
	InstanceID id.ExecutionID `json:"instance_id,omitempty"`
	Payload    []byte         `json:"payload,omitempty"`
	State      State          `json:"state"`
	DueAt      time.Time      `json:"due_at"`

	LockOwner     id.NodeID  `json:"lock_owner,omitempty"`
	LockExpiresAt *time.Time `json:"lock_expires_at,omitempty"`

	// Retries is the number of attempts left. Every failure decrements it;
	// at zero the job fails terminally.
	Retries   int           `json:"retries"`
	LastError string        `json:"last_error,omitempty"`
	FailedAt  *time.Time    `json:"failed_at,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// Lock is the lock state of a job. The zero Lock means unlocked.
type Lock struct {
	Owner     id.NodeID
	ExpiresAt time.Time
}

// IsZero reports whether l is the unlocked state.
func (l Lock) IsZero() bool {
	return l.Owner.IsNil() && l.ExpiresAt.IsZero()
}

// Expired reports whether l no longer protects the job at now. An absent
// lock counts as expired.
func (l Lock) Expired(now time.Time) bool {
	return l.IsZero() || !now.Before(l.ExpiresAt)
}

// Equal reports whether two lock states are the same.
func (l Lock) Equal(other Lock) bool {
	return l.Owner.String() == other.Owner.String() && l.ExpiresAt.Equal(other.ExpiresAt)
}

// Lock returns the current lock state of j.
func (j *Job) Lock() Lock {
	l := Lock{Owner: j.LockOwner}
	if j.LockExpiresAt != nil {
		l.ExpiresAt = *j.LockExpiresAt
	}
	return l
}

// SetLock overwrites the lock fields of j. Stores use it after a
// successful compare-and-swap.
func (j *Job) SetLock(l Lock) {
	j.LockOwner = l.Owner
	if l.ExpiresAt.IsZero() {
		j.LockExpiresAt = nil
		return
	}
	t := l.ExpiresAt
	j.LockExpiresAt = &t
}

// LockedBy reports whether owner holds an unexpired lock on j at now.
func (j *Job) LockedBy(owner id.NodeID, now time.Time) bool {
	l := j.Lock()
	return !l.Expired(now) && l.Owner.String() == owner.String()
}

// Acquirable reports whether j may be locked at now: it is pending, due,
// and its lock is absent or expired.
func (j *Job) Acquirable(now time.Time) bool {
	return j.State == StatePending && !j.DueAt.After(now) && j.Lock().Expired(now)
}

// Failure describes the outcome of a failed attempt, computed by the
// executor and applied by the store.
type Failure struct {
	// Retries is the new number of attempts left.
	Retries int
	// Reason is the error message of the attempt.
	Reason string
	// Terminal moves the job to StateFailed and keeps its lock.
	Terminal bool
	// At is the time of the failure.
	At time.Time
}

// NextFailure returns the Failure that records err against j at now.
func NextFailure(j *Job, err error, now time.Time) Failure {
	retries := j.Retries - 1
	if retries < 0 {
		retries = 0
	}
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return Failure{
		Retries:  retries,
		Reason:   reason,
		Terminal: retries == 0,
		At:       now,
	}
}

// Apply mutates j as a store does when it records f. A retryable failure
// unlocks the job; a terminal one keeps the lock and marks it failed.
func (f Failure) Apply(j *Job) {
	j.Retries = f.Retries
	j.LastError = f.Reason
	j.UpdatedAt = f.At
	if f.Terminal {
		j.State = StateFailed
		at := f.At
		j.FailedAt = &at
		return
	}
	j.SetLock(Lock{})
}

// New creates a pending job from name, payload, and resolved options.
// Retries below one are replaced by defaultRetries.
func New(name string, payload []byte, o Options, defaultRetries int) *Job {
	j := &Job{
		Entity:      bpmcore.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		ExecutionID: o.ExecutionID,
		InstanceID:  o.InstanceID,
		Payload:     payload,
		State:       StatePending,
		DueAt:       o.DueAt,
		Retries:     o.Retries,
		Timeout:     o.Timeout,
	}
	if j.DueAt.IsZero() {
		j.DueAt = j.CreatedAt
	}
	if j.Retries < 1 {
		j.Retries = defaultRetries
	}
	return j
}
