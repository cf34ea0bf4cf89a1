package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/store"
	"github.com/xraph/bpmcore/task"
	"github.com/xraph/bpmcore/variable"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing, development, and
// single-node deployments. A single mutex makes every multi-record write
// atomic and every snapshot consistent.
type Store struct {
	mu sync.RWMutex

	executions map[string]*execution.Execution
	variables  map[string]map[string]variable.Value // key: scope execution ID
	tasks      map[string]*task.Task
	jobs       map[string]*job.Job

	now func() time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		executions: make(map[string]*execution.Execution),
		variables:  make(map[string]map[string]variable.Value),
		tasks:      make(map[string]*task.Task),
		jobs:       make(map[string]*job.Job),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Variable Store
// ──────────────────────────────────────────────────

// GetVariables returns all variables of a scope.
func (m *Store) GetVariables(_ context.Context, scopeID id.ExecutionID) (map[string]variable.Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return variable.Clone(m.variables[scopeID.String()]), nil
}

// SetVariables upserts variables into a scope.
func (m *Store) SetVariables(_ context.Context, scopeID id.ExecutionID, vars map[string]variable.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setVariablesLocked(scopeID, vars)
	return nil
}

func (m *Store) setVariablesLocked(scopeID id.ExecutionID, vars map[string]variable.Value) {
	if len(vars) == 0 {
		return
	}
	key := scopeID.String()
	scope, ok := m.variables[key]
	if !ok {
		scope = make(map[string]variable.Value, len(vars))
		m.variables[key] = scope
	}
	for name, v := range vars {
		scope[name] = v
	}
}

// ──────────────────────────────────────────────────
// Execution Store
// ──────────────────────────────────────────────────

// CreateExecution persists a new execution.
func (m *Store) CreateExecution(_ context.Context, e *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, exists := m.executions[key]; exists {
		return bpmcore.ErrExecutionAlreadyExists
	}
	cp := *e
	m.executions[key] = &cp
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *Store) GetExecution(_ context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[execID.String()]
	if !ok {
		return nil, bpmcore.ErrExecutionNotFound
	}
	cp := *e
	return &cp, nil
}

// TransitionExecution moves an execution from one state to another.
func (m *Store) TransitionExecution(_ context.Context, execID id.ExecutionID, from, to execution.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[execID.String()]
	if !ok {
		return bpmcore.ErrExecutionNotFound
	}
	if e.State != from {
		return bpmcore.ErrConcurrentUpdate
	}
	e.State = to
	e.UpdatedAt = m.now()
	return nil
}

// SnapshotExecutions returns matching executions with their variables.
func (m *Store) SnapshotExecutions(_ context.Context, f execution.Filter) ([]execution.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]execution.Snapshot, 0, len(m.executions))
	for _, e := range m.executions {
		if !f.Matches(e) {
			continue
		}
		cp := *e
		out = append(out, execution.Snapshot{
			Execution: &cp,
			Local:     variable.Clone(m.variables[e.ID.String()]),
			Instance:  variable.Clone(m.variables[e.InstanceScope().String()]),
		})
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Task Store
// ──────────────────────────────────────────────────

// CreateTask persists a new task.
func (m *Store) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, exists := m.tasks[key]; exists {
		return bpmcore.ErrTaskAlreadyExists
	}
	cp := *t
	m.tasks[key] = &cp
	return nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, bpmcore.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// AssignTask sets assignee and state if the stored state is expected.
func (m *Store) AssignTask(_ context.Context, taskID id.TaskID, expected task.State, assignee string, next task.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return bpmcore.ErrTaskNotFound
	}
	if t.State != expected {
		return bpmcore.ErrConcurrentUpdate
	}
	t.Assignee = assignee
	t.State = next
	t.UpdatedAt = m.now()
	return nil
}

// CompleteTask applies a completion atomically. Every precondition is
// checked before the first write.
func (m *Store) CompleteTask(_ context.Context, c *task.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[c.TaskID.String()]
	if !ok {
		return bpmcore.ErrTaskNotFound
	}
	if t.State != c.ExpectedState {
		return bpmcore.ErrConcurrentUpdate
	}
	for _, j := range c.Jobs {
		if _, exists := m.jobs[j.ID.String()]; exists {
			return fmt.Errorf("%w: %s", bpmcore.ErrJobAlreadyExists, j.ID)
		}
	}

	m.setVariablesLocked(c.ExecutionID, c.Variables)
	for _, j := range c.Jobs {
		cp := *j
		m.jobs[j.ID.String()] = &cp
	}
	at := c.CompletedAt
	t.State = task.StateCompleted
	t.CompletedAt = &at
	t.UpdatedAt = at
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in pending state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return bpmcore.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, bpmcore.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// FindAcquirableJobs returns up to limit acquirable jobs, oldest due first.
func (m *Store) FindAcquirableJobs(_ context.Context, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Acquirable(now) {
			candidates = append(candidates, j)
		}
	}
	sortJobs(candidates)

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return copyJobs(candidates), nil
}

// LockJob swaps the lock of a pending job if it still equals expected.
func (m *Store) LockJob(_ context.Context, jobID id.JobID, expected, next job.Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return bpmcore.ErrJobNotFound
	}
	if j.State != job.StatePending || !j.Lock().Equal(expected) {
		return bpmcore.ErrLockConflict
	}
	j.SetLock(next)
	j.UpdatedAt = m.now()
	return nil
}

// ExtendJobLock moves the lock expiry of a job owned by owner.
func (m *Store) ExtendJobLock(_ context.Context, jobID id.JobID, owner id.NodeID, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.ownedLocked(jobID, owner)
	if err != nil {
		return err
	}
	j.SetLock(job.Lock{Owner: owner, ExpiresAt: until})
	j.UpdatedAt = m.now()
	return nil
}

// UnlockJob clears the lock of a job owned by owner.
func (m *Store) UnlockJob(_ context.Context, jobID id.JobID, owner id.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.ownedLocked(jobID, owner)
	if err != nil {
		return err
	}
	j.SetLock(job.Lock{})
	j.UpdatedAt = m.now()
	return nil
}

// DeleteJob removes a job owned by owner.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID, owner id.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.ownedLocked(jobID, owner); err != nil {
		return err
	}
	delete(m.jobs, jobID.String())
	return nil
}

// FailJob records a failed attempt of a job owned by owner.
func (m *Store) FailJob(_ context.Context, jobID id.JobID, owner id.NodeID, f job.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.ownedLocked(jobID, owner)
	if err != nil {
		return err
	}
	f.Apply(j)
	return nil
}

// CancelJob removes a job that is not locked at now.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return bpmcore.ErrJobNotFound
	}
	if j.State == job.StatePending && !j.Lock().Expired(now) {
		return fmt.Errorf("%w: job %s is locked by %s", bpmcore.ErrLockConflict, jobID, j.LockOwner)
	}
	delete(m.jobs, jobID.String())
	return nil
}

// SetJobRetries re-arms a job with the given retries.
func (m *Store) SetJobRetries(_ context.Context, jobID id.JobID, expectedState job.State, expected job.Lock, retries int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return bpmcore.ErrJobNotFound
	}
	if j.State != expectedState || !j.Lock().Equal(expected) {
		return fmt.Errorf("%w: job %s changed since it was read", bpmcore.ErrLockConflict, jobID)
	}
	j.Retries = retries
	j.State = job.StatePending
	j.FailedAt = nil
	j.SetLock(job.Lock{})
	j.UpdatedAt = m.now()
	return nil
}

// ListJobs returns jobs matching opts ordered by due time, then ID.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.filterJobs(opts.State, opts.ExecutionID)
	sortJobs(matched)

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*job.Job{}, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return copyJobs(matched), nil
}

// CountJobs returns the number of jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.filterJobs(opts.State, opts.ExecutionID))), nil
}

// ownedLocked returns the job if owner holds an unexpired lock on it.
// Callers must hold m.mu.
func (m *Store) ownedLocked(jobID id.JobID, owner id.NodeID) (*job.Job, error) {
	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, bpmcore.ErrJobNotFound
	}
	if j.State != job.StatePending || !j.LockedBy(owner, m.now()) {
		return nil, fmt.Errorf("%w: job %s is not locked by %s", bpmcore.ErrLockConflict, jobID, owner)
	}
	return j, nil
}

func (m *Store) filterJobs(state job.State, execID id.ExecutionID) []*job.Job {
	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if state != "" && j.State != state {
			continue
		}
		if !execID.IsNil() && j.ExecutionID.String() != execID.String() {
			continue
		}
		out = append(out, j)
	}
	return out
}

func sortJobs(jobs []*job.Job) {
	sort.Slice(jobs, func(a, b int) bool {
		if !jobs[a].DueAt.Equal(jobs[b].DueAt) {
			return jobs[a].DueAt.Before(jobs[b].DueAt)
		}
		return jobs[a].ID.Compare(jobs[b].ID) < 0
	})
}

func copyJobs(jobs []*job.Job) []*job.Job {
	out := make([]*job.Job, len(jobs))
	for i, j := range jobs {
		cp := *j
		out[i] = &cp
	}
	return out
}
