package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/variable"
)

// maxAttempts bounds how often an operation re-reads a task after losing
// an optimistic state check to a concurrent writer.
const maxAttempts = 5

// Continuation computes the jobs that continue the process or case after
// t completes with vars. An error aborts the completion.
type Continuation func(ctx context.Context, t *Task, vars map[string]variable.Value) ([]*job.Job, error)

// Emitter receives task lifecycle notifications. The ext registry
// implements it.
type Emitter interface {
	EmitTaskClaimed(ctx context.Context, t *Task)
	EmitTaskCompleted(ctx context.Context, t *Task, jobs []*job.Job)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithContinuation sets the function that produces completion jobs.
func WithContinuation(c Continuation) ServiceOption {
	return func(s *Service) { s.continuation = c }
}

// WithEmitter sets the receiver of lifecycle notifications.
func WithEmitter(em Emitter) ServiceOption {
	return func(s *Service) { s.emitter = em }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// Service implements the task state machine on top of a Store.
type Service struct {
	store        Store
	continuation Continuation
	emitter      Emitter
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates a task service over store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new unassigned task bound to execID.
func (s *Service) Create(ctx context.Context, execID id.ExecutionID, name string) (*Task, error) {
	if execID.IsNil() {
		return nil, fmt.Errorf("%w: task must be bound to an execution", bpmcore.ErrValidation)
	}
	t := &Task{
		Entity:      bpmcore.NewEntity(),
		ID:          id.NewTaskID(),
		ExecutionID: execID,
		Name:        name,
		State:       StateCreated,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, bpmcore.Fault("create task", err)
	}
	return t, nil
}

// Get returns a task by ID.
func (s *Service) Get(ctx context.Context, taskID id.TaskID) (*Task, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, bpmcore.Fault("get task", err)
	}
	return t, nil
}

// Claim assigns a task to assignee. An empty assignee unclaims the task.
// Claiming a task claimed by someone else reassigns it.
func (s *Service) Claim(ctx context.Context, taskID id.TaskID, assignee string) error {
	if assignee == "" {
		return s.Unclaim(ctx, taskID)
	}
	return s.assign(ctx, taskID, assignee, StateClaimed)
}

// Unclaim removes the assignee and returns the task to created.
func (s *Service) Unclaim(ctx context.Context, taskID id.TaskID) error {
	return s.assign(ctx, taskID, "", StateCreated)
}

func (s *Service) assign(ctx context.Context, taskID id.TaskID, assignee string, next State) error {
	for range maxAttempts {
		t, err := s.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if t.State == StateCompleted {
			return fmt.Errorf("%w: task %s is already completed", bpmcore.ErrIllegalState, taskID)
		}

		err = s.store.AssignTask(ctx, taskID, t.State, assignee, next)
		if errors.Is(err, bpmcore.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return bpmcore.Fault("assign task", err)
		}

		t.Assignee = assignee
		t.State = next
		s.logger.Debug("task assigned",
			slog.String("task_id", taskID.String()),
			slog.String("assignee", assignee),
			slog.String("state", string(next)),
		)
		if s.emitter != nil {
			s.emitter.EmitTaskClaimed(ctx, t)
		}
		return nil
	}
	return s.contended(taskID)
}

// Complete finishes a task in state created or claimed. vars are written
// to the task's execution as local variables together with the state
// change and the continuation jobs, or not at all.
func (s *Service) Complete(ctx context.Context, taskID id.TaskID, vars map[string]variable.Value) error {
	for range maxAttempts {
		t, err := s.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if t.State != StateCreated && t.State != StateClaimed {
			return fmt.Errorf("%w: task %s cannot be completed from %s", bpmcore.ErrIllegalState, taskID, t.State)
		}

		var jobs []*job.Job
		if s.continuation != nil {
			jobs, err = s.continuation(ctx, t, variable.Clone(vars))
			if err != nil {
				return bpmcore.Fault("task continuation", err)
			}
		}

		now := s.now()
		err = s.store.CompleteTask(ctx, &Completion{
			TaskID:        taskID,
			ExpectedState: t.State,
			ExecutionID:   t.ExecutionID,
			Variables:     variable.Clone(vars),
			Jobs:          jobs,
			CompletedAt:   now,
		})
		if errors.Is(err, bpmcore.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return bpmcore.Fault("complete task", err)
		}

		t.State = StateCompleted
		t.CompletedAt = &now
		s.logger.Debug("task completed",
			slog.String("task_id", taskID.String()),
			slog.String("execution_id", t.ExecutionID.String()),
			slog.Int("jobs", len(jobs)),
		)
		if s.emitter != nil {
			s.emitter.EmitTaskCompleted(ctx, t, jobs)
		}
		return nil
	}
	return s.contended(taskID)
}

func (s *Service) contended(taskID id.TaskID) error {
	return fmt.Errorf("%w: task %s: %w", bpmcore.ErrEngineFault, taskID, bpmcore.ErrConcurrentUpdate)
}
