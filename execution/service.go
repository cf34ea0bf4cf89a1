package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
)

// maxTransitionAttempts bounds how often a transition re-reads the
// execution after losing a race.
const maxTransitionAttempts = 5

// Emitter receives execution lifecycle notifications. The ext registry
// implements it.
type Emitter interface {
	EmitExecutionTransitioned(ctx context.Context, e *Execution, from State)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEmitter sets the receiver of transition notifications.
func WithEmitter(em Emitter) ServiceOption {
	return func(s *Service) { s.emitter = em }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// Service applies case execution transitions.
type Service struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
}

// NewService creates an execution service over store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns an execution by ID.
func (s *Service) Get(ctx context.Context, execID id.ExecutionID) (*Execution, error) {
	e, err := s.store.GetExecution(ctx, execID)
	if err != nil {
		return nil, bpmcore.Fault("get execution", err)
	}
	return e, nil
}

// Enable moves a disabled execution back to enabled. It is the same as
// Reenable and exists for symmetry with Disable.
func (s *Service) Enable(ctx context.Context, execID id.ExecutionID) error {
	return s.Transition(ctx, execID, StateEnabled)
}

// Disable switches an enabled execution off.
func (s *Service) Disable(ctx context.Context, execID id.ExecutionID) error {
	return s.Transition(ctx, execID, StateDisabled)
}

// Reenable moves a disabled execution back to enabled.
func (s *Service) Reenable(ctx context.Context, execID id.ExecutionID) error {
	return s.Transition(ctx, execID, StateEnabled)
}

// ManualStart activates an enabled execution.
func (s *Service) ManualStart(ctx context.Context, execID id.ExecutionID) error {
	return s.Transition(ctx, execID, StateActive)
}

// Transition moves an execution to state `to`. It fails with
// ErrIllegalState when the current state does not allow it.
func (s *Service) Transition(ctx context.Context, execID id.ExecutionID, to State) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown execution state %q", bpmcore.ErrValidation, to)
	}

	for range maxTransitionAttempts {
		e, err := s.store.GetExecution(ctx, execID)
		if err != nil {
			return bpmcore.Fault("get execution", err)
		}
		from := e.State
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: execution %s cannot move from %s to %s",
				bpmcore.ErrIllegalState, execID, from, to)
		}

		err = s.store.TransitionExecution(ctx, execID, from, to)
		if errors.Is(err, bpmcore.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			return bpmcore.Fault("transition execution", err)
		}

		e.State = to
		s.logger.Debug("execution transitioned",
			slog.String("execution_id", execID.String()),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		if s.emitter != nil {
			s.emitter.EmitExecutionTransitioned(ctx, e, from)
		}
		return nil
	}
	return fmt.Errorf("%w: execution %s changed concurrently", bpmcore.ErrIllegalState, execID)
}
