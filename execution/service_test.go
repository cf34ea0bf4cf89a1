package execution_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/store/memory"
)

type transition struct {
	from, to execution.State
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []transition
}

func (r *recordingEmitter) EmitExecutionTransitioned(_ context.Context, e *execution.Execution, from execution.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, transition{from: from, to: e.State})
}

func setup(t *testing.T) (*execution.Service, *memory.Store, *recordingEmitter, *execution.Execution) {
	t.Helper()
	s := memory.New()
	em := &recordingEmitter{}
	e := execution.NewInstance("loan:1", "loan", "L-100")
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	return execution.NewService(s, execution.WithEmitter(em)), s, em, e
}

func TestService_Lifecycle(t *testing.T) {
	svc, _, em, e := setup(t)
	ctx := context.Background()

	steps := []struct {
		name string
		fn   func(context.Context, id.ExecutionID) error
		want execution.State
	}{
		{"disable", svc.Disable, execution.StateDisabled},
		{"reenable", svc.Reenable, execution.StateEnabled},
		{"manual start", svc.ManualStart, execution.StateActive},
	}
	for _, step := range steps {
		if err := step.fn(ctx, e.ID); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		got, err := svc.Get(ctx, e.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != step.want {
			t.Fatalf("after %s state = %s, want %s", step.name, got.State, step.want)
		}
	}

	if len(em.events) != 3 {
		t.Fatalf("events = %d, want 3", len(em.events))
	}
	if em.events[0] != (transition{execution.StateEnabled, execution.StateDisabled}) {
		t.Errorf("first event = %+v", em.events[0])
	}
}

func TestService_IllegalTransitions(t *testing.T) {
	svc, _, em, e := setup(t)
	ctx := context.Background()

	if err := svc.ManualStart(ctx, e.ID); err != nil {
		t.Fatalf("ManualStart: %v", err)
	}

	tests := []struct {
		name string
		fn   func(context.Context, id.ExecutionID) error
	}{
		{"disable active", svc.Disable},
		{"reenable active", svc.Reenable},
		{"start active", svc.ManualStart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn(ctx, e.ID)
			if !errors.Is(err, bpmcore.ErrIllegalState) {
				t.Fatalf("err = %v, want ErrIllegalState", err)
			}
			if k := bpmcore.Kind(err); k != "IllegalStateError" {
				t.Errorf("Kind = %q, want IllegalStateError", k)
			}
		})
	}

	if len(em.events) != 1 {
		t.Errorf("events = %d, want only the manual start", len(em.events))
	}
}

func TestService_UnknownExecution(t *testing.T) {
	svc, _, _, _ := setup(t)

	err := svc.ManualStart(context.Background(), id.NewExecutionID())
	if !errors.Is(err, bpmcore.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestService_InvalidTarget(t *testing.T) {
	svc, _, _, e := setup(t)

	err := svc.Transition(context.Background(), e.ID, execution.State("terminated"))
	if !errors.Is(err, bpmcore.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

// racyStore reports a concurrent update on the first transition attempt.
type racyStore struct {
	*memory.Store
	raced bool
}

func (r *racyStore) TransitionExecution(ctx context.Context, execID id.ExecutionID, from, to execution.State) error {
	if !r.raced {
		r.raced = true
		return bpmcore.ErrConcurrentUpdate
	}
	return r.Store.TransitionExecution(ctx, execID, from, to)
}

func TestService_RetriesConcurrentUpdate(t *testing.T) {
	s := memory.New()
	e := execution.NewInstance("loan:1", "loan", "")
	ctx := context.Background()
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	svc := execution.NewService(&racyStore{Store: s})

	if err := svc.Disable(ctx, e.ID); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.State != execution.StateDisabled {
		t.Errorf("state = %s, want disabled", got.State)
	}
}
