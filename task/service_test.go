package task_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/store/memory"
	"github.com/xraph/bpmcore/task"
	"github.com/xraph/bpmcore/variable"
)

type recordingEmitter struct {
	mu        sync.Mutex
	claimed   []string
	completed []int
}

func (r *recordingEmitter) EmitTaskClaimed(_ context.Context, t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed = append(r.claimed, t.Assignee)
}

func (r *recordingEmitter) EmitTaskCompleted(_ context.Context, _ *task.Task, jobs []*job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, len(jobs))
}

type fixture struct {
	store *memory.Store
	exec  *execution.Execution
	em    *recordingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	e := execution.NewInstance("review:1", "review", "R-7")
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	return &fixture{store: s, exec: e, em: &recordingEmitter{}}
}

func (f *fixture) service(opts ...task.ServiceOption) *task.Service {
	opts = append([]task.ServiceOption{task.WithEmitter(f.em)}, opts...)
	return task.NewService(f.store, opts...)
}

func TestService_ClaimUnclaimReclaim(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	tk, err := svc.Create(ctx, f.exec.ID, "approve")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	steps := []struct {
		name         string
		fn           func() error
		wantAssignee string
		wantState    task.State
	}{
		{"claim by alice", func() error { return svc.Claim(ctx, tk.ID, "alice") }, "alice", task.StateClaimed},
		{"unclaim", func() error { return svc.Unclaim(ctx, tk.ID) }, "", task.StateCreated},
		{"claim by bob", func() error { return svc.Claim(ctx, tk.ID, "bob") }, "bob", task.StateClaimed},
		{"reassign to carol", func() error { return svc.Claim(ctx, tk.ID, "carol") }, "carol", task.StateClaimed},
		{"claim with empty assignee", func() error { return svc.Claim(ctx, tk.ID, "") }, "", task.StateCreated},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		got, err := svc.Get(ctx, tk.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Assignee != step.wantAssignee || got.State != step.wantState {
			t.Fatalf("after %s: assignee=%q state=%s, want %q %s",
				step.name, got.Assignee, got.State, step.wantAssignee, step.wantState)
		}
	}

	if len(f.em.claimed) != len(steps) {
		t.Errorf("claimed events = %d, want %d", len(f.em.claimed), len(steps))
	}
}

func TestService_CompleteWritesVariablesAndJobs(t *testing.T) {
	f := newFixture(t)
	var seen map[string]variable.Value
	svc := f.service(task.WithContinuation(func(_ context.Context, tk *task.Task, vars map[string]variable.Value) ([]*job.Job, error) {
		seen = vars
		return []*job.Job{
			job.New("continue", nil, job.Options{ExecutionID: tk.ExecutionID}, 3),
		}, nil
	}))
	ctx := context.Background()

	tk, err := svc.Create(ctx, f.exec.ID, "approve")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Claim(ctx, tk.ID, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	vars, err := variable.OfMap(map[string]any{"a": "v", "b": 42, "c": true})
	if err != nil {
		t.Fatalf("OfMap: %v", err)
	}
	if err := svc.Complete(ctx, tk.ID, vars); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := svc.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != task.StateCompleted || got.CompletedAt == nil {
		t.Fatalf("task = %+v, want completed with timestamp", got)
	}

	stored, err := f.store.GetVariables(ctx, f.exec.ID)
	if err != nil {
		t.Fatalf("GetVariables: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored variables = %d, want 3", len(stored))
	}
	for name, want := range vars {
		if !variable.Equal(stored[name], want) {
			t.Errorf("variable %s = %v, want %v", name, stored[name], want)
		}
	}
	if len(seen) != 3 {
		t.Errorf("continuation saw %d variables, want 3", len(seen))
	}

	n, err := f.store.CountJobs(ctx, job.CountOpts{ExecutionID: f.exec.ID})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("jobs = %d, want 1", n)
	}
	if len(f.em.completed) != 1 || f.em.completed[0] != 1 {
		t.Errorf("completed events = %v, want [1]", f.em.completed)
	}
}

func TestService_ContinuationFaultLeavesTaskUnchanged(t *testing.T) {
	f := newFixture(t)
	svc := f.service(task.WithContinuation(func(context.Context, *task.Task, map[string]variable.Value) ([]*job.Job, error) {
		return nil, errors.New("no outgoing transition")
	}))
	ctx := context.Background()

	tk, err := svc.Create(ctx, f.exec.ID, "approve")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Claim(ctx, tk.ID, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	vars, _ := variable.OfMap(map[string]any{"a": "v"})
	err = svc.Complete(ctx, tk.ID, vars)
	if !errors.Is(err, bpmcore.ErrEngineFault) {
		t.Fatalf("Complete err = %v, want ErrEngineFault", err)
	}

	got, err := svc.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != task.StateClaimed || got.Assignee != "alice" {
		t.Errorf("task = %s/%q, want claimed by alice", got.State, got.Assignee)
	}
	stored, _ := f.store.GetVariables(ctx, f.exec.ID)
	if len(stored) != 0 {
		t.Errorf("variables written despite fault: %v", stored)
	}
	if len(f.em.completed) != 0 {
		t.Error("completion emitted despite fault")
	}
}

func TestService_IllegalStates(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	tk, err := svc.Create(ctx, f.exec.ID, "approve")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Complete(ctx, tk.ID, nil); err != nil {
		t.Fatalf("Complete unclaimed task: %v", err)
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"claim completed", func() error { return svc.Claim(ctx, tk.ID, "alice") }},
		{"unclaim completed", func() error { return svc.Unclaim(ctx, tk.ID) }},
		{"complete twice", func() error { return svc.Complete(ctx, tk.ID, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, bpmcore.ErrIllegalState) {
				t.Fatalf("err = %v, want ErrIllegalState", err)
			}
		})
	}
}

func TestService_Validation(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	if _, err := svc.Create(ctx, id.Nil, "approve"); !errors.Is(err, bpmcore.ErrValidation) {
		t.Errorf("Create without execution err = %v, want ErrValidation", err)
	}
	if err := svc.Claim(ctx, id.NewTaskID(), "alice"); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("Claim unknown task err = %v, want ErrNotFound", err)
	}
	if err := svc.Complete(ctx, id.NewTaskID(), nil); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("Complete unknown task err = %v, want ErrNotFound", err)
	}
}
