// Package storetest is the behavioral suite shared by every store backend.
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/store"
	"github.com/xraph/bpmcore/task"
	"github.com/xraph/bpmcore/variable"
)

// Factory returns a migrated, empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Variables", testVariables},
		{"ExecutionCRUD", testExecutionCRUD},
		{"ExecutionTransition", testExecutionTransition},
		{"Snapshot", testSnapshot},
		{"TaskAssign", testTaskAssign},
		{"TaskComplete", testTaskComplete},
		{"TaskCompleteAtomic", testTaskCompleteAtomic},
		{"JobEnqueueGet", testJobEnqueueGet},
		{"FindAcquirable", testFindAcquirable},
		{"LockJobCAS", testLockJobCAS},
		{"LockJobConcurrent", testLockJobConcurrent},
		{"FindAndLockConcurrent", testFindAndLockConcurrent},
		{"OwnerChecks", testOwnerChecks},
		{"FailJob", testFailJob},
		{"CancelJob", testCancelJob},
		{"SetJobRetries", testSetJobRetries},
		{"ListCountJobs", testListCountJobs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			tt.fn(t, s)
		})
	}
}

// now returns the current time at millisecond precision, which every
// backend stores without loss.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newJob(dueAt time.Time) *job.Job {
	j := job.New("continue", []byte(`{"step":1}`), job.Options{DueAt: dueAt, Retries: 2}, 3)
	j.CreatedAt = j.CreatedAt.Truncate(time.Millisecond)
	j.UpdatedAt = j.CreatedAt
	return j
}

func mustEnqueue(t *testing.T, s store.Store, j *job.Job) {
	t.Helper()
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func mustLock(t *testing.T, s store.Store, j *job.Job, owner id.NodeID, until time.Time) job.Lock {
	t.Helper()
	next := job.Lock{Owner: owner, ExpiresAt: until}
	if err := s.LockJob(context.Background(), j.ID, job.Lock{}, next); err != nil {
		t.Fatalf("LockJob: %v", err)
	}
	return next
}

func mustGetJob(t *testing.T, s store.Store, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j
}

func newInstance(t *testing.T, s store.Store, key string) *execution.Execution {
	t.Helper()
	e := execution.NewInstance(key+":1", key, "bk-"+key)
	e.CreatedAt = e.CreatedAt.Truncate(time.Millisecond)
	e.UpdatedAt = e.CreatedAt
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	return e
}

func newTask(t *testing.T, s store.Store, execID id.ExecutionID) *task.Task {
	t.Helper()
	tk := &task.Task{
		Entity:      bpmcore.NewEntity(),
		ID:          id.NewTaskID(),
		ExecutionID: execID,
		Name:        "review",
		State:       task.StateCreated,
	}
	if err := s.CreateTask(context.Background(), tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return tk
}

func testVariables(t *testing.T, s store.Store) {
	ctx := context.Background()
	scope := id.NewExecutionID()

	got, err := s.GetVariables(ctx, scope)
	if err != nil {
		t.Fatalf("GetVariables: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty scope has %d variables", len(got))
	}

	when := now()
	if err := s.SetVariables(ctx, scope, map[string]variable.Value{
		"a": variable.String("v"),
		"b": variable.Number(42),
		"d": variable.Date(when),
	}); err != nil {
		t.Fatalf("SetVariables: %v", err)
	}
	if err := s.SetVariables(ctx, scope, map[string]variable.Value{
		"a": variable.String("w"),
		"c": variable.Boolean(true),
	}); err != nil {
		t.Fatalf("SetVariables: %v", err)
	}

	got, err = s.GetVariables(ctx, scope)
	if err != nil {
		t.Fatalf("GetVariables: %v", err)
	}
	want := map[string]variable.Value{
		"a": variable.String("w"),
		"b": variable.Number(42),
		"c": variable.Boolean(true),
		"d": variable.Date(when),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d variables, want %d", len(got), len(want))
	}
	for name, v := range want {
		if !variable.Equal(got[name], v) {
			t.Errorf("%s = %v, want %v", name, got[name], v)
		}
	}
}

func testExecutionCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newInstance(t, s, "order")

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.DefinitionKey != "order" || got.State != execution.StateEnabled || !got.IsInstance() {
		t.Errorf("GetExecution = %+v", got)
	}

	if err := s.CreateExecution(ctx, e); !errors.Is(err, bpmcore.ErrExecutionAlreadyExists) {
		t.Errorf("duplicate CreateExecution err = %v, want ErrExecutionAlreadyExists", err)
	}
	if _, err := s.GetExecution(ctx, id.NewExecutionID()); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("GetExecution(unknown) err = %v, want ErrNotFound", err)
	}
}

func testExecutionTransition(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newInstance(t, s, "order")

	if err := s.TransitionExecution(ctx, e.ID, execution.StateEnabled, execution.StateActive); err != nil {
		t.Fatalf("TransitionExecution: %v", err)
	}
	err := s.TransitionExecution(ctx, e.ID, execution.StateEnabled, execution.StateDisabled)
	if !errors.Is(err, bpmcore.ErrConcurrentUpdate) {
		t.Fatalf("stale TransitionExecution err = %v, want ErrConcurrentUpdate", err)
	}
	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.State != execution.StateActive {
		t.Errorf("State = %q, want active", got.State)
	}
	if err := s.TransitionExecution(ctx, id.NewExecutionID(), execution.StateEnabled, execution.StateActive); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("unknown TransitionExecution err = %v, want ErrNotFound", err)
	}
}

func testSnapshot(t *testing.T, s store.Store) {
	ctx := context.Background()
	root := newInstance(t, s, "case")
	child := execution.NewChild(root, "task1")
	if err := s.CreateExecution(ctx, child); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	other := newInstance(t, s, "other")

	if err := s.SetVariables(ctx, root.ID, map[string]variable.Value{"amount": variable.Number(10)}); err != nil {
		t.Fatalf("SetVariables: %v", err)
	}
	if err := s.SetVariables(ctx, child.ID, map[string]variable.Value{"done": variable.Boolean(false)}); err != nil {
		t.Fatalf("SetVariables: %v", err)
	}

	snaps, err := s.SnapshotExecutions(ctx, execution.Filter{DefinitionKey: "case"})
	if err != nil {
		t.Fatalf("SnapshotExecutions: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	for _, snap := range snaps {
		if snap.Execution.ID.String() == other.ID.String() {
			t.Fatal("filter did not exclude other definition")
		}
		if !variable.Equal(snap.Instance["amount"], variable.Number(10)) {
			t.Errorf("%s instance amount = %v, want 10", snap.Execution.ID, snap.Instance["amount"])
		}
		if snap.Execution.ID.String() == child.ID.String() {
			if !variable.Equal(snap.Local["done"], variable.Boolean(false)) {
				t.Errorf("child local done = %v, want false", snap.Local["done"])
			}
			if snap.Execution.ParentID.String() != root.ID.String() {
				t.Errorf("child parent = %s, want %s", snap.Execution.ParentID, root.ID)
			}
		}
	}

	all, err := s.SnapshotExecutions(ctx, execution.Filter{})
	if err != nil {
		t.Fatalf("SnapshotExecutions: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("unfiltered snapshot has %d executions, want 3", len(all))
	}
}

func testTaskAssign(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newInstance(t, s, "case")
	tk := newTask(t, s, e.ID)

	if err := s.AssignTask(ctx, tk.ID, task.StateCreated, "aUser", task.StateClaimed); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	err := s.AssignTask(ctx, tk.ID, task.StateCreated, "other", task.StateClaimed)
	if !errors.Is(err, bpmcore.ErrConcurrentUpdate) {
		t.Fatalf("stale AssignTask err = %v, want ErrConcurrentUpdate", err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Assignee != "aUser" || got.State != task.StateClaimed {
		t.Errorf("task = %q/%q, want aUser/claimed", got.Assignee, got.State)
	}

	if err := s.AssignTask(ctx, tk.ID, task.StateClaimed, "", task.StateCreated); err != nil {
		t.Fatalf("AssignTask(unclaim): %v", err)
	}
	got, err = s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Assignee != "" || got.State != task.StateCreated {
		t.Errorf("task = %q/%q, want unassigned/created", got.Assignee, got.State)
	}

	if _, err := s.GetTask(ctx, id.NewTaskID()); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("GetTask(unknown) err = %v, want ErrNotFound", err)
	}
	if err := s.AssignTask(ctx, id.NewTaskID(), task.StateCreated, "x", task.StateClaimed); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("AssignTask(unknown) err = %v, want ErrNotFound", err)
	}
}

func testTaskComplete(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newInstance(t, s, "case")
	tk := newTask(t, s, e.ID)
	j := newJob(now())

	err := s.CompleteTask(ctx, &task.Completion{
		TaskID:        tk.ID,
		ExpectedState: task.StateCreated,
		ExecutionID:   e.ID,
		Variables: map[string]variable.Value{
			"a": variable.String("v"),
			"b": variable.Number(42),
			"c": variable.Boolean(true),
		},
		Jobs:        []*job.Job{j},
		CompletedAt: now(),
	})
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.State != task.StateCompleted || got.CompletedAt == nil {
		t.Errorf("task state = %q, completed_at = %v", got.State, got.CompletedAt)
	}

	vars, err := s.GetVariables(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetVariables: %v", err)
	}
	if len(vars) != 3 {
		t.Errorf("execution has %d local variables, want 3", len(vars))
	}
	if _, err := s.GetJob(ctx, j.ID); err != nil {
		t.Errorf("completion job not enqueued: %v", err)
	}

	err = s.CompleteTask(ctx, &task.Completion{
		TaskID:        tk.ID,
		ExpectedState: task.StateCreated,
		ExecutionID:   e.ID,
		CompletedAt:   now(),
	})
	if !errors.Is(err, bpmcore.ErrConcurrentUpdate) {
		t.Errorf("second CompleteTask err = %v, want ErrConcurrentUpdate", err)
	}
}

func testTaskCompleteAtomic(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newInstance(t, s, "case")
	tk := newTask(t, s, e.ID)

	existing := newJob(now())
	mustEnqueue(t, s, existing)

	err := s.CompleteTask(ctx, &task.Completion{
		TaskID:        tk.ID,
		ExpectedState: task.StateCreated,
		ExecutionID:   e.ID,
		Variables:     map[string]variable.Value{"a": variable.String("v")},
		Jobs:          []*job.Job{newJob(now()), existing},
		CompletedAt:   now(),
	})
	if err == nil {
		t.Fatal("CompleteTask with a duplicate job should fail")
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.State != task.StateCreated {
		t.Errorf("task state = %q, want created", got.State)
	}
	vars, err := s.GetVariables(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetVariables: %v", err)
	}
	if len(vars) != 0 {
		t.Errorf("failed completion applied %d variables", len(vars))
	}
	n, err := s.CountJobs(ctx, job.CountOpts{})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("CountJobs = %d, want 1", n)
	}
}

func testJobEnqueueGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob(now())
	j.ExecutionID = id.NewExecutionID()
	j.InstanceID = j.ExecutionID
	j.Timeout = 5 * time.Second
	mustEnqueue(t, s, j)

	got := mustGetJob(t, s, j.ID)
	if got.Name != j.Name || string(got.Payload) != string(j.Payload) {
		t.Errorf("GetJob = %+v", got)
	}
	if got.State != job.StatePending || got.Retries != 2 {
		t.Errorf("state/retries = %q/%d, want pending/2", got.State, got.Retries)
	}
	if got.ExecutionID.String() != j.ExecutionID.String() || got.InstanceID.String() != j.InstanceID.String() {
		t.Errorf("execution = %s/%s", got.ExecutionID, got.InstanceID)
	}
	if got.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", got.Timeout)
	}
	if !got.DueAt.Equal(j.DueAt) {
		t.Errorf("DueAt = %v, want %v", got.DueAt, j.DueAt)
	}
	if !got.Lock().IsZero() {
		t.Errorf("new job is locked: %+v", got.Lock())
	}

	if err := s.EnqueueJob(ctx, j); !errors.Is(err, bpmcore.ErrJobAlreadyExists) {
		t.Errorf("duplicate EnqueueJob err = %v, want ErrJobAlreadyExists", err)
	}
	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("GetJob(unknown) err = %v, want ErrNotFound", err)
	}
}

func testFindAcquirable(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()

	older := newJob(base.Add(-2 * time.Minute))
	newer := newJob(base.Add(-time.Minute))
	future := newJob(base.Add(time.Hour))
	locked := newJob(base.Add(-3 * time.Minute))
	expired := newJob(base.Add(-4 * time.Minute))
	for _, j := range []*job.Job{newer, older, future, locked, expired} {
		mustEnqueue(t, s, j)
	}
	mustLock(t, s, locked, id.NewNodeID(), base.Add(time.Hour))
	mustLock(t, s, expired, id.NewNodeID(), base.Add(-time.Second))

	got, err := s.FindAcquirableJobs(ctx, base, 10)
	if err != nil {
		t.Fatalf("FindAcquirableJobs: %v", err)
	}
	want := []id.JobID{expired.ID, older.ID, newer.ID}
	if len(got) != len(want) {
		t.Fatalf("got %d jobs, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].ID.String() != w.String() {
			t.Errorf("jobs[%d] = %s, want %s", i, got[i].ID, w)
		}
	}

	limited, err := s.FindAcquirableJobs(ctx, base, 1)
	if err != nil {
		t.Fatalf("FindAcquirableJobs: %v", err)
	}
	if len(limited) != 1 || limited[0].ID.String() != expired.ID.String() {
		t.Errorf("limit 1 returned %d jobs", len(limited))
	}
}

func testLockJobCAS(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()
	j := newJob(base)
	mustEnqueue(t, s, j)

	a, b := id.NewNodeID(), id.NewNodeID()
	lockA := mustLock(t, s, j, a, base.Add(time.Minute))

	err := s.LockJob(ctx, j.ID, job.Lock{}, job.Lock{Owner: b, ExpiresAt: base.Add(time.Minute)})
	if !errors.Is(err, bpmcore.ErrLockConflict) {
		t.Fatalf("second LockJob err = %v, want ErrLockConflict", err)
	}

	got := mustGetJob(t, s, j.ID)
	if got.LockOwner.String() != a.String() {
		t.Errorf("owner = %s, want %s", got.LockOwner, a)
	}

	// Re-lock against the observed lock succeeds.
	if err := s.LockJob(ctx, j.ID, got.Lock(), job.Lock{Owner: b, ExpiresAt: base.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("LockJob against observed lock: %v", err)
	}
	if err := s.LockJob(ctx, j.ID, lockA, job.Lock{Owner: a, ExpiresAt: base.Add(time.Hour)}); !errors.Is(err, bpmcore.ErrLockConflict) {
		t.Errorf("LockJob against stale lock err = %v, want ErrLockConflict", err)
	}
	if err := s.LockJob(ctx, id.NewJobID(), job.Lock{}, lockA); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("LockJob(unknown) err = %v, want ErrNotFound", err)
	}
}

func testLockJobConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob(now())
	mustEnqueue(t, s, j)

	const contenders = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		faults []error
	)
	until := now().Add(time.Minute)
	for range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.LockJob(ctx, j.ID, job.Lock{}, job.Lock{Owner: id.NewNodeID(), ExpiresAt: until})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case !errors.Is(err, bpmcore.ErrLockConflict):
				faults = append(faults, err)
			}
		}()
	}
	wg.Wait()

	if len(faults) > 0 {
		t.Fatalf("unexpected errors: %v", faults)
	}
	if wins != 1 {
		t.Fatalf("%d contenders locked the job, want exactly 1", wins)
	}
}

// testFindAndLockConcurrent runs several acquirers that read the same
// candidates and race to lock them. Every job ends up with exactly one
// owner.
func testFindAndLockConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()

	const jobs, acquirers = 6, 4
	for range jobs {
		mustEnqueue(t, s, newJob(base))
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		owners = make(map[string]int)
		faults []error
	)
	until := base.Add(time.Minute)
	for range acquirers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			node := id.NewNodeID()
			candidates, err := s.FindAcquirableJobs(ctx, base, 0)
			if err != nil {
				mu.Lock()
				faults = append(faults, err)
				mu.Unlock()
				return
			}
			for _, c := range candidates {
				err := s.LockJob(ctx, c.ID, c.Lock(), job.Lock{Owner: node, ExpiresAt: until})
				mu.Lock()
				switch {
				case err == nil:
					owners[c.ID.String()]++
				case !errors.Is(err, bpmcore.ErrLockConflict):
					faults = append(faults, err)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(faults) > 0 {
		t.Fatalf("unexpected errors: %v", faults)
	}
	if len(owners) != jobs {
		t.Fatalf("%d jobs locked, want %d", len(owners), jobs)
	}
	for jobID, n := range owners {
		if n != 1 {
			t.Errorf("job %s locked %d times, want 1", jobID, n)
		}
	}
	left, err := s.FindAcquirableJobs(ctx, base, 0)
	if err != nil {
		t.Fatalf("FindAcquirableJobs: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("acquirable after race = %d, want 0", len(left))
	}
}

func testOwnerChecks(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()
	owner, stranger := id.NewNodeID(), id.NewNodeID()

	j := newJob(base)
	mustEnqueue(t, s, j)
	mustLock(t, s, j, owner, base.Add(time.Minute))

	checks := []struct {
		name string
		fn   func(id.NodeID) error
	}{
		{"ExtendJobLock", func(n id.NodeID) error { return s.ExtendJobLock(ctx, j.ID, n, base.Add(time.Hour)) }},
		{"UnlockJob", func(n id.NodeID) error { return s.UnlockJob(ctx, j.ID, n) }},
		{"DeleteJob", func(n id.NodeID) error { return s.DeleteJob(ctx, j.ID, n) }},
		{"FailJob", func(n id.NodeID) error {
			return s.FailJob(ctx, j.ID, n, job.Failure{Retries: 1, Reason: "x", At: base})
		}},
	}
	for _, c := range checks {
		if err := c.fn(stranger); !errors.Is(err, bpmcore.ErrLockConflict) {
			t.Errorf("%s by stranger err = %v, want ErrLockConflict", c.name, err)
		}
	}

	if err := s.ExtendJobLock(ctx, j.ID, owner, base.Add(time.Hour)); err != nil {
		t.Fatalf("ExtendJobLock: %v", err)
	}
	if got := mustGetJob(t, s, j.ID); got.LockExpiresAt == nil || !got.LockExpiresAt.Equal(base.Add(time.Hour)) {
		t.Errorf("lock expiry = %v, want %v", got.LockExpiresAt, base.Add(time.Hour))
	}

	if err := s.UnlockJob(ctx, j.ID, owner); err != nil {
		t.Fatalf("UnlockJob: %v", err)
	}
	got := mustGetJob(t, s, j.ID)
	if !got.Lock().IsZero() || got.Retries != 2 {
		t.Errorf("after unlock lock = %+v, retries = %d", got.Lock(), got.Retries)
	}
	if err := s.DeleteJob(ctx, j.ID, owner); !errors.Is(err, bpmcore.ErrLockConflict) {
		t.Errorf("DeleteJob of unlocked job err = %v, want ErrLockConflict", err)
	}

	mustLock(t, s, got, owner, base.Add(time.Minute))
	if err := s.DeleteJob(ctx, j.ID, owner); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("deleted job still present: %v", err)
	}

	// An expired lock no longer grants ownership.
	k := newJob(base)
	mustEnqueue(t, s, k)
	mustLock(t, s, k, owner, base.Add(-time.Second))
	if err := s.DeleteJob(ctx, k.ID, owner); !errors.Is(err, bpmcore.ErrLockConflict) {
		t.Errorf("DeleteJob with expired lock err = %v, want ErrLockConflict", err)
	}
}

func testFailJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()
	owner := id.NewNodeID()

	j := newJob(base)
	mustEnqueue(t, s, j)
	mustLock(t, s, j, owner, base.Add(time.Minute))

	cur := mustGetJob(t, s, j.ID)
	if err := s.FailJob(ctx, j.ID, owner, job.NextFailure(cur, errors.New("first"), base)); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	cur = mustGetJob(t, s, j.ID)
	if cur.Retries != 1 || cur.State != job.StatePending || !cur.Lock().IsZero() || cur.LastError != "first" {
		t.Fatalf("after retryable failure: retries=%d state=%q lock=%+v err=%q",
			cur.Retries, cur.State, cur.Lock(), cur.LastError)
	}
	if !cur.Acquirable(base) {
		t.Fatal("retryable failure should leave the job acquirable")
	}

	mustLock(t, s, cur, owner, base.Add(time.Minute))
	cur = mustGetJob(t, s, j.ID)
	if err := s.FailJob(ctx, j.ID, owner, job.NextFailure(cur, errors.New("second"), base)); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	cur = mustGetJob(t, s, j.ID)
	if cur.State != job.StateFailed || cur.Retries != 0 || cur.FailedAt == nil {
		t.Fatalf("after terminal failure: state=%q retries=%d failed_at=%v", cur.State, cur.Retries, cur.FailedAt)
	}
	if cur.LockOwner.String() != owner.String() {
		t.Errorf("terminal job lock owner = %s, want %s", cur.LockOwner, owner)
	}

	found, err := s.FindAcquirableJobs(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("FindAcquirableJobs: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("terminal job is acquirable after its lock expired")
	}
}

func testCancelJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()
	owner := id.NewNodeID()

	j := newJob(base)
	mustEnqueue(t, s, j)
	mustLock(t, s, j, owner, base.Add(time.Minute))

	if err := s.CancelJob(ctx, j.ID, base); !errors.Is(err, bpmcore.ErrLockConflict) {
		t.Fatalf("CancelJob of locked job err = %v, want ErrLockConflict", err)
	}
	if err := s.CancelJob(ctx, j.ID, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("CancelJob after lock expiry: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("cancelled job still present: %v", err)
	}

	free := newJob(base)
	mustEnqueue(t, s, free)
	if err := s.CancelJob(ctx, free.ID, base); err != nil {
		t.Fatalf("CancelJob of unlocked job: %v", err)
	}
	if err := s.CancelJob(ctx, free.ID, base); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("second CancelJob err = %v, want ErrNotFound", err)
	}
}

func testSetJobRetries(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()
	owner := id.NewNodeID()

	j := newJob(base)
	j.Retries = 1
	mustEnqueue(t, s, j)
	mustLock(t, s, j, owner, base.Add(time.Minute))
	cur := mustGetJob(t, s, j.ID)
	if err := s.FailJob(ctx, j.ID, owner, job.NextFailure(cur, errors.New("boom"), base)); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	failed := mustGetJob(t, s, j.ID)
	if err := s.SetJobRetries(ctx, j.ID, job.StatePending, job.Lock{}, 3); !errors.Is(err, bpmcore.ErrLockConflict) {
		t.Fatalf("SetJobRetries with stale state err = %v, want ErrLockConflict", err)
	}
	if err := s.SetJobRetries(ctx, j.ID, failed.State, failed.Lock(), 3); err != nil {
		t.Fatalf("SetJobRetries: %v", err)
	}
	cur = mustGetJob(t, s, j.ID)
	if cur.State != job.StatePending || cur.Retries != 3 || !cur.Lock().IsZero() || cur.FailedAt != nil {
		t.Errorf("re-armed job: state=%q retries=%d lock=%+v failed_at=%v",
			cur.State, cur.Retries, cur.Lock(), cur.FailedAt)
	}
	if cur.LastError != "boom" {
		t.Errorf("LastError = %q, want boom", cur.LastError)
	}
	if err := s.SetJobRetries(ctx, id.NewJobID(), job.StateFailed, job.Lock{}, 3); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("SetJobRetries(unknown) err = %v, want ErrNotFound", err)
	}

	// A node locks the job after the caller read it unlocked.
	seen := mustGetJob(t, s, j.ID)
	other := id.NewNodeID()
	mustLock(t, s, seen, other, base.Add(time.Minute))
	if err := s.SetJobRetries(ctx, j.ID, seen.State, seen.Lock(), 5); !errors.Is(err, bpmcore.ErrLockConflict) {
		t.Fatalf("SetJobRetries over a newer lock err = %v, want ErrLockConflict", err)
	}
	cur = mustGetJob(t, s, j.ID)
	if cur.LockOwner.String() != other.String() || cur.Retries != 3 {
		t.Errorf("lock owner = %s retries = %d, want %s and 3", cur.LockOwner, cur.Retries, other)
	}
	if err := s.DeleteJob(ctx, j.ID, other); err != nil {
		t.Errorf("DeleteJob by the lock owner: %v", err)
	}
}

func testListCountJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := now()
	owner := id.NewNodeID()
	execID := id.NewExecutionID()

	var jobs []*job.Job
	for i := range 4 {
		j := newJob(base.Add(time.Duration(i) * time.Second))
		if i%2 == 0 {
			j.ExecutionID = execID
		}
		mustEnqueue(t, s, j)
		jobs = append(jobs, j)
	}
	jobs[3].Retries = 1
	mustLock(t, s, jobs[3], owner, base.Add(time.Minute))
	if err := s.FailJob(ctx, jobs[3].ID, owner, job.Failure{Retries: 0, Reason: "x", Terminal: true, At: base}); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 4 || all[0].ID.String() != jobs[0].ID.String() {
		t.Fatalf("ListJobs returned %d jobs", len(all))
	}

	page, err := s.ListJobs(ctx, job.ListOpts{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(page) != 2 || page[0].ID.String() != jobs[1].ID.String() {
		t.Errorf("page = %d jobs", len(page))
	}

	failed, err := s.ListJobs(ctx, job.ListOpts{State: job.StateFailed})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(failed) != 1 || failed[0].ID.String() != jobs[3].ID.String() {
		t.Errorf("failed jobs = %d", len(failed))
	}

	counts := []struct {
		opts job.CountOpts
		want int64
	}{
		{job.CountOpts{}, 4},
		{job.CountOpts{State: job.StatePending}, 3},
		{job.CountOpts{State: job.StateFailed}, 1},
		{job.CountOpts{ExecutionID: execID}, 2},
	}
	for _, c := range counts {
		n, err := s.CountJobs(ctx, c.opts)
		if err != nil {
			t.Fatalf("CountJobs: %v", err)
		}
		if n != c.want {
			t.Errorf("CountJobs(%+v) = %d, want %d", c.opts, n, c.want)
		}
	}
}
