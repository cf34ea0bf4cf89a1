package incident_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/incident"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/store/memory"
)

// lockAndFail enqueues a job, locks it for owner and records a terminal
// failure, the way the executor does after the last retry.
func lockAndFail(t *testing.T, s *memory.Store, execID id.ExecutionID) *job.Job {
	t.Helper()
	ctx := context.Background()
	owner := id.NewNodeID()

	j := job.New("charge-card", []byte(`{"amount":10}`), job.Options{Retries: 1, ExecutionID: execID, InstanceID: execID}, 3)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	lock := job.Lock{Owner: owner, ExpiresAt: time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)}
	if err := s.LockJob(ctx, j.ID, job.Lock{}, lock); err != nil {
		t.Fatalf("LockJob: %v", err)
	}
	j.SetLock(lock)
	f := job.NextFailure(j, errors.New("card declined"), time.Now().UTC())
	if err := s.FailJob(ctx, j.ID, owner, f); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	return j
}

func TestService_ListAndGet(t *testing.T) {
	s := memory.New()
	svc := incident.NewService(s, slog.Default())
	ctx := context.Background()

	execID := id.NewExecutionID()
	failed := lockAndFail(t, s, execID)
	lockAndFail(t, s, id.NewExecutionID())
	if err := s.EnqueueJob(ctx, job.New("healthy", nil, job.Options{}, 3)); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	all, err := svc.List(ctx, incident.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List = %d incidents, want 2", len(all))
	}

	mine, err := svc.List(ctx, incident.ListOpts{ExecutionID: execID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(mine) != 1 || mine[0].JobID.String() != failed.ID.String() {
		t.Fatalf("List by execution = %v, want [%s]", mine, failed.ID)
	}

	n, err := svc.Count(ctx, id.ExecutionID{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}

	inc, err := svc.Get(ctx, failed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if inc.Error != "card declined" {
		t.Errorf("Error = %q, want %q", inc.Error, "card declined")
	}
	if string(inc.Payload) != `{"amount":10}` {
		t.Errorf("Payload = %q", inc.Payload)
	}
	if inc.FailedAt.IsZero() {
		t.Error("FailedAt not set")
	}
	if inc.LockOwner.IsNil() {
		t.Error("terminal job should keep its lock owner")
	}
}

func TestService_GetHealthyJobIsNotFound(t *testing.T) {
	s := memory.New()
	svc := incident.NewService(s, slog.Default())
	ctx := context.Background()

	j := job.New("healthy", nil, job.Options{}, 3)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := svc.Get(ctx, j.ID); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Get(ctx, id.NewJobID()); !errors.Is(err, bpmcore.ErrJobNotFound) {
		t.Fatalf("Get unknown err = %v, want ErrJobNotFound", err)
	}
}

func TestService_RetryRearmsJob(t *testing.T) {
	s := memory.New()
	svc := incident.NewService(s, slog.Default())
	ctx := context.Background()
	failed := lockAndFail(t, s, id.NewExecutionID())

	if err := svc.Retry(ctx, failed.ID, 2); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	got, err := s.GetJob(ctx, failed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending || got.Retries != 2 {
		t.Fatalf("job = %s with %d retries, want pending with 2", got.State, got.Retries)
	}
	if !got.LockOwner.IsNil() || got.FailedAt != nil {
		t.Error("retried job should be unlocked with FailedAt cleared")
	}
	acquirable, err := s.FindAcquirableJobs(ctx, time.Now().UTC(), 0)
	if err != nil {
		t.Fatalf("FindAcquirableJobs: %v", err)
	}
	if len(acquirable) != 1 {
		t.Errorf("acquirable = %d, want 1", len(acquirable))
	}
}

func TestService_RetryValidation(t *testing.T) {
	s := memory.New()
	svc := incident.NewService(s, slog.Default())
	ctx := context.Background()

	running := job.New("running", nil, job.Options{}, 3)
	if err := s.EnqueueJob(ctx, running); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	lock := job.Lock{Owner: id.NewNodeID(), ExpiresAt: time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)}
	if err := s.LockJob(ctx, running.ID, job.Lock{}, lock); err != nil {
		t.Fatalf("LockJob: %v", err)
	}

	tests := []struct {
		name    string
		jobID   id.JobID
		retries int
		want    error
	}{
		{"zero retries", running.ID, 0, bpmcore.ErrValidation},
		{"unknown job", id.NewJobID(), 1, bpmcore.ErrNotFound},
		{"running job", running.ID, 1, bpmcore.ErrLockConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Retry(ctx, tt.jobID, tt.retries); !errors.Is(err, tt.want) {
				t.Fatalf("Retry err = %v, want %v", err, tt.want)
			}
		})
	}
}

// lockingStore locks a job for another node right after GetJob read it,
// the way a concurrent acquirer on another instance would.
type lockingStore struct {
	*memory.Store
	node id.NodeID
}

func (s *lockingStore) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.Store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	next := job.Lock{Owner: s.node, ExpiresAt: time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)}
	if err := s.Store.LockJob(ctx, jobID, j.Lock(), next); err != nil {
		return nil, err
	}
	return j, nil
}

func TestService_RetryKeepsLockTakenAfterRead(t *testing.T) {
	mem := memory.New()
	s := &lockingStore{Store: mem, node: id.NewNodeID()}
	svc := incident.NewService(s, slog.Default())
	ctx := context.Background()

	j := job.New("charge-card", nil, job.Options{Retries: 1}, 3)
	if err := mem.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	if err := svc.Retry(ctx, j.ID, 4); !errors.Is(err, bpmcore.ErrLockConflict) {
		t.Fatalf("Retry err = %v, want ErrLockConflict", err)
	}

	got, err := mem.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.LockOwner.String() != s.node.String() || got.Retries != 1 {
		t.Fatalf("lock owner = %s retries = %d, want %s and 1", got.LockOwner, got.Retries, s.node)
	}
	acquirable, err := mem.FindAcquirableJobs(ctx, time.Now().UTC(), 0)
	if err != nil {
		t.Fatalf("FindAcquirableJobs: %v", err)
	}
	if len(acquirable) != 0 {
		t.Errorf("acquirable = %d, want 0 while another node runs the job", len(acquirable))
	}
	if err := mem.DeleteJob(ctx, j.ID, s.node); err != nil {
		t.Errorf("DeleteJob by the running node: %v", err)
	}
}
