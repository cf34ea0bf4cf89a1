package acquisition_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/acquisition"
	"github.com/xraph/bpmcore/ext"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/store/memory"
)

func enqueue(t *testing.T, s job.Store, name string, dueIn time.Duration) *job.Job {
	t.Helper()
	j := job.New(name, nil, job.Options{DueAt: time.Now().UTC().Add(dueIn)}, 3)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j
}

type acquiredCounter struct{ n atomic.Int32 }

func (c *acquiredCounter) Name() string { return "acquired-counter" }

func (c *acquiredCounter) OnJobAcquired(context.Context, *job.Job) error {
	c.n.Add(1)
	return nil
}

func newAcquirer(s job.Store, owner id.NodeID) (*acquisition.Acquirer, *acquiredCounter) {
	counter := &acquiredCounter{}
	extensions := ext.NewRegistry(slog.Default())
	extensions.Register(counter)
	return acquisition.NewAcquirer(s, owner, extensions, slog.Default()), counter
}

func TestAcquireJobs_LocksDueJobs(t *testing.T) {
	s := memory.New()
	owner := id.NewNodeID()
	a, counter := newAcquirer(s, owner)
	ctx := context.Background()

	due1 := enqueue(t, s, "a", -2*time.Second)
	due2 := enqueue(t, s, "b", -time.Second)
	enqueue(t, s, "later", time.Hour)

	jobs, err := a.AcquireJobs(ctx, 5, time.Minute)
	if err != nil {
		t.Fatalf("AcquireJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("acquired %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID.String() != due1.ID.String() || jobs[1].ID.String() != due2.ID.String() {
		t.Errorf("acquired out of due order")
	}
	for _, j := range jobs {
		if j.LockOwner.String() != owner.String() {
			t.Errorf("job %s lock owner = %s, want %s", j.ID, j.LockOwner, owner)
		}
		stored, err := s.GetJob(ctx, j.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if !stored.LockedBy(owner, time.Now().UTC()) {
			t.Errorf("stored job %s not locked by owner", j.ID)
		}
		if !stored.LockExpiresAt.Equal(*j.LockExpiresAt) {
			t.Errorf("stored expiry %v != returned %v", stored.LockExpiresAt, j.LockExpiresAt)
		}
	}
	if counter.n.Load() != 2 {
		t.Errorf("acquired hooks = %d, want 2", counter.n.Load())
	}

	again, err := a.AcquireJobs(ctx, 5, time.Minute)
	if err != nil {
		t.Fatalf("AcquireJobs: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("locked jobs acquired again: %d", len(again))
	}
}

func TestAcquireJobs_RespectsBatchSize(t *testing.T) {
	s := memory.New()
	a, _ := newAcquirer(s, id.NewNodeID())
	for range 5 {
		enqueue(t, s, "j", -time.Second)
	}

	jobs, err := a.AcquireJobs(context.Background(), 3, time.Minute)
	if err != nil {
		t.Fatalf("AcquireJobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("acquired %d jobs, want 3", len(jobs))
	}
}

func TestAcquireJobs_ExpiredLockIsReacquired(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	j := enqueue(t, s, "j", -time.Minute)

	crashed := job.Lock{Owner: id.NewNodeID(), ExpiresAt: time.Now().UTC().Add(-time.Second).Truncate(time.Millisecond)}
	if err := s.LockJob(ctx, j.ID, job.Lock{}, crashed); err != nil {
		t.Fatalf("LockJob: %v", err)
	}

	owner := id.NewNodeID()
	a, _ := newAcquirer(s, owner)
	jobs, err := a.AcquireJobs(ctx, 1, time.Minute)
	if err != nil {
		t.Fatalf("AcquireJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].LockOwner.String() != owner.String() {
		t.Fatalf("expired lock was not taken over: %v", jobs)
	}
}

// conflictStore loses every lock race for the first candidate.
type conflictStore struct {
	*memory.Store
	lost atomic.Bool
}

func (s *conflictStore) LockJob(ctx context.Context, jobID id.JobID, expected, next job.Lock) error {
	if s.lost.CompareAndSwap(false, true) {
		return bpmcore.ErrLockConflict
	}
	return s.Store.LockJob(ctx, jobID, expected, next)
}

func TestAcquireJobs_SkipsConflicts(t *testing.T) {
	s := &conflictStore{Store: memory.New()}
	a, _ := newAcquirer(s, id.NewNodeID())
	for range 3 {
		enqueue(t, s, "j", -time.Second)
	}

	jobs, err := a.AcquireJobs(context.Background(), 3, time.Minute)
	if err != nil {
		t.Fatalf("AcquireJobs err = %v, conflicts must not fail the batch", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("acquired %d jobs, want 2", len(jobs))
	}
}

func TestAcquireJobs_Validation(t *testing.T) {
	a, _ := newAcquirer(memory.New(), id.NewNodeID())
	tests := []struct {
		name  string
		batch int
		lock  time.Duration
	}{
		{"zero batch", 0, time.Minute},
		{"zero lock", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.AcquireJobs(context.Background(), tt.batch, tt.lock)
			if !errors.Is(err, bpmcore.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestAcquireJobs_ConcurrentInstancesNeverShareJobs(t *testing.T) {
	s := memory.New()
	const total = 60
	for range total {
		enqueue(t, s, "j", -time.Second)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 4 {
		a, _ := newAcquirer(s, id.NewNodeID())
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := a.AcquireJobs(context.Background(), 3, time.Minute)
				if err != nil {
					t.Errorf("AcquireJobs: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID.String()]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("acquired %d distinct jobs, want %d", len(seen), total)
	}
	for jobID, n := range seen {
		if n != 1 {
			t.Errorf("job %s acquired %d times", jobID, n)
		}
	}
}
