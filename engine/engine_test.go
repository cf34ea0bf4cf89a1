package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/engine"
	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/store/memory"
	"github.com/xraph/bpmcore/task"
	"github.com/xraph/bpmcore/variable"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type invoicePayload struct {
	Invoice int    `json:"invoice"`
	Email   string `json:"email"`
}

type lifecycleTracker struct {
	enqueued    atomic.Int32
	completed   atomic.Int32
	exhausted   atomic.Int32
	cancelled   atomic.Int32
	transitions atomic.Int32
	shutdown    atomic.Int32
}

func (l *lifecycleTracker) Name() string { return "lifecycle-tracker" }

func (l *lifecycleTracker) OnJobEnqueued(context.Context, *job.Job) error {
	l.enqueued.Add(1)
	return nil
}

func (l *lifecycleTracker) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	l.completed.Add(1)
	return nil
}

func (l *lifecycleTracker) OnJobExhausted(context.Context, *job.Job, error) error {
	l.exhausted.Add(1)
	return nil
}

func (l *lifecycleTracker) OnJobCancelled(context.Context, id.JobID) error {
	l.cancelled.Add(1)
	return nil
}

func (l *lifecycleTracker) OnExecutionTransitioned(context.Context, *execution.Execution, execution.State) error {
	l.transitions.Add(1)
	return nil
}

func (l *lifecycleTracker) OnShutdown(context.Context) error {
	l.shutdown.Add(1)
	return nil
}

type harness struct {
	eng     *engine.Engine
	store   *memory.Store
	tracker *lifecycleTracker
	reg     *prometheus.Registry
}

func newHarness(t *testing.T, mutate func(*bpmcore.Config), opts ...engine.Option) *harness {
	t.Helper()
	cfg := bpmcore.DefaultConfig()
	cfg.WaitTime = 20 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		store:   memory.New(),
		tracker: &lifecycleTracker{},
		reg:     prometheus.NewRegistry(),
	}
	rt, err := bpmcore.New(
		bpmcore.WithStore(h.store),
		bpmcore.WithConfig(cfg),
		bpmcore.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("bpmcore.New: %v", err)
	}

	opts = append([]engine.Option{
		engine.WithMetricsRegisterer(h.reg),
		engine.WithExtension(h.tracker),
	}, opts...)
	h.eng, err = engine.Build(rt, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = h.eng.Stop(ctx)
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) jobGone(jobID id.JobID) func() bool {
	return func() bool {
		_, err := h.store.GetJob(context.Background(), jobID)
		return errors.Is(err, bpmcore.ErrJobNotFound)
	}
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_NoStore(t *testing.T) {
	rt, err := bpmcore.New()
	if err != nil {
		t.Fatalf("bpmcore.New: %v", err)
	}
	if _, err := engine.Build(rt); !errors.Is(err, bpmcore.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

type lifecycleOnlyStore struct{}

func (lifecycleOnlyStore) Migrate(context.Context) error { return nil }
func (lifecycleOnlyStore) Ping(context.Context) error    { return nil }
func (lifecycleOnlyStore) Close() error                  { return nil }

func TestBuild_IncompleteStore(t *testing.T) {
	rt, err := bpmcore.New(bpmcore.WithStore(lifecycleOnlyStore{}))
	if err != nil {
		t.Fatalf("bpmcore.New: %v", err)
	}
	if _, err := engine.Build(rt); !errors.Is(err, bpmcore.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

// ──────────────────────────────────────────────────
// Enqueue and execute
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)

	var (
		mu  sync.Mutex
		got invoicePayload
	)
	engine.Register(h.eng, job.NewDefinition("send-invoice", func(_ context.Context, p invoicePayload) error {
		mu.Lock()
		got = p
		mu.Unlock()
		return nil
	}))

	j, err := engine.Enqueue(context.Background(), h.eng, "send-invoice", invoicePayload{Invoice: 42, Email: "ap@example.com"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.State != job.StatePending {
		t.Errorf("State = %q, want pending", j.State)
	}

	h.start(t)
	waitFor(t, 5*time.Second, h.jobGone(j.ID))

	mu.Lock()
	defer mu.Unlock()
	if got.Invoice != 42 || got.Email != "ap@example.com" {
		t.Errorf("payload = %+v", got)
	}
	if n := h.tracker.completed.Load(); n != 1 {
		t.Errorf("completed hooks = %d, want 1", n)
	}
	if v := testutil.ToFloat64(h.eng.Metrics().JobCompleted.WithLabelValues("send-invoice")); v != 1 {
		t.Errorf("bpmcore_jobs_completed_total = %v, want 1", v)
	}
}

func TestEngine_EnqueueResolvesOptions(t *testing.T) {
	h := newHarness(t, func(c *bpmcore.Config) { c.DefaultRetries = 4 })
	engine.Register(h.eng, job.NewDefinition("with-defaults",
		func(context.Context, struct{}) error { return nil },
		job.WithRetries(7), job.WithTimeout(time.Second),
	))
	ctx := context.Background()
	execID := id.NewExecutionID()
	due := time.Now().UTC().Add(time.Hour)

	tests := []struct {
		name        string
		jobName     string
		opts        []job.Option
		wantRetries int
		wantTimeout time.Duration
	}{
		{"engine default", "unregistered", nil, 4, 0},
		{"definition default", "with-defaults", nil, 7, time.Second},
		{"enqueue override", "with-defaults", []job.Option{job.WithRetries(2)}, 2, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]job.Option{job.WithExecution(execID, id.ExecutionID{}), job.WithDueAt(due)}, tt.opts...)
			j, err := h.eng.EnqueueRaw(ctx, tt.jobName, nil, opts...)
			if err != nil {
				t.Fatalf("EnqueueRaw: %v", err)
			}
			stored, err := h.eng.GetJob(ctx, j.ID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if stored.Retries != tt.wantRetries {
				t.Errorf("Retries = %d, want %d", stored.Retries, tt.wantRetries)
			}
			if stored.Timeout != tt.wantTimeout {
				t.Errorf("Timeout = %v, want %v", stored.Timeout, tt.wantTimeout)
			}
			if stored.ExecutionID.String() != execID.String() || stored.InstanceID.String() != execID.String() {
				t.Errorf("execution binding = %s/%s, want %s", stored.ExecutionID, stored.InstanceID, execID)
			}
			if !stored.DueAt.Equal(due) {
				t.Errorf("DueAt = %v, want %v", stored.DueAt, due)
			}
		})
	}

	if n := h.tracker.enqueued.Load(); n != int32(len(tests)) {
		t.Errorf("enqueued hooks = %d, want %d", n, len(tests))
	}
	if _, err := h.eng.EnqueueRaw(ctx, "", nil); !errors.Is(err, bpmcore.ErrValidation) {
		t.Errorf("empty name err = %v, want ErrValidation", err)
	}
}

func TestEngine_ExhaustedJobBecomesIncident(t *testing.T) {
	h := newHarness(t, nil)
	var attempts atomic.Int32
	engine.Register(h.eng, job.NewDefinition("always-fails", func(context.Context, struct{}) error {
		attempts.Add(1)
		return errors.New("gateway unavailable")
	}))

	j, err := h.eng.EnqueueRaw(context.Background(), "always-fails", nil, job.WithRetries(2))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	h.start(t)

	waitFor(t, 5*time.Second, func() bool { return h.tracker.exhausted.Load() == 1 })

	if n := attempts.Load(); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
	inc, err := h.eng.Incidents().Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Incidents().Get: %v", err)
	}
	if inc.Error != "gateway unavailable" {
		t.Errorf("incident error = %q", inc.Error)
	}
}

func TestEngine_CancelJob(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	j, err := h.eng.EnqueueRaw(ctx, "later", nil, job.WithDelay(time.Hour))
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if err := h.eng.CancelJob(ctx, j.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if _, err := h.eng.GetJob(ctx, j.ID); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("GetJob after cancel err = %v, want ErrNotFound", err)
	}
	if n := h.tracker.cancelled.Load(); n != 1 {
		t.Errorf("cancelled hooks = %d, want 1", n)
	}

	locked, err := h.eng.EnqueueRaw(ctx, "running", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	other := job.Lock{Owner: id.NewNodeID(), ExpiresAt: time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond)}
	if err := h.store.LockJob(ctx, locked.ID, job.Lock{}, other); err != nil {
		t.Fatalf("LockJob: %v", err)
	}
	if err := h.eng.CancelJob(ctx, locked.ID); !errors.Is(err, bpmcore.ErrLockConflict) {
		t.Errorf("cancel locked err = %v, want ErrLockConflict", err)
	}
	if err := h.eng.CancelJob(ctx, id.NewJobID()); !errors.Is(err, bpmcore.ErrNotFound) {
		t.Errorf("cancel unknown err = %v, want ErrNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Executions and tasks
// ──────────────────────────────────────────────────

func TestEngine_TransitionJob(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	e := execution.NewInstance("case:1", "case", "order-7")
	if err := h.store.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	j, err := h.eng.EnqueueTransition(ctx, e, execution.StateActive)
	if err != nil {
		t.Fatalf("EnqueueTransition: %v", err)
	}
	if j.InstanceID.String() != e.ID.String() {
		t.Errorf("InstanceID = %s, want %s", j.InstanceID, e.ID)
	}

	h.start(t)
	waitFor(t, 5*time.Second, h.jobGone(j.ID))

	got, err := h.eng.Executions().Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != execution.StateActive {
		t.Errorf("State = %q, want active", got.State)
	}
	if n := h.tracker.transitions.Load(); n != 1 {
		t.Errorf("transition hooks = %d, want 1", n)
	}

	if _, err := h.eng.NewTransitionJob(e, "running"); !errors.Is(err, bpmcore.ErrValidation) {
		t.Errorf("unknown state err = %v, want ErrValidation", err)
	}
}

func TestEngine_TaskCompletionRunsContinuation(t *testing.T) {
	var eng *engine.Engine
	continuation := func(ctx context.Context, tk *task.Task, _ map[string]variable.Value) ([]*job.Job, error) {
		e, err := eng.Executions().Get(ctx, tk.ExecutionID)
		if err != nil {
			return nil, err
		}
		j, err := eng.NewTransitionJob(e, execution.StateActive)
		if err != nil {
			return nil, err
		}
		return []*job.Job{j}, nil
	}
	h := newHarness(t, nil, engine.WithContinuation(continuation))
	eng = h.eng
	ctx := context.Background()

	e := execution.NewInstance("case:1", "case", "")
	if err := h.store.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	tk, err := h.eng.Tasks().Create(ctx, e.ID, "review")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	h.start(t)

	vars, err := variable.OfMap(map[string]any{"approved": true})
	if err != nil {
		t.Fatalf("OfMap: %v", err)
	}
	if err := h.eng.Tasks().Complete(ctx, tk.ID, vars); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, err := h.eng.Executions().Get(ctx, e.ID)
		return err == nil && got.State == execution.StateActive
	})

	local, err := h.eng.GetLocalVariables(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetLocalVariables: %v", err)
	}
	if _, ok := local["approved"]; !ok {
		t.Errorf("local variables = %v, want approved", local)
	}
	if n := h.tracker.enqueued.Load(); n != 1 {
		t.Errorf("enqueued hooks = %d, want 1", n)
	}
}

func TestEngine_ExclusiveSerializesInstance(t *testing.T) {
	h := newHarness(t, func(c *bpmcore.Config) {
		c.Exclusive = true
		c.CorePoolSize = 3
		c.MaxPoolSize = 3
	})

	var running, peak, done atomic.Int32
	engine.Register(h.eng, job.NewDefinition("step", func(context.Context, struct{}) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		done.Add(1)
		return nil
	}))

	ctx := context.Background()
	instance := id.NewExecutionID()
	for range 3 {
		if _, err := h.eng.EnqueueRaw(ctx, "step", nil, job.WithExecution(id.NewExecutionID(), instance)); err != nil {
			t.Fatalf("EnqueueRaw: %v", err)
		}
	}
	h.start(t)

	waitFor(t, 5*time.Second, func() bool { return done.Load() == 3 })
	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d, want 1", p)
	}
	if n := h.tracker.exhausted.Load(); n != 0 {
		t.Errorf("exhausted = %d, want 0", n)
	}
}

func TestEngine_ExclusiveSurvivesLockRenewal(t *testing.T) {
	h := newHarness(t, func(c *bpmcore.Config) {
		c.Exclusive = true
		c.CorePoolSize = 2
		c.MaxPoolSize = 2
		c.LockTime = 100 * time.Millisecond
		c.LockRenewInterval = 30 * time.Millisecond
	})

	var running, peak, done atomic.Int32
	engine.Register(h.eng, job.NewDefinition("slow-step", func(context.Context, struct{}) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(400 * time.Millisecond)
		running.Add(-1)
		done.Add(1)
		return nil
	}))

	ctx := context.Background()
	instance := id.NewExecutionID()
	for range 2 {
		if _, err := h.eng.EnqueueRaw(ctx, "slow-step", nil, job.WithExecution(id.NewExecutionID(), instance)); err != nil {
			t.Fatalf("EnqueueRaw: %v", err)
		}
	}
	h.start(t)

	waitFor(t, 5*time.Second, func() bool { return done.Load() == 2 })
	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d, want 1", p)
	}
	if n := h.tracker.exhausted.Load(); n != 0 {
		t.Errorf("exhausted = %d, want 0", n)
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestEngine_StopFiresShutdown(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := h.tracker.shutdown.Load(); n != 1 {
		t.Errorf("shutdown hooks = %d, want 1", n)
	}
}

func TestEngine_EnqueueWakesIdleLoop(t *testing.T) {
	h := newHarness(t, func(c *bpmcore.Config) { c.WaitTime = time.Hour })
	engine.Register(h.eng, job.NewDefinition("noop", func(context.Context, struct{}) error { return nil }))
	h.start(t)

	// Let the loop find nothing and go idle.
	time.Sleep(50 * time.Millisecond)

	j, err := h.eng.EnqueueRaw(context.Background(), "noop", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	waitFor(t, 2*time.Second, h.jobGone(j.ID))
}
