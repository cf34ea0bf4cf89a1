package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/bpmcore"
	"github.com/xraph/bpmcore/acquisition"
	"github.com/xraph/bpmcore/exclusive"
	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/ext"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/incident"
	"github.com/xraph/bpmcore/job"
	mw "github.com/xraph/bpmcore/middleware"
	"github.com/xraph/bpmcore/observability"
	"github.com/xraph/bpmcore/query"
	"github.com/xraph/bpmcore/store"
	"github.com/xraph/bpmcore/task"
	"github.com/xraph/bpmcore/variable"
	"github.com/xraph/bpmcore/worker"
)

// Engine gives typed access to the subsystems of one Runtime.
// Use Build() to create one.
type Engine struct {
	rt         *bpmcore.Runtime
	store      store.Store
	extensions *ext.Registry
	registry   *job.Registry
	logger     *slog.Logger

	tasks      *task.Service
	executions *execution.Service
	query      *query.Engine
	incidents  *incident.Service

	acquirer *acquisition.Acquirer
	pool     *worker.Pool
	runner   *acquisition.Runner
	metrics  *observability.MetricsExtension

	mws          []mw.Middleware
	continuation task.Continuation
	locker       exclusive.Locker

	registerer     prometheus.Registerer
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the end of the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithContinuation sets the function that computes the jobs enqueued
// together with a task completion.
func WithContinuation(c task.Continuation) Option {
	return func(eng *Engine) {
		eng.continuation = c
	}
}

// WithLocker sets the locker used to serialize jobs of one instance when
// Config.Exclusive is set. The default is an in-process MemoryLocker,
// which only serializes jobs acquired by this node.
func WithLocker(l exclusive.Locker) Option {
	return func(eng *Engine) {
		eng.locker = l
	}
}

// WithMetricsRegisterer sets where the lifecycle metrics are registered.
// The default is prometheus.DefaultRegisterer.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(eng *Engine) {
		eng.registerer = reg
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Runtime and registers the acquisition
// loop and extensions back with it. The Runtime's store must implement
// store.Store.
func Build(rt *bpmcore.Runtime, opts ...Option) (*Engine, error) {
	logger := rt.Logger()
	cfg := rt.Config()

	if rt.Store() == nil {
		return nil, bpmcore.ErrNoStore
	}
	s, ok := rt.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("%w: store %T does not implement store.Store", bpmcore.ErrValidation, rt.Store())
	}

	eng := &Engine{
		rt:         rt,
		store:      s,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		logger:     logger,
		registerer: prometheus.DefaultRegisterer,
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.registerer != nil {
		eng.metrics = observability.NewMetricsExtensionWithRegisterer(eng.registerer)
		eng.extensions.Register(eng.metrics)
	}

	eng.executions = execution.NewService(s,
		execution.WithEmitter(eng.extensions),
		execution.WithLogger(logger),
	)
	eng.tasks = task.NewService(s,
		task.WithContinuation(eng.continuation),
		task.WithEmitter(&taskEmitter{eng: eng}),
		task.WithLogger(logger),
	)
	eng.query = query.NewEngine(s)
	eng.incidents = incident.NewService(s, logger)

	registerTransitionJob(eng)

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/bpmcore"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/bpmcore"))
	} else {
		metricsMw = mw.Metrics()
	}

	// recover → tracing → metrics → logging → job context → exclusive → timeout.
	chain := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.JobContext(),
	}
	if cfg.Exclusive {
		if eng.locker == nil {
			eng.locker = exclusive.NewMemoryLocker()
		}
		var exOpts []mw.ExclusiveOption
		if cfg.LockRenewInterval > 0 {
			exOpts = append(exOpts, mw.WithTokenRenewal(cfg.LockRenewInterval))
		}
		chain = append(chain, mw.Exclusive(eng.locker, cfg.LockTime, logger, exOpts...))
	}
	chain = append(chain, mw.Timeout(logger))
	chain = append(chain, eng.mws...)

	owner := rt.NodeID()
	executor := worker.NewExecutor(eng.registry, eng.extensions, s, owner, logger, chain...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolSize(cfg.CorePoolSize, cfg.MaxPoolSize),
		worker.WithQueueSize(cfg.QueueSize),
		worker.WithKeepAlive(cfg.KeepAlive),
	}
	if cfg.LockRenewInterval > 0 {
		poolOpts = append(poolOpts, worker.WithLockRenewal(cfg.LockRenewInterval, cfg.LockTime))
	}
	eng.pool = worker.NewPool(s, executor, owner, logger, poolOpts...)

	eng.acquirer = acquisition.NewAcquirer(s, owner, eng.extensions, logger)
	eng.runner = acquisition.NewRunner(eng.acquirer, eng.pool, s, owner, acquisition.RunnerConfig{
		MaxJobsPerAcquisition: cfg.MaxJobsPerAcquisition,
		LockTime:              cfg.LockTime,
		WaitTime:              cfg.WaitTime,
	}, logger)

	rt.SetJobExecutor(eng.runner)
	rt.SetExtensions(eng.extensions)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job with a JSON-encoded payload.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload for job %q: %w", bpmcore.ErrValidation, name, err)
	}
	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. Options start
// from the defaults registered for name; retries fall back to
// Config.DefaultRetries.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	j, err := eng.NewJob(name, payload, opts...)
	if err != nil {
		return nil, err
	}
	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, bpmcore.Fault("enqueue job", err)
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	eng.hintIfDue(j)
	return j, nil
}

// NewJob builds a job without persisting it, for use by continuations
// that hand jobs to a task completion.
func (eng *Engine) NewJob(name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: job name is required", bpmcore.ErrValidation)
	}
	o, ok := eng.registry.Options(name)
	if !ok {
		o = job.DefaultOptions()
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Retries < 0 {
		return nil, fmt.Errorf("%w: retries must not be negative", bpmcore.ErrValidation)
	}
	return job.New(name, payload, o, eng.rt.Config().DefaultRetries), nil
}

// CancelJob removes a job that is not currently locked by a live owner.
// A locked job yields ErrLockConflict.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) error {
	if err := eng.store.CancelJob(ctx, jobID, eng.now()); err != nil {
		return bpmcore.Fault("cancel job", err)
	}
	eng.logger.Info("job cancelled", slog.String("job_id", jobID.String()))
	eng.extensions.EmitJobCancelled(ctx, jobID)
	return nil
}

// GetJob returns a job by ID.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, bpmcore.Fault("get job", err)
	}
	return j, nil
}

// ListJobs returns jobs matching opts.
func (eng *Engine) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := eng.store.ListJobs(ctx, opts)
	if err != nil {
		return nil, bpmcore.Fault("list jobs", err)
	}
	return jobs, nil
}

// CountJobs counts jobs matching opts.
func (eng *Engine) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	n, err := eng.store.CountJobs(ctx, opts)
	if err != nil {
		return 0, bpmcore.Fault("count jobs", err)
	}
	return n, nil
}

// GetLocalVariables returns the variables stored on execID itself.
func (eng *Engine) GetLocalVariables(ctx context.Context, execID id.ExecutionID) (map[string]variable.Value, error) {
	if _, err := eng.executions.Get(ctx, execID); err != nil {
		return nil, err
	}
	vars, err := eng.store.GetVariables(ctx, execID)
	if err != nil {
		return nil, bpmcore.Fault("get variables", err)
	}
	return vars, nil
}

func (eng *Engine) hintIfDue(j *job.Job) {
	if !j.DueAt.After(eng.now()) {
		eng.runner.Hint()
	}
}

// Start begins acquiring and executing jobs.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.rt.Start(ctx)
}

// Stop stops acquisition, lets running jobs finish within
// Config.ShutdownTimeout or ctx, whichever ends first, fires the shutdown
// hooks, and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	if d := eng.rt.Config().ShutdownTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return eng.rt.Stop(ctx)
}

// Runtime returns the underlying Runtime.
func (eng *Engine) Runtime() *bpmcore.Runtime { return eng.rt }

// Store returns the aggregate store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Tasks returns the task service.
func (eng *Engine) Tasks() *task.Service { return eng.tasks }

// Executions returns the execution service.
func (eng *Engine) Executions() *execution.Service { return eng.executions }

// Query returns the execution query engine.
func (eng *Engine) Query() *query.Engine { return eng.query }

// Incidents returns the incident service.
func (eng *Engine) Incidents() *incident.Service { return eng.incidents }

// Acquirer returns the job acquirer.
func (eng *Engine) Acquirer() *acquisition.Acquirer { return eng.acquirer }

// Metrics returns the Prometheus metrics extension, or nil when metrics
// were disabled with a nil registerer.
func (eng *Engine) Metrics() *observability.MetricsExtension { return eng.metrics }

// taskEmitter forwards task notifications to the extensions and wakes the
// acquisition loop for continuation jobs that are already due.
type taskEmitter struct {
	eng *Engine
}

func (t *taskEmitter) EmitTaskClaimed(ctx context.Context, tk *task.Task) {
	t.eng.extensions.EmitTaskClaimed(ctx, tk)
}

func (t *taskEmitter) EmitTaskCompleted(ctx context.Context, tk *task.Task, jobs []*job.Job) {
	t.eng.extensions.EmitTaskCompleted(ctx, tk, jobs)
	for _, j := range jobs {
		t.eng.extensions.EmitJobEnqueued(ctx, j)
	}
	for _, j := range jobs {
		if !j.DueAt.After(t.eng.now()) {
			t.eng.runner.Hint()
			return
		}
	}
}
