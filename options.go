package bpmcore

import (
	"context"
	"log/slog"

	"github.com/xraph/bpmcore/id"
)

// Option configures a Runtime.
type Option func(*Runtime) error

// Storer is the minimal store interface held by the Runtime.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used by the engine package, which sits above every
// subsystem and can import them without cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// jobExecutor is the acquisition loop plus worker pool, started and
// stopped as one unit.
type jobExecutor interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Runtime owns the identity, configuration, logger, and store of one engine
// instance. Several runtimes may share a store; the node ID is the lock
// owner written on every job this instance acquires.
//
// Create one with New() and hand it to engine.Build, which wires the
// subsystems and registers them back through SetJobExecutor and
// SetExtensions.
type Runtime struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	nodeID     id.NodeID
	extensions extensionEmitter
	executor   jobExecutor

	started bool
}

// New creates a Runtime with the given options.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		config: DefaultConfig(),
		logger: slog.Default(),
		nodeID: id.NewNodeID(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if err := r.config.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Store returns the runtime's store.
func (r *Runtime) Store() Storer { return r.store }

// Config returns a copy of the runtime's configuration.
func (r *Runtime) Config() Config { return r.config }

// NodeID returns the identity this instance writes as job lock owner.
func (r *Runtime) NodeID() id.NodeID { return r.nodeID }

// SetJobExecutor sets the job executor (called by the engine package).
func (r *Runtime) SetJobExecutor(e jobExecutor) { r.executor = e }

// SetExtensions sets the extension emitter (called by the engine package).
func (r *Runtime) SetExtensions(e extensionEmitter) { r.extensions = e }

// Start begins job acquisition and execution.
func (r *Runtime) Start(ctx context.Context) error {
	if r.executor == nil {
		return ErrNoStore
	}
	if err := r.executor.Start(ctx); err != nil {
		return err
	}
	r.started = true
	r.logger.Info("engine started",
		slog.String("engine", r.config.EngineName),
		slog.String("node_id", r.nodeID.String()),
	)
	return nil
}

// Stop gracefully shuts down the job executor, notifies extensions, and
// closes the store.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.executor != nil && r.started {
		if err := r.executor.Stop(ctx); err != nil {
			r.logger.Error("job executor stop error", slog.String("error", err.Error()))
		}
		r.started = false
	}
	if r.extensions != nil {
		r.extensions.EmitShutdown(ctx)
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(r *Runtime) error {
		r.config = cfg
		return nil
	}
}

// WithEngineName sets the engine name used in logs.
func WithEngineName(name string) Option {
	return func(r *Runtime) error {
		r.config.EngineName = name
		return nil
	}
}

// WithLogger sets the structured logger for the runtime.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) error {
		r.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. The store must implement Storer
// at minimum; engine.Build requires a full store.Store.
func WithStore(s Storer) Option {
	return func(r *Runtime) error {
		r.store = s
		return nil
	}
}

// WithNodeID pins the lock owner identity, e.g. to keep it stable across
// restarts of the same node.
func WithNodeID(n id.NodeID) Option {
	return func(r *Runtime) error {
		if n.IsNil() {
			return ErrValidation
		}
		r.nodeID = n
		return nil
	}
}
