// Package engine wires all taskbus subsystems together. It creates the
// extension registry, job registry, middleware chain, worker pool,
// event bus, and maintenance janitor, and provides the
// Register/Enqueue/Cancel/Pause/Resume operations applications call.
//
// This package sits above all subsystem packages and below the
// application layer: the root taskbus package defines Entity and the
// shared errors (imported by job, event, etc.) and so cannot import
// those packages back.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/ext"
	"github.com/ledgerline/taskbus/id"
	"github.com/ledgerline/taskbus/janitor"
	"github.com/ledgerline/taskbus/job"
	mw "github.com/ledgerline/taskbus/middleware"
	"github.com/ledgerline/taskbus/observability"
	"github.com/ledgerline/taskbus/store"
	"github.com/ledgerline/taskbus/throttle"
	"github.com/ledgerline/taskbus/worker"
)

// Engine owns the full job-processing and event-notification stack.
// Use New to build one over a store, then Start/Stop its lifecycle.
type Engine struct {
	cfg        taskbus.Config
	store      store.Store
	bus        event.Bus
	registry   *job.Registry
	extensions *ext.Registry
	pool       *worker.Pool
	janitor    *janitor.Janitor
	logger     *slog.Logger

	exts         []ext.Extension
	mws          []mw.Middleware
	throttleCfgs []throttle.Config
	throttleMgr  *throttle.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the runtime configuration. Unset fields keep the
// defaults from taskbus.DefaultConfig.
func WithConfig(cfg taskbus.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithBus sets the event bus backend. Defaults to an in-process
// event.LocalBus over the engine's store.
func WithBus(b event.Bus) Option {
	return func(eng *Engine) { eng.bus = b }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware appends middleware to the default execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithThrottle registers per-type rate limiting and concurrency
// configurations. Types not listed run unthrottled.
func WithThrottle(configs ...throttle.Config) Option {
	return func(eng *Engine) { eng.throttleCfgs = append(eng.throttleCfgs, configs...) }
}

// WithTracerProvider sets a custom OTel TracerProvider. If not set, the
// global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. If not set, the
// global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine over the given store.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, taskbus.ErrNoStore
	}

	eng := &Engine{
		cfg:    taskbus.DefaultConfig(),
		store:  s,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.cfg.Concurrency < 1 {
		eng.cfg.Concurrency = 1
	}
	if eng.cfg.PollInterval <= 0 {
		eng.cfg.PollInterval = time.Second
	}

	eng.registry = job.NewRegistry(eng.logger)
	eng.extensions = ext.NewRegistry(eng.logger)

	// Default to the in-process bus over the store's event log.
	if eng.bus == nil {
		eng.bus = event.NewLocalBus(s, event.WithLocalLogger(eng.logger))
	}

	// Terminal job transitions are mirrored onto the bus.
	eng.extensions.Register(ext.NewBusRelay(eng.bus))
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/ledgerline/taskbus"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/ledgerline/taskbus"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Lifecycle counters ride the extension hooks.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/ledgerline/taskbus/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default stack: recover, tracing, metrics, logging; user middleware
	// runs innermost.
	allMws := append([]mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
	}, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.store, eng.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.cfg.Concurrency),
		worker.WithPollInterval(eng.cfg.PollInterval),
	}
	if len(eng.throttleCfgs) > 0 {
		eng.throttleMgr = throttle.NewManager(eng.throttleCfgs...)
		poolOpts = append(poolOpts, worker.WithThrottle(eng.throttleMgr))
	}

	eng.pool = worker.NewPool(eng.store, executor, eng.extensions, eng.logger, poolOpts...)

	if eng.cfg.SweepInterval > 0 {
		janOpts := []janitor.Option{
			janitor.WithInterval(eng.cfg.SweepInterval),
			janitor.WithJobRetention(eng.cfg.JobRetention),
			janitor.WithEventRetention(eng.cfg.EventRetention),
		}
		// A bus with its own storage (Redis Streams) is trimmed on the
		// same sweep as the store's event log. The local bus reads the
		// store's log directly, so pruning it twice would be redundant.
		if p, ok := eng.bus.(janitor.Pruner); ok {
			if _, local := eng.bus.(*event.LocalBus); !local {
				janOpts = append(janOpts, janitor.WithPruner(p))
			}
		}
		eng.janitor = janitor.New(eng.store, eng.logger, janOpts...)
	}

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T, R any](eng *Engine, def *job.Definition[T, R]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue serializes the payload and enqueues a job of the given type.
func Enqueue[T any](ctx context.Context, eng *Engine, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", jobType, err)
	}
	return eng.EnqueueRaw(ctx, jobType, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload and wakes the
// worker pool.
func (eng *Engine) EnqueueRaw(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	j := job.New(jobType, payload, opts...)

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	eng.pool.Notify()
	return j, nil
}

// Get returns the job by id.
func (eng *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// List returns jobs matching the filter, highest priority first.
func (eng *Engine) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	return eng.store.ListJobs(ctx, f)
}

// Counts returns the number of jobs per lifecycle state.
func (eng *Engine) Counts(ctx context.Context) (map[job.State]int64, error) {
	states := job.States()
	counts := make(map[job.State]int64, len(states))
	for _, st := range states {
		n, err := eng.store.CountJobs(ctx, job.Filter{State: st})
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, nil
}

// Cancel moves a pending or paused job to cancelled, or interrupts a
// running one. Cancelling a running job is cooperative: the handler's
// context is cancelled and the terminal state lands once it returns.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch j.State {
	case job.StatePending, job.StatePaused:
		if err := eng.store.TransitionState(ctx, jobID, j.State, job.StateCancelled); err != nil {
			return err
		}
		j.State = job.StateCancelled
		eng.extensions.EmitJobCancelled(ctx, j)
		return nil

	case job.StateRunning:
		if eng.pool.Interrupt(jobID, job.StateCancelled) {
			return nil
		}
		// Not executing in this pool; claim the transition directly.
		return eng.store.TransitionState(ctx, jobID, job.StateRunning, job.StateCancelled)

	default:
		return fmt.Errorf("cancel job in state %q: %w", j.State, taskbus.ErrInvalidState)
	}
}

// Pause moves a pending job to paused, or interrupts a running one.
// Pausing a running job is cooperative: the handler's context is
// cancelled and the job parks in paused with its progress retained.
func (eng *Engine) Pause(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch j.State {
	case job.StatePending:
		if err := eng.store.TransitionState(ctx, jobID, job.StatePending, job.StatePaused); err != nil {
			return err
		}
		j.State = job.StatePaused
		eng.extensions.EmitJobPaused(ctx, j)
		return nil

	case job.StateRunning:
		if eng.pool.Interrupt(jobID, job.StatePaused) {
			return nil
		}
		return eng.store.TransitionState(ctx, jobID, job.StateRunning, job.StatePaused)

	default:
		return fmt.Errorf("pause job in state %q: %w", j.State, taskbus.ErrInvalidState)
	}
}

// Resume moves a paused job back to pending and wakes the pool so it is
// picked up without waiting for the next poll tick.
func (eng *Engine) Resume(ctx context.Context, jobID id.JobID) error {
	if err := eng.store.TransitionState(ctx, jobID, job.StatePaused, job.StatePending); err != nil {
		return err
	}

	if j, err := eng.store.GetJob(ctx, jobID); err == nil {
		eng.extensions.EmitJobResumed(ctx, j)
	}
	eng.pool.Notify()
	return nil
}

// Publish appends an event to the durable log and delivers it to live
// subscribers via the configured bus.
func (eng *Engine) Publish(ctx context.Context, channel string, payload []byte) (*event.Event, error) {
	evt, err := eng.bus.Publish(ctx, channel, payload)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitEventPublished(ctx, evt)
	return evt, nil
}

// Subscribe registers a handler on the channel. The returned function
// removes the subscription.
func (eng *Engine) Subscribe(channel string, h event.Handler) func() {
	return eng.bus.Subscribe(channel, h)
}

// Replay reads historical events from the log, strictly after since.
func (eng *Engine) Replay(ctx context.Context, channel string, since time.Time, limit int) ([]*event.Event, error) {
	return eng.bus.Replay(ctx, channel, since, limit)
}

// Start runs store migrations, then starts the worker pool and, when a
// sweep interval is configured, the maintenance janitor.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if eng.janitor != nil {
		if err := eng.janitor.Start(ctx); err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
	}

	eng.logger.Info("engine started",
		slog.Int("concurrency", eng.cfg.Concurrency),
		slog.String("worker_id", eng.pool.WorkerID().String()),
	)
	return nil
}

// Stop gracefully shuts the engine down: the janitor first, then the
// pool (bounded by ShutdownTimeout), then extension shutdown hooks and
// the bus. The store stays open; the caller owns it.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.janitor != nil {
		if err := eng.janitor.Stop(ctx); err != nil {
			eng.logger.Error("janitor stop error", slog.String("error", err.Error()))
		}
	}

	poolCtx := ctx
	if eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		poolCtx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := eng.pool.Stop(poolCtx); err != nil {
		return fmt.Errorf("stop worker pool: %w", err)
	}

	eng.extensions.EmitShutdown(ctx)

	if err := eng.bus.Close(); err != nil {
		eng.logger.Error("bus close error", slog.String("error", err.Error()))
	}

	eng.logger.Info("engine stopped")
	return nil
}

// Store returns the underlying store.
func (eng *Engine) Store() store.Store { return eng.store }

// Bus returns the event bus.
func (eng *Engine) Bus() event.Bus { return eng.bus }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Throttle returns the throttle manager, or nil when no throttle
// configs were provided.
func (eng *Engine) Throttle() *throttle.Manager { return eng.throttleMgr }
