package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petrijr/cascade/internal/config"
	"github.com/petrijr/cascade/internal/engine"
	"github.com/petrijr/cascade/internal/taskqueue"
	"github.com/petrijr/cascade/internal/telemetry"
	"github.com/petrijr/cascade/pkg/api"
	"github.com/petrijr/cascade/pkg/hooks"
	"github.com/petrijr/cascade/pkg/ratelimit"
	"github.com/petrijr/cascade/pkg/worker"
)

type runnerOptions struct {
	queue       taskqueue.Queue
	worker      worker.Config
	concurrency int
	registerer  prometheus.Registerer
}

// WithQueue replaces the in-memory task queue (see NewSQLiteQueue).
func WithQueue(q taskqueue.Queue) Option {
	return func(o *options) { o.runner.queue = q }
}

// WithWorkerConfig sets delivery attempts, backoff and leasing for the
// runner's worker. The runner's logger is used when cfg.Logger is nil.
func WithWorkerConfig(cfg worker.Config) Option {
	return func(o *options) { o.runner.worker = cfg }
}

// WithConcurrency sets how many worker goroutines StartWorkers launches when
// called with a non-positive count. Runs waiting at a gate do not occupy a
// worker.
func WithConcurrency(n int) Option {
	return func(o *options) { o.runner.concurrency = n }
}

// WithRegisterer sets where NewLocalRunnerFromConfig registers Prometheus
// collectors. Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.runner.registerer = reg }
}

// LocalRunner bundles an engine, a task queue and a Worker to run flows
// asynchronously inside one process.
//
// Typical usage:
//
//	runner := cascade.NewLocalRunner()
//	flow := cascade.New("my-flow").Trigger(cascade.Manual()).Then(node).MustRegister(runner.Engine)
//
//	// Synchronous run (no queue/worker involved):
//	state, err := runner.Engine.Execute(ctx, flow, input)
//
//	// Asynchronous run:
//	_ = runner.StartWorkers(ctx, 2)
//	runID, _ := runner.StartAsync(ctx, flow.Name(), input)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine runs the flows.
	Engine Engine

	// Queue holds pending start and signal tasks.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	// Limiters is the shared rate limiter registry of Engine.
	Limiters *ratelimit.Registry

	// State is the configured cursor backend, if any. Flows opt in with
	// FlowBuilder.State(runner.State, "").
	State api.StateBackend

	// Metrics is set when Prometheus metrics are enabled in config.
	Metrics *hooks.Prometheus

	logger      *slog.Logger
	concurrency int
	closers     []func() error

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-process engine
// and, unless WithQueue is given, an in-memory queue.
func NewLocalRunner(opts ...Option) *LocalRunner {
	return newLocalRunner(applyOptions(opts))
}

func newLocalRunner(o options) *LocalRunner {
	if o.limiters == nil {
		o.limiters = ratelimit.NewRegistry()
	}
	q := o.runner.queue
	if q == nil {
		q = taskqueue.NewInMemoryQueue()
	}
	wcfg := o.runner.worker
	if wcfg.Logger == nil {
		wcfg.Logger = o.logger
	}
	concurrency := o.runner.concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	eng := engine.NewEngineWithConfig(o.engineConfig())
	return &LocalRunner{
		Engine:      eng,
		Queue:       q,
		Worker:      worker.NewWithConfig(eng, q, wcfg),
		Limiters:    o.limiters,
		logger:      o.logger,
		concurrency: concurrency,
	}
}

// NewLocalRunnerFromConfig builds a runner from loaded configuration:
// logger, shared rate limiters, state backend, queue, worker settings and
// the logging, metrics and tracing hooks it enables. Options are applied
// after the config. Close releases the connections it opened.
func NewLocalRunnerFromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*LocalRunner, error) {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := telemetry.NewLogger(cfg.Log, nil)

	limiters := ratelimit.NewRegistry()
	for _, rl := range cfg.RateLimiters {
		if _, err := limiters.Register(rl.ID, rl.Capacity, rl.Window); err != nil {
			return nil, fmt.Errorf("rate limiter %q: %w", rl.ID, err)
		}
	}

	base := []Option{
		WithLogger(logger),
		WithLimiters(limiters),
		WithHooks(hooks.Logging(logger)),
		WithConcurrency(cfg.Workers.Concurrency),
		WithWorkerConfig(worker.Config{
			MaxAttempts: cfg.Workers.MaxAttempts,
			Backoff:     cfg.Workers.Backoff,
			LeaseTTL:    cfg.Workers.LeaseTTL,
		}),
	}
	o := applyOptions(append(base, opts...))

	var closers []func() error
	fail := func(err error) (*LocalRunner, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	var metrics *hooks.Prometheus
	if cfg.Metrics.Enabled {
		reg := o.runner.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		p, err := hooks.NewPrometheusWithNamespace(reg, cfg.Metrics.Namespace)
		if err != nil {
			return fail(fmt.Errorf("register metrics: %w", err))
		}
		metrics = p
		o.hooks = append(o.hooks, p.Hooks())
	}
	if cfg.Metrics.Tracing {
		o.hooks = append(o.hooks, hooks.Tracing(telemetry.Tracer()))
	}

	state, closeState, err := OpenStateBackend(ctx, cfg.State)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeState)

	if o.runner.queue == nil && cfg.Workers.Queue == "sqlite" {
		db, err := OpenSQLite(cfg.Workers.QueueDSN)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, db.Close)
		q, err := NewSQLiteQueue(db)
		if err != nil {
			return fail(err)
		}
		o.runner.queue = q
	}

	r := newLocalRunner(o)
	r.State = state
	r.Metrics = metrics
	r.closers = closers
	logger.Info("runner_configured",
		slog.String("state_backend", cfg.State.Backend),
		slog.String("queue", cfg.Workers.Queue),
		slog.Int("concurrency", r.concurrency),
		slog.Any("rate_limiters", limiters.IDs()),
	)
	return r, nil
}

// StartWorkers starts concurrency worker goroutines (the configured count
// if concurrency <= 0) that process tasks until Stop is called.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("cascade: LocalRunner already started")
	}
	if concurrency <= 0 {
		concurrency = r.concurrency
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()
			if err := r.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("worker_stopped", slog.String("error", err.Error()))
			}
		}()
	}
	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit. Runs still waiting at a gate are cancelled and rolled
// back before Stop returns.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.Worker.Wait()
}

// Close stops the workers and releases connections opened from config.
func (r *LocalRunner) Close() error {
	r.Stop()
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// StartAsync enqueues a task to start a registered flow and returns the run
// ID it will get.
func (r *LocalRunner) StartAsync(ctx context.Context, flowName string, input Input, opts ...RunOption) (string, error) {
	return r.Worker.EnqueueStart(ctx, flowName, input, opts...)
}

// ScheduleNext enqueues a start of flow at its next schedule fire time.
func (r *LocalRunner) ScheduleNext(ctx context.Context, flow *Flow, input Input) (string, time.Time, error) {
	return r.Worker.EnqueueScheduled(ctx, flow, input, time.Now())
}

// SignalAsync enqueues a signal for a run. Signals to runs that have not
// started yet are redelivered with backoff.
func (r *LocalRunner) SignalAsync(ctx context.Context, runID, name string, payload any) error {
	return r.Worker.EnqueueSignal(ctx, runID, name, payload)
}

// WaitRun polls until the run reaches a terminal status or ctx ends.
func (r *LocalRunner) WaitRun(ctx context.Context, runID string) (*Run, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		run, err := r.Engine.GetRun(ctx, runID)
		if err == nil && (run.Status == StatusCompleted || run.Status == StatusFailed) {
			return run, nil
		}
		if err != nil && !errors.Is(err, api.ErrRunNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
