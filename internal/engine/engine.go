package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/petrijr/cascade/internal/substrate"
	"github.com/petrijr/cascade/pkg/api"
	"github.com/petrijr/cascade/pkg/ratelimit"
)

// Config describes how to construct an engine.
type Config struct {
	// Substrate executes activities, timers and signals. Defaults to an
	// in-process substrate.
	Substrate api.Substrate

	// Limiters resolves shared rate limiter IDs referenced by nodes.
	Limiters *ratelimit.Registry

	// Hooks fire for every flow run by this engine, before flow-level hooks.
	Hooks api.Hooks

	Logger *slog.Logger

	// NewID generates run IDs. Defaults to random UUIDs.
	NewID func() string
}

// engineImpl walks flows step by step on top of a substrate.
type engineImpl struct {
	sub      api.Substrate
	limiters *ratelimit.Registry
	hooks    api.Hooks
	logger   *slog.Logger
	newID    func() string

	flows *flowRegistry
	runs  *runStore
}

var _ api.Engine = (*engineImpl)(nil)

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	return newEngine(cfg)
}

// NewInMemoryEngine returns an engine on the in-process substrate with no
// shared limiters or hooks.
func NewInMemoryEngine() api.Engine {
	return newEngine(Config{})
}

func newEngine(cfg Config) *engineImpl {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sub := cfg.Substrate
	if sub == nil {
		sub = substrate.NewLocal(substrate.WithLogger(logger))
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &engineImpl{
		sub:      sub,
		limiters: cfg.Limiters,
		hooks:    cfg.Hooks,
		logger:   logger,
		newID:    newID,
		flows:    newFlowRegistry(),
		runs:     newRunStore(),
	}
}

func (e *engineImpl) Register(flow *api.Flow) error {
	return e.flows.Register(flow)
}

func (e *engineImpl) Execute(ctx context.Context, flow *api.Flow, input api.Input, opts ...api.RunOption) (*api.FlowState, error) {
	run, err := e.execute(ctx, flow, input, api.ApplyRunOptions(opts...))
	if run == nil {
		return nil, err
	}
	return run.State, err
}

func (e *engineImpl) Start(ctx context.Context, name string, input api.Input, opts ...api.RunOption) (*api.Run, error) {
	flow, err := e.flows.Get(name)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, flow, input, api.ApplyRunOptions(opts...))
}

func (e *engineImpl) Signal(ctx context.Context, runID, name string, payload any) error {
	run, err := e.runs.get(runID)
	if err != nil {
		return err
	}
	if !active(run.Status) {
		return fmt.Errorf("%w: %s is %s", api.ErrRunNotWaiting, runID, run.Status)
	}
	return e.sub.Signal(ctx, runID, name, payload)
}

func (e *engineImpl) GetRun(ctx context.Context, id string) (*api.Run, error) {
	return e.runs.get(id)
}

func (e *engineImpl) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.Run, error) {
	return e.runs.list(filter), nil
}

// execute runs flow to a terminal status and returns a copy of its record.
func (e *engineImpl) execute(ctx context.Context, flow *api.Flow, input api.Input, opts api.RunOptions) (*api.Run, error) {
	if flow == nil {
		return nil, errors.New("execute: nil flow")
	}

	id := opts.RunID
	if id == "" {
		id = e.newID()
	}

	x := &execution{
		engine: e,
		flow:   flow,
		runID:  id,
		state:  api.NewFlowState(input),
		hooks:  api.NewHookDispatcher(e.hooks, flow.Hooks()),
		comp:   newCompensationManager(),
		onWait: opts.OnWait,
	}

	started := e.sub.Now()
	if err := e.runs.create(&api.Run{
		ID:        id,
		FlowName:  flow.Name(),
		Status:    api.StatusRunning,
		ParentID:  opts.ParentID,
		State:     x.state,
		StartedAt: started,
	}); err != nil {
		return nil, err
	}

	logger := e.logger.With(slog.String("flow", flow.Name()), slog.String("run_id", id))
	logger.DebugContext(ctx, "flow_start")
	x.hooks.BeforeFlow(x.hookContext("", ""))

	err := x.run(ctx)

	var report rollbackReport
	if err != nil {
		// Rollback must run even when the caller's context is already done.
		report = x.rollback(context.WithoutCancel(ctx), logger, err)
	}

	finished := e.sub.Now()
	e.runs.update(id, func(r *api.Run) {
		r.FinishedAt = finished
		r.Compensated = report.compensated
		r.CompensationErrors = report.errors
		if err != nil {
			r.Status = api.StatusFailed
			r.Err = err
			return
		}
		r.Status = api.StatusCompleted
		r.CurrentStep = ""
	})

	if f, ok := e.sub.(interface{ Forget(runID string) }); ok {
		f.Forget(id)
	}

	hc := x.hookContext("", "")
	hc.Duration = finished.Sub(started)
	hc.Err = err
	x.hooks.AfterFlow(hc)

	if err != nil {
		logger.DebugContext(ctx, "flow_failed", slog.String("error", err.Error()))
	} else {
		logger.DebugContext(ctx, "flow_completed", slog.Duration("duration", hc.Duration))
	}

	run, getErr := e.runs.get(id)
	if getErr != nil {
		return nil, errors.Join(err, getErr)
	}
	return run, err
}

// limiterFor returns the limiter gating node, or nil.
func (e *engineImpl) limiterFor(node api.ExecutableNode) (ratelimit.Acquirer, error) {
	if l := node.RateLimiter(); l != nil {
		return l, nil
	}
	id := node.SharedLimiterID()
	if id == "" {
		return nil, nil
	}
	if e.limiters != nil {
		if l, ok := e.limiters.Get(id); ok {
			return l, nil
		}
	}
	return nil, fmt.Errorf("node %q: %w: %s", node.Name(), api.ErrUnknownRateLimiter, id)
}
