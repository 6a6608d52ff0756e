package cascade

import (
	"context"
	"log/slog"

	"github.com/petrijr/cascade/internal/engine"
	"github.com/petrijr/cascade/pkg/api"
	"github.com/petrijr/cascade/pkg/ratelimit"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine           = api.Engine
	Flow             = api.Flow
	FlowState        = api.FlowState
	Input            = api.Input
	Cursor           = api.Cursor
	Run              = api.Run
	RunFilter        = api.RunFilter
	RunOption        = api.RunOption
	Status           = api.Status
	Step             = api.Step
	ExecutableNode   = api.ExecutableNode
	Predicate        = api.Predicate
	Trigger          = api.Trigger
	RetryPolicy      = api.RetryPolicy
	GateConfig       = api.GateConfig
	GateResult       = api.GateResult
	ChildFlowConfig  = api.ChildFlowConfig
	ChildFlowResults = api.ChildFlowResults
	Hooks            = api.Hooks
	HookContext      = api.HookContext
	CostEntry        = api.CostEntry
	StateBackend     = api.StateBackend
	PersistedState   = api.PersistedState
)

// Re-export common helpers.

var (
	Manual             = api.Manual
	Schedule           = api.Schedule
	OnSignal           = api.OnSignal
	Webhook            = api.Webhook
	WithRunID          = api.WithRunID
	OutputRef          = api.OutputRef
	CursorFor          = api.CursorFor
	MergeHooks         = api.MergeHooks
	NonRetryable       = api.NonRetryable
	IsNonRetryable     = api.IsNonRetryable
	DefaultRetryPolicy = api.DefaultRetryPolicy
	NoRetry            = api.NoRetry
)

// Re-export status values for convenience.

const (
	StatusRunning   = api.StatusRunning
	StatusWaiting   = api.StatusWaiting
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
)

// NewNode wraps a typed activity into a node. See api.NewNode.
func NewNode[I, O any](name string, activity func(context.Context, I) (O, error)) *api.Node[I, O] {
	return api.NewNode(name, api.Activity[I, O](activity))
}

// Get reads a typed result from state. See api.Get.
func Get[T any](s *FlowState, key string) (T, error) {
	return api.Get[T](s, key)
}

// Option configures engines and local runners.
type Option func(*options)

type options struct {
	hooks    []api.Hooks
	limiters *ratelimit.Registry
	logger   *slog.Logger
	newID    func() string
	runner   runnerOptions
}

func applyOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func (o options) engineConfig() engine.Config {
	return engine.Config{
		Limiters: o.limiters,
		Hooks:    api.MergeHooks(o.hooks...),
		Logger:   o.logger,
		NewID:    o.newID,
	}
}

// WithHooks adds engine-level hooks. They fire for every flow, before the
// flow's own hooks. Repeated calls accumulate.
func WithHooks(hs ...api.Hooks) Option {
	return func(o *options) { o.hooks = append(o.hooks, hs...) }
}

// WithLimiters sets the registry shared rate limiter IDs resolve against.
func WithLimiters(reg *ratelimit.Registry) Option {
	return func(o *options) { o.limiters = reg }
}

// WithLogger sets the logger used by the engine and workers.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithIDGenerator replaces the UUID run ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// NewEngine returns an engine on the in-process substrate.
func NewEngine(opts ...Option) Engine {
	return engine.NewEngineWithConfig(applyOptions(opts).engineConfig())
}

// NewInMemoryEngine returns an engine with no shared limiters or hooks.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// Convenience helpers that just forward to the underlying Engine.

// Execute runs flow synchronously and returns its final state.
func Execute(ctx context.Context, eng Engine, flow *Flow, input Input, opts ...RunOption) (*FlowState, error) {
	return eng.Execute(ctx, flow, input, opts...)
}

// Signal delivers a signal to a run.
func Signal(ctx context.Context, eng Engine, runID, name string, payload any) error {
	return eng.Signal(ctx, runID, name, payload)
}

// ListRuns lists runs matching filter.
func ListRuns(ctx context.Context, eng Engine, filter RunFilter) ([]*Run, error) {
	return eng.ListRuns(ctx, filter)
}
