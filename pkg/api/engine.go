package api

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusWaiting   Status = "WAITING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Run is the observable record of one flow execution.
type Run struct {
	ID       string
	FlowName string
	Status   Status

	// ParentID is set for child runs.
	ParentID string

	// CurrentStep is the name of the step being executed, or the step that
	// failed. It is empty after successful completion.
	CurrentStep string

	State *FlowState
	Err   error

	// Compensated lists compensation nodes in the order they were run.
	Compensated []string

	// CompensationErrors holds failures during rollback. They never replace
	// Err.
	CompensationErrors []error

	StartedAt  time.Time
	FinishedAt time.Time
}

// RunFilter controls ListRuns. Zero values mean "no filter" for that field.
type RunFilter struct {
	FlowName string
	Status   Status
	ParentID string
}

// Match reports whether r passes the filter.
func (f RunFilter) Match(r *Run) bool {
	if f.FlowName != "" && r.FlowName != f.FlowName {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.ParentID != "" && r.ParentID != f.ParentID {
		return false
	}
	return true
}

// RunOptions are the resolved per-run settings.
type RunOptions struct {
	RunID    string
	ParentID string

	// OnWait is called each time the run, or one of its child runs, starts
	// waiting at a gate.
	OnWait func(runID string)
}

// RunOption customizes a single Execute or Start.
type RunOption func(*RunOptions)

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *RunOptions) { o.RunID = id }
}

// WithParentID marks the run as a child of parent.
func WithParentID(parent string) RunOption {
	return func(o *RunOptions) { o.ParentID = parent }
}

// WithWaitNotifier sets RunOptions.OnWait. fn must not block.
func WithWaitNotifier(fn func(runID string)) RunOption {
	return func(o *RunOptions) { o.OnWait = fn }
}

// ApplyRunOptions resolves opts into RunOptions.
func ApplyRunOptions(opts ...RunOption) RunOptions {
	var o RunOptions
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// Engine executes flows.
type Engine interface {
	// Register makes a flow available to Start by name.
	Register(flow *Flow) error

	// Execute runs flow to completion and returns the final state. On
	// failure the returned error is the original step error, after rollback.
	Execute(ctx context.Context, flow *Flow, input Input, opts ...RunOption) (*FlowState, error)

	// Start runs a registered flow to completion and returns its Run.
	Start(ctx context.Context, name string, input Input, opts ...RunOption) (*Run, error)

	// Signal delivers a named signal to a run. Signals sent before the run
	// reaches the matching gate are buffered.
	Signal(ctx context.Context, runID, name string, payload any) error

	// GetRun looks up a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs matching the filter.
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
}
