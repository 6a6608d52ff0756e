package api

import (
	"context"
	"time"
)

// ActivityRequest describes one activity invocation handed to the substrate.
type ActivityRequest struct {
	// Name identifies the activity in errors and logs (the node name).
	Name string

	// Timeout bounds each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration

	Retry RetryPolicy

	// Fn performs the work. It must honour ctx cancellation.
	Fn func(ctx context.Context) (any, error)
}

// ActivityRunner executes activities with timeout and retry semantics.
type ActivityRunner interface {
	ExecuteActivity(ctx context.Context, req ActivityRequest) (any, error)
}

// ChildFunc runs a nested flow and returns its final state.
type ChildFunc func(ctx context.Context) (*FlowState, error)

// Substrate is the narrow contract the engine consumes from the durable
// execution runtime. The engine never reads the wall clock or blocks on its
// own; it only suspends inside these calls.
type Substrate interface {
	ActivityRunner

	// AwaitSignal suspends until a signal named name is delivered to runID,
	// racing a timer when timeout > 0. ok is false when the timer won.
	AwaitSignal(ctx context.Context, runID, name string, timeout time.Duration) (payload any, ok bool, err error)

	// Signal delivers payload to runID. Signals that arrive before anyone
	// waits are buffered.
	Signal(ctx context.Context, runID, name string, payload any) error

	// SpawnChild runs a child flow under a deterministic id.
	SpawnChild(ctx context.Context, id string, fn ChildFunc) (*FlowState, error)

	// Now is the substrate's notion of the current time.
	Now() time.Time
}
