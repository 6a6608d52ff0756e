package api

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/cascade/pkg/ratelimit"
)

// Activity is the typed unit of work wrapped by a Node.
type Activity[I, O any] func(ctx context.Context, in I) (O, error)

// ExecutableNode is the type-erased view of a Node the engine works with.
type ExecutableNode interface {
	Name() string

	// OutputKey is where the node's result is stored in FlowState.
	OutputKey() string

	// Execute resolves the node's input from state and runs its activity.
	Execute(ctx context.Context, run ActivityRunner, state *FlowState) (any, error)

	// Compensate runs the compensation node against snapshot. It is a no-op
	// when HasCompensation is false.
	Compensate(ctx context.Context, run ActivityRunner, snapshot *FlowState) error

	HasCompensation() bool

	// Compensation returns the compensation node, or nil.
	Compensation() ExecutableNode

	// RateLimiter returns the node's own limiter, or nil.
	RateLimiter() ratelimit.Acquirer

	// SharedLimiterID returns the ID of a registry limiter, or "".
	SharedLimiterID() string
}

// CursorAdvancer is implemented by node outputs that move cursors. The
// engine applies the returned positions right after storing the result.
type CursorAdvancer interface {
	CursorPositions() map[string]string
}

// CostReporter is implemented by node outputs that carry usage accounting.
type CostReporter interface {
	Cost() CostEntry
}

// Node wraps an activity with its input, timeout, retry, compensation and
// rate-limit configuration.
//
// Configure a node with the With* methods before adding it to a flow; do not
// modify it after the flow is built.
type Node[I, O any] struct {
	name         string
	activity     Activity[I, O]
	input        any
	inputFn      func(*FlowState) (I, error)
	timeout      time.Duration
	retry        *RetryPolicy
	outputKey    string
	compensation ExecutableNode
	limiter      ratelimit.Acquirer
	limiterID    string
}

var _ ExecutableNode = (*Node[any, any])(nil)

// NewNode creates a node named name running activity.
func NewNode[I, O any](name string, activity Activity[I, O]) *Node[I, O] {
	if name == "" {
		panic("cascade: node name must not be empty")
	}
	if activity == nil {
		panic(fmt.Sprintf("cascade: node %q has nil activity", name))
	}
	return &Node[I, O]{
		name:     name,
		activity: activity,
	}
}

// WithInput sets a static input. v is usually an I, but may embed OutputRef
// and CursorFor markers in interface-typed slots, or be a marker itself.
func (n *Node[I, O]) WithInput(v any) *Node[I, O] {
	n.input = v
	n.inputFn = nil
	return n
}

// WithInputFunc derives the input from FlowState at execution time.
func (n *Node[I, O]) WithInputFunc(fn func(*FlowState) (I, error)) *Node[I, O] {
	n.inputFn = fn
	n.input = nil
	return n
}

// WithTimeout bounds each activity attempt.
func (n *Node[I, O]) WithTimeout(d time.Duration) *Node[I, O] {
	n.timeout = d
	return n
}

// WithRetry overrides DefaultRetryPolicy.
func (n *Node[I, O]) WithRetry(p RetryPolicy) *Node[I, O] {
	r := p
	n.retry = &r
	return n
}

// WithOutputKey stores the result under key instead of the node name.
func (n *Node[I, O]) WithOutputKey(key string) *Node[I, O] {
	n.outputKey = key
	return n
}

// WithCompensation registers the node that undoes this one. It is run with
// the FlowState snapshot taken when this node completed.
func (n *Node[I, O]) WithCompensation(c ExecutableNode) *Node[I, O] {
	n.compensation = c
	return n
}

// WithRateLimiter gates the node on its own limiter.
func (n *Node[I, O]) WithRateLimiter(l ratelimit.Acquirer) *Node[I, O] {
	n.limiter = l
	return n
}

// WithSharedRateLimiter gates the node on the registry limiter id.
func (n *Node[I, O]) WithSharedRateLimiter(id string) *Node[I, O] {
	n.limiterID = id
	return n
}

func (n *Node[I, O]) Name() string { return n.name }

func (n *Node[I, O]) OutputKey() string {
	if n.outputKey != "" {
		return n.outputKey
	}
	return n.name
}

// Timeout returns the per-attempt timeout.
func (n *Node[I, O]) Timeout() time.Duration { return n.timeout }

// RetryPolicy returns the effective retry policy.
func (n *Node[I, O]) RetryPolicy() RetryPolicy {
	if n.retry != nil {
		return *n.retry
	}
	return DefaultRetryPolicy()
}

func (n *Node[I, O]) HasCompensation() bool { return n.compensation != nil }

func (n *Node[I, O]) Compensation() ExecutableNode { return n.compensation }

func (n *Node[I, O]) RateLimiter() ratelimit.Acquirer { return n.limiter }

func (n *Node[I, O]) SharedLimiterID() string { return n.limiterID }

func (n *Node[I, O]) Execute(ctx context.Context, run ActivityRunner, state *FlowState) (any, error) {
	in, err := n.ResolveInput(state)
	if err != nil {
		return nil, err
	}

	return run.ExecuteActivity(ctx, ActivityRequest{
		Name:    n.name,
		Timeout: n.timeout,
		Retry:   n.RetryPolicy(),
		Fn: func(ctx context.Context) (any, error) {
			out, err := n.activity(ctx, in)
			if err != nil {
				return nil, err
			}
			return out, nil
		},
	})
}

func (n *Node[I, O]) Compensate(ctx context.Context, run ActivityRunner, snapshot *FlowState) error {
	if n.compensation == nil {
		return nil
	}
	_, err := n.compensation.Execute(ctx, run, snapshot)
	return err
}

// ResolveInput computes the activity input: the input func if set, otherwise
// the static input with every marker replaced from state.
func (n *Node[I, O]) ResolveInput(state *FlowState) (I, error) {
	var zero I

	if n.inputFn != nil {
		in, err := n.inputFn(state)
		if err != nil {
			return zero, fmt.Errorf("node %q input: %w", n.name, err)
		}
		return in, nil
	}

	resolved, err := ResolveRefs(n.input, state)
	if err != nil {
		return zero, fmt.Errorf("node %q input: %w", n.name, err)
	}
	if resolved == nil {
		return zero, nil
	}

	in, ok := resolved.(I)
	if !ok {
		return zero, &TypeMismatchError{
			Key:  n.name + ".input",
			Want: typeName[I](),
			Got:  fmt.Sprintf("%T", resolved),
		}
	}
	return in, nil
}
