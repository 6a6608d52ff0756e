package api

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoSteps is returned when building a flow without steps.
	ErrNoSteps = errors.New("flow must have at least one step")

	// ErrNoTrigger is returned when building a flow without a trigger.
	ErrNoTrigger = errors.New("flow must have exactly one trigger")

	// ErrMultipleTriggers is returned when a flow declares more than one trigger.
	ErrMultipleTriggers = errors.New("flow declares more than one trigger")

	// ErrDuplicateStep is returned when two steps in a flow share a name.
	ErrDuplicateStep = errors.New("duplicate step name")

	// ErrResultNotFound is returned by Get when no result exists for a key.
	ErrResultNotFound = errors.New("result not found")

	// ErrStateNotFound is returned by a StateBackend when nothing was persisted
	// for a (runID, flowName) pair.
	ErrStateNotFound = errors.New("persisted state not found")

	// ErrUnknownFlow is returned when starting a flow that was never registered.
	ErrUnknownFlow = errors.New("unknown flow")

	// ErrRunNotFound is returned when looking up a run that does not exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunNotWaiting is returned when signalling a run that is not suspended
	// at a gate and cannot buffer signals.
	ErrRunNotWaiting = errors.New("run is not accepting signals")

	// ErrUnknownRateLimiter is returned when a node references a shared
	// limiter ID that is not in the engine's registry.
	ErrUnknownRateLimiter = errors.New("unknown shared rate limiter")

	// ErrActivityTimeout is returned when a single activity attempt exceeds
	// its timeout.
	ErrActivityTimeout = errors.New("activity timed out")

	// ErrChildNotStarted marks children that were never launched because a
	// sequential sibling failed first.
	ErrChildNotStarted = errors.New("child flow not started")
)

// TypeMismatchError is returned when a stored value does not have the type
// the caller asked for.
type TypeMismatchError struct {
	Key  string
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch for %q: want %s, got %s", e.Key, e.Want, e.Got)
}

// NodeError wraps a failure of a single node with its step context.
type NodeError struct {
	Step string
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	if e.Step == "" || e.Step == e.Node {
		return fmt.Sprintf("node %q failed: %v", e.Node, e.Err)
	}
	return fmt.Sprintf("step %q: node %q failed: %v", e.Step, e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// ActivityError reports the final failure of an activity after retries.
type ActivityError struct {
	Activity string
	Attempts int
	Err      error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %q failed after %d attempt(s): %v", e.Activity, e.Attempts, e.Err)
}

func (e *ActivityError) Unwrap() error { return e.Err }

// GateTimeoutError is raised when no signal resolves a gate in time.
type GateTimeoutError struct {
	Gate    string
	Timeout time.Duration
}

func (e *GateTimeoutError) Error() string {
	return fmt.Sprintf("gate %q timed out after %s", e.Gate, e.Timeout)
}

// GateRejectedError is raised by gates configured with FailOnReject when the
// received decision is not approved.
type GateRejectedError struct {
	Gate   string
	Result GateResult
}

func (e *GateRejectedError) Error() string {
	msg := fmt.Sprintf("gate %q rejected", e.Gate)
	if e.Result.DecidedBy != "" {
		msg += " by " + e.Result.DecidedBy
	}
	if e.Result.Reason != "" {
		msg += ": " + e.Result.Reason
	}
	return msg
}

// ChildFlowError reports the first failing child of a spawn step.
type ChildFlowError struct {
	Step  string
	Index int
	Err   error
}

func (e *ChildFlowError) Error() string {
	return fmt.Sprintf("step %q: child %d failed: %v", e.Step, e.Index, e.Err)
}

func (e *ChildFlowError) Unwrap() error { return e.Err }

// CompensationError records a failed compensation. These are logged and
// collected on the run; they never replace the error that caused rollback.
type CompensationError struct {
	Node string
	Err  error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation for node %q failed: %v", e.Node, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err so that the remaining retry attempts are skipped.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err, or anything it wraps, was marked with
// NonRetryable.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr)
}
