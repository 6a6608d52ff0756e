// Package api contains the core building blocks used by the cascade flow
// engine: the flow and step model, typed nodes, the run-scoped FlowState,
// and the contracts the engine consumes (Substrate, StateBackend) and
// exposes (Hooks).
//
// Most users interact with the higher-level cascade package, which
// re-exports selected types and provides the FlowBuilder. The api package is
// intended for custom substrates, custom state backends, and contributors
// extending the engine itself.
//
// # Flows and Steps
//
// A Flow is an ordered list of Steps plus one Trigger and an optional
// StateConfig. Flows are validated when built and immutable afterwards.
//
// The set of Step variants is closed:
//
//   - SequentialStep runs one node.
//   - ParallelStep runs several nodes concurrently against the same state.
//   - GateStep suspends the run until a signal (or timeout) resolves it.
//   - ChildSpawnStep fans out into nested flow runs.
//   - ConditionalStep picks a branch with a side-effect free predicate.
//
// # Nodes
//
// A Node wraps a typed Activity with its input, per-attempt timeout, retry
// policy, optional compensation node and optional rate limiter. Static
// inputs may embed OutputRef and CursorFor markers in interface-typed
// slots; they are replaced from FlowState right before the activity runs.
//
// # State
//
// FlowState holds the trigger input, node results and cursors behind a
// single lock. Use Get to read a typed result. Snapshot produces the deep
// copy a compensation node later runs against.
//
// # Hooks
//
// Hooks are synchronous, in-process callbacks fired around flows, steps and
// nodes. They must not perform I/O; see the hooks package for logging,
// metrics and tracing implementations.
package api
