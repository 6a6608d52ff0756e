// Package cascade provides a saga-aware flow execution engine for Go.
//
// A flow is a named sequence of steps built from typed nodes. The engine
// walks the steps on an in-process durable-execution substrate that
// retries and times out activities, delivers signals and spawns child runs.
// When a step fails, the nodes that already completed are compensated in
// reverse order.
//
// # Core Concepts
//
//  1. Node: a typed activity func(ctx, I) (O, error) with input, timeout,
//     retry policy, output key, compensation and rate limiter.
//  2. Step: sequential, parallel, gate, child spawn or conditional.
//  3. FlowBuilder: fluent construction and validation of a Flow.
//  4. Engine: registers, executes and signals runs.
//  5. LocalRunner: engine plus task queue plus worker goroutines.
//
// # Nodes
//
//	reserve := cascade.NewNode("reserve", reserveStock).
//	    WithInput(ReserveRequest{SKU: "A-1", Qty: 2}).
//	    WithRetry(cascade.Retry(3).WithExponentialBackoff(100*time.Millisecond, 2, time.Second).Policy()).
//	    WithCompensation(cascade.NewNode("release", releaseStock).
//	        WithInput(cascade.OutputRef("reserve")))
//
// Static inputs may contain OutputRef and CursorFor markers anywhere in
// their structure. They are replaced with the referenced result or cursor
// position right before the node runs.
//
// # Flows
//
//	flow, err := cascade.New("checkout").
//	    Trigger(cascade.Manual()).
//	    Then(reserve).
//	    Parallel("notify", email, sms).
//	    Gate("approval", cascade.GateConfig{SignalName: "approve", Timeout: time.Hour}).
//	    If("large", isLarge, cascade.Steps().Then(review), nil).
//	    Then(charge).
//	    Build()
//
// A flow has exactly one trigger. Schedule triggers take a five-field cron
// expression; LocalRunner.ScheduleNext enqueues the next fire.
//
// # Saga compensation
//
// Every node with a compensation pushes a record holding a snapshot of the
// flow state when it completes. On failure the records are popped last
// first and each compensation runs with its own retry policy against its
// snapshot. Compensation failures are logged and reported on the Run; they
// never replace the original error.
//
// # Gates and signals
//
// A gate suspends the run (status WAITING) until its signal arrives or its
// timeout expires. The payload is a GateResult. Signals sent before the run
// reaches the gate are buffered.
//
// # Child flows
//
// A child spawn step maps the parent state to N inputs and runs the child
// flow once per input, sequentially or concurrently. Each child is a full
// run with its own state, compensation stack and cursors under the run ID
// "<parent>/<step>-child-<i>".
//
// # Cursors
//
// Flows built with FlowBuilder.State load their cursors from a StateBackend
// at start and save them after a successful run. Backends: memory, files,
// Redis, SQLite, PostgreSQL and MongoDB.
//
// # Hooks
//
// Hooks observe flow, step and node transitions and node cost. Package
// hooks ships slog logging, in-memory counters, Prometheus collectors and
// OpenTelemetry spans.
//
// # Configuration
//
// NewLocalRunnerFromConfig wires a runner from a YAML file with CASCADE_*
// environment overrides (see internal/config).
package cascade
