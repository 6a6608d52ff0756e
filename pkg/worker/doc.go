// Package worker drives cascade flows from a task queue.
//
// Workers consume tasks from a taskqueue.Queue and dispatch them to an
// api.Engine:
//
//   - start-flow tasks call Engine.Start with a run ID chosen at enqueue
//     time, so callers can signal the run before it begins
//   - signal tasks call Engine.Signal
//
// Tasks become eligible at their NotBefore time, which is how delayed and
// schedule-triggered starts (EnqueueScheduled) are expressed.
//
// # Leases
//
// A dequeued task is leased to the worker for Config.LeaseTTL and renewed
// every Config.HeartbeatInterval while its handler runs, so heartbeats keep
// long runs from being redelivered to another worker. If a worker dies, its
// lease expires and the task is delivered again.
//
// A start-flow task holds the worker until the run finishes or first waits
// at a gate, its own or a child run's. A waiting run is released: its task
// is acknowledged and the run goes on in the background, leaving the worker
// free to deliver the signal that resolves the gate. Worker.Wait blocks
// until released runs are done.
//
// # Retries
//
// Node retries and Saga compensation happen inside the engine. The worker
// only retries deliveries that failed before a run executed: a start for a
// flow that is not registered yet, or a signal for a run that does not
// exist yet. Those are returned to the queue with exponential backoff until
// Config.MaxAttempts deliveries were made.
//
// Several workers can share one queue; LocalRunner in the root package runs
// a pool of them in-process.
package worker
