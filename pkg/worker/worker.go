package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/cascade/internal/taskqueue"
	"github.com/petrijr/cascade/pkg/api"
)

// ErrNotScheduled is returned by EnqueueScheduled for flows without a
// schedule trigger.
var ErrNotScheduled = errors.New("flow has no schedule trigger")

// Config controls task delivery.
type Config struct {
	// MaxAttempts bounds deliveries of a task whose handler failed before a
	// run executed (unknown flow, run not found yet). Defaults to 1.
	MaxAttempts int

	// Backoff is the delay before the second attempt; it doubles per
	// attempt after that.
	Backoff time.Duration

	// WorkerID identifies this worker as lease owner. Defaults to a UUID.
	WorkerID string

	// LeaseTTL is how long a dequeued task stays invisible to other
	// workers. Defaults to 30s.
	LeaseTTL time.Duration

	// HeartbeatInterval is how often the lease is renewed while a task is
	// processed. Defaults to LeaseTTL/3.
	HeartbeatInterval time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.LeaseTTL / 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Worker pulls tasks from a Queue and executes them using an Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	cfg    Config
	now    func() time.Time

	// parked tracks flow runs started by this worker.
	parked sync.WaitGroup
}

// New creates a new Worker with default configuration.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a new Worker.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	return &Worker{
		engine: engine,
		queue:  queue,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// ID returns the lease owner name of this worker.
func (w *Worker) ID() string { return w.cfg.WorkerID }

// EnqueueStart enqueues a task to start a registered flow and returns the
// run ID the run will have. It does NOT run the flow itself; that is done by
// ProcessOne.
func (w *Worker) EnqueueStart(ctx context.Context, flowName string, input api.Input, opts ...api.RunOption) (string, error) {
	return w.EnqueueStartAt(ctx, flowName, input, time.Time{}, opts...)
}

// EnqueueStartAt enqueues a start task that becomes eligible at 'at'.
func (w *Worker) EnqueueStartAt(ctx context.Context, flowName string, input api.Input, at time.Time, opts ...api.RunOption) (string, error) {
	ro := api.ApplyRunOptions(opts...)
	if ro.RunID == "" {
		ro.RunID = uuid.NewString()
	}
	err := w.queue.Enqueue(ctx, taskqueue.Task{
		Type:       taskqueue.TaskTypeStartFlow,
		FlowName:   flowName,
		RunID:      ro.RunID,
		Input:      input,
		EnqueuedAt: w.now(),
		NotBefore:  at,
	})
	if err != nil {
		return "", err
	}
	return ro.RunID, nil
}

// EnqueueScheduled enqueues a start of flow at the first time its schedule
// trigger fires after 'after'.
func (w *Worker) EnqueueScheduled(ctx context.Context, flow *api.Flow, input api.Input, after time.Time) (string, time.Time, error) {
	next, ok := flow.Trigger().Next(after)
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrNotScheduled, flow.Name())
	}
	runID, err := w.EnqueueStartAt(ctx, flow.Name(), input, next)
	if err != nil {
		return "", time.Time{}, err
	}
	return runID, next, nil
}

// EnqueueSignal enqueues a task to deliver a signal to a run. The signal
// will be processed asynchronously by ProcessOne.
func (w *Worker) EnqueueSignal(ctx context.Context, runID, name string, payload any) error {
	return w.EnqueueSignalAt(ctx, runID, name, payload, time.Time{})
}

// EnqueueSignalAt enqueues a signal task that will be delivered to the
// target run no earlier than 'at'.
func (w *Worker) EnqueueSignalAt(ctx context.Context, runID, name string, payload any, at time.Time) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		Type:       taskqueue.TaskTypeSignal,
		RunID:      runID,
		SignalName: name,
		Payload:    payload,
		EnqueuedAt: w.now(),
		NotBefore:  at,
	})
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx cancelled or dequeue failed)
//   - processed == true: a task was handled; err is the handler's result.
//
// A task is acknowledged unless it failed retryably and attempts remain, in
// which case it is returned to the queue with backoff.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx, w.cfg.WorkerID, w.cfg.LeaseTTL)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	logger := w.cfg.Logger.With(
		slog.String("worker", w.cfg.WorkerID),
		slog.String("task_id", task.ID),
		slog.String("task_type", string(task.Type)),
		slog.String("run_id", task.RunID),
	)

	stop := w.heartbeat(ctx, logger, task.ID)
	retry, handleErr := w.handle(ctx, task)
	stop()

	// Settling the lease must not depend on the caller's context.
	settleCtx := context.WithoutCancel(ctx)
	attempt := task.Attempts + 1
	if handleErr != nil && retry && attempt < w.cfg.MaxAttempts {
		retryAt := w.now().Add(w.backoff(attempt))
		logger.WarnContext(ctx, "task_retry",
			slog.Int("attempt", attempt),
			slog.Time("retry_at", retryAt),
			slog.String("error", handleErr.Error()),
		)
		if err := w.queue.Nack(settleCtx, task.ID, w.cfg.WorkerID, retryAt, handleErr); err != nil {
			return true, errors.Join(handleErr, err)
		}
		return true, handleErr
	}

	if handleErr != nil {
		logger.ErrorContext(ctx, "task_failed",
			slog.Int("attempt", attempt),
			slog.String("error", handleErr.Error()),
		)
	}
	if err := w.queue.Ack(settleCtx, task.ID, w.cfg.WorkerID); err != nil {
		return true, errors.Join(handleErr, err)
	}
	return true, handleErr
}

// handle dispatches a task. retry reports whether a failure happened before
// any run executed and may succeed later.
func (w *Worker) handle(ctx context.Context, task *taskqueue.Task) (retry bool, err error) {
	switch task.Type {
	case taskqueue.TaskTypeStartFlow:
		return w.start(ctx, task)

	case taskqueue.TaskTypeSignal:
		err := w.engine.Signal(ctx, task.RunID, task.SignalName, task.Payload)
		// The start task may not have been processed yet.
		return errors.Is(err, api.ErrRunNotFound), err

	default:
		// Unknown task type; mark as processed but return an error so this isn't silently ignored.
		return false, errors.New("unknown task type: " + string(task.Type))
	}
}

type startResult struct {
	run *api.Run
	err error
}

// start runs the task's flow until it finishes or first waits at a gate.
// A waiting run is released from the task: the task is acknowledged and the
// run continues in the background so this worker can deliver its signals.
func (w *Worker) start(ctx context.Context, task *taskqueue.Task) (retry bool, err error) {
	waiting := make(chan struct{})
	var once sync.Once
	notify := func(string) { once.Do(func() { close(waiting) }) }

	logger := w.cfg.Logger.With(
		slog.String("worker", w.cfg.WorkerID),
		slog.String("flow", task.FlowName),
		slog.String("run_id", task.RunID),
	)

	done := make(chan startResult)
	released := make(chan struct{})
	w.parked.Add(1)
	go func() {
		defer w.parked.Done()
		run, err := w.engine.Start(ctx, task.FlowName, task.Input,
			api.WithRunID(task.RunID), api.WithWaitNotifier(notify))
		select {
		case done <- startResult{run: run, err: err}:
		case <-released:
			if err != nil {
				logger.ErrorContext(ctx, "run_failed", slog.String("error", err.Error()))
				return
			}
			logger.DebugContext(ctx, "run_completed")
		}
	}()

	select {
	case res := <-done:
		// A run that executed already rolled back; running it again is not
		// the worker's call.
		return res.run == nil && res.err != nil, res.err
	case <-waiting:
		close(released)
		logger.DebugContext(ctx, "run_waiting")
		return false, nil
	}
}

// Wait blocks until every run released from its start task has finished.
// Cancelling the context passed to Run or ProcessOne cancels those runs.
func (w *Worker) Wait() {
	w.parked.Wait()
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// heartbeat renews the task lease until the returned stop func is called.
func (w *Worker) heartbeat(ctx context.Context, logger *slog.Logger, taskID string) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Renew(hbCtx, taskID, w.cfg.WorkerID, w.cfg.LeaseTTL); err != nil && hbCtx.Err() == nil {
					logger.WarnContext(hbCtx, "lease_renew_failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Run processes tasks until ctx is done. Handler errors are logged and do
// not stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		processed, err := w.ProcessOne(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !processed && err != nil {
			w.cfg.Logger.ErrorContext(ctx, "dequeue_failed", slog.String("error", err.Error()))
			// Avoid spinning on a broken queue.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}
