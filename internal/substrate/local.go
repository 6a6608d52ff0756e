// Package substrate provides an in-process implementation of the durable
// execution contract the engine runs on. It executes activities with
// per-attempt timeouts and retry backoff, delivers signals with buffering,
// and runs child flows inline.
//
// Nothing here survives a process restart; it exists so flows can be run
// and tested without an external cluster.
package substrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// ErrChildRunning is returned when a child with the same id is already in
// flight.
var ErrChildRunning = errors.New("child with this id is already running")

// Local is the in-process substrate.
type Local struct {
	now    func() time.Time
	logger *slog.Logger

	signals *signalBus

	mu       sync.Mutex
	children map[string]struct{}
}

var _ api.Substrate = (*Local)(nil)

// Option configures a Local substrate.
type Option func(*Local)

// WithClock overrides the substrate clock used by Now.
func WithClock(now func() time.Time) Option {
	return func(l *Local) { l.now = now }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Local) { l.logger = logger }
}

// NewLocal creates an in-process substrate.
func NewLocal(opts ...Option) *Local {
	l := &Local{
		now:      time.Now,
		logger:   slog.Default(),
		signals:  newSignalBus(),
		children: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) Now() time.Time { return l.now() }

// ExecuteActivity runs req.Fn until it succeeds, returns a non-retryable
// error, or the retry policy is exhausted. Final failures are wrapped in
// *api.ActivityError.
func (l *Local) ExecuteActivity(ctx context.Context, req api.ActivityRequest) (any, error) {
	policy := req.Retry

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := l.runAttempt(ctx, req)
		if err == nil {
			return out, nil
		}

		exhausted := !policy.Unlimited() && attempt >= policy.MaximumAttempts
		if exhausted || api.IsNonRetryable(err) || ctx.Err() != nil {
			return nil, &api.ActivityError{Activity: req.Name, Attempts: attempt, Err: err}
		}

		delay := policy.Delay(attempt)
		l.logger.DebugContext(ctx, "activity_retry",
			slog.String("activity", req.Name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &api.ActivityError{Activity: req.Name, Attempts: attempt, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

type attemptResult struct {
	out any
	err error
}

func (l *Local) runAttempt(ctx context.Context, req api.ActivityRequest) (any, error) {
	if req.Timeout <= 0 {
		return safeCall(ctx, req.Fn)
	}

	actx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		out, err := safeCall(actx, req.Fn)
		done <- attemptResult{out: out, err: err}
	}()

	timedOut := func() error {
		return fmt.Errorf("%w: %q after %s", api.ErrActivityTimeout, req.Name, req.Timeout)
	}

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, timedOut()
		}
		return r.out, r.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, timedOut()
	}
}

func safeCall(ctx context.Context, fn func(context.Context) (any, error)) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activity panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// AwaitSignal blocks until name is delivered to runID, the timeout elapses
// (ok=false), or ctx is done.
func (l *Local) AwaitSignal(ctx context.Context, runID, name string, timeout time.Duration) (any, bool, error) {
	return l.signals.await(ctx, runID, name, timeout)
}

// Signal delivers payload to the oldest waiter for (runID, name), or buffers
// it until someone waits.
func (l *Local) Signal(ctx context.Context, runID, name string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.signals.deliver(runID, name, payload)
	return nil
}

// Pending returns the number of buffered signals for (runID, name).
func (l *Local) Pending(runID, name string) int {
	return l.signals.pending(runID, name)
}

// Forget drops every buffered signal for runID.
func (l *Local) Forget(runID string) {
	l.signals.forget(runID)
}

// SpawnChild runs fn inline under id. Concurrent spawns with the same id are
// rejected.
func (l *Local) SpawnChild(ctx context.Context, id string, fn api.ChildFunc) (*api.FlowState, error) {
	l.mu.Lock()
	if _, running := l.children[id]; running {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrChildRunning, id)
	}
	l.children[id] = struct{}{}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.children, id)
		l.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn(ctx)
}
