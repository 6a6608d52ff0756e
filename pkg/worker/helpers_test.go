package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petrijr/cascade/internal/engine"
	"github.com/petrijr/cascade/internal/taskqueue"
	"github.com/petrijr/cascade/pkg/api"
)

func mustFlow(t *testing.T, def api.FlowDefinition) *api.Flow {
	t.Helper()
	if len(def.Triggers) == 0 {
		def.Triggers = []api.Trigger{api.Manual()}
	}
	f, err := api.NewFlow(def)
	if err != nil {
		t.Fatalf("NewFlow(%s): %v", def.Name, err)
	}
	return f
}

func okFlow(t *testing.T, name string, calls *atomic.Int32) *api.Flow {
	return mustFlow(t, api.FlowDefinition{
		Name: name,
		Steps: []api.Step{api.SequentialStep{Node: api.NewNode("work", func(ctx context.Context, _ any) (string, error) {
			calls.Add(1)
			return "done", nil
		})}},
	})
}

func gateFlow(t *testing.T, name string) *api.Flow {
	return mustFlow(t, api.FlowDefinition{
		Name: name,
		Steps: []api.Step{api.GateStep{
			Name:   "approval",
			Config: api.GateConfig{SignalName: "approve", Timeout: 2 * time.Second, FailOnReject: true},
		}},
	})
}

func newEngine() api.Engine {
	return engine.NewInMemoryEngine()
}

func waitForRun(t *testing.T, eng api.Engine, id string, status api.Status) *api.Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if run, err := eng.GetRun(context.Background(), id); err == nil && run.Status == status {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached %s", id, status)
	return nil
}

// blockingEngine blocks in Start until released.
type blockingEngine struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (e *blockingEngine) Register(*api.Flow) error { return nil }

func (e *blockingEngine) Execute(ctx context.Context, flow *api.Flow, input api.Input, opts ...api.RunOption) (*api.FlowState, error) {
	panic("should not be called")
}

func (e *blockingEngine) Start(ctx context.Context, name string, input api.Input, opts ...api.RunOption) (*api.Run, error) {
	// Indicate the engine call is in-flight.
	select {
	case <-e.started:
	default:
		close(e.started)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.release:
		return &api.Run{ID: api.ApplyRunOptions(opts...).RunID, Status: api.StatusCompleted}, nil
	}
}

func (e *blockingEngine) Signal(ctx context.Context, runID, name string, payload any) error {
	return nil
}

func (e *blockingEngine) GetRun(ctx context.Context, id string) (*api.Run, error) {
	panic("should not be called")
}

func (e *blockingEngine) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.Run, error) {
	panic("should not be called")
}

type countingQueue struct {
	taskqueue.Queue
	renews atomic.Int64
}

func (q *countingQueue) Renew(ctx context.Context, id, owner string, lease time.Duration) error {
	q.renews.Add(1)
	return q.Queue.Renew(ctx, id, owner, lease)
}
