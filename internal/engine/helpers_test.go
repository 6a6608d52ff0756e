package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// recorder collects an ordered event log from concurrently running nodes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func assertEvents(t *testing.T, got []string, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func mustFlow(t *testing.T, name string, steps ...api.Step) *api.Flow {
	t.Helper()
	f, err := api.NewFlow(api.FlowDefinition{
		Name:     name,
		Triggers: []api.Trigger{api.Manual()},
		Steps:    steps,
	})
	if err != nil {
		t.Fatalf("NewFlow(%s): %v", name, err)
	}
	return f
}

func mustFlowDef(t *testing.T, def api.FlowDefinition) *api.Flow {
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

func seq(n api.ExecutableNode) api.Step { return api.SequentialStep{Node: n} }

// okNode records its name and returns it as output.
func okNode(rec *recorder, name string) *api.Node[any, string] {
	return api.NewNode(name, func(ctx context.Context, _ any) (string, error) {
		rec.add(name)
		return name, nil
	}).WithRetry(api.NoRetry())
}

// failNode records its name and fails with err.
func failNode(rec *recorder, name string, err error) *api.Node[any, string] {
	return api.NewNode(name, func(ctx context.Context, _ any) (string, error) {
		rec.add(name)
		return "", err
	}).WithRetry(api.NoRetry())
}

// sleepNode waits d, then records and returns (or fails with err).
func sleepNode(rec *recorder, name string, d time.Duration, err error) *api.Node[any, string] {
	return api.NewNode(name, func(ctx context.Context, _ any) (string, error) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			rec.add(name + ":cancelled")
			return "", ctx.Err()
		}
		rec.add(name)
		if err != nil {
			return "", err
		}
		return name, nil
	}).WithRetry(api.NoRetry())
}

// undoNode is a compensation that records "undo:<name>".
func undoNode(rec *recorder, name string) *api.Node[any, struct{}] {
	return api.NewNode("undo-"+name, func(ctx context.Context, _ any) (struct{}, error) {
		rec.add("undo:" + name)
		return struct{}{}, nil
	}).WithRetry(api.NoRetry())
}

func newTestEngine() *engineImpl {
	return newEngine(Config{})
}

// waitForStatus polls the run store until id reaches status.
func waitForStatus(t *testing.T, e *engineImpl, id string, status api.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if run, err := e.runs.get(id); err == nil && run.Status == status {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", id, status)
}
