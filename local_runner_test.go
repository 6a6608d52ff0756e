package cascade

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/petrijr/cascade/internal/config"
	"github.com/petrijr/cascade/pkg/api"
)

type inbox map[string]string

func (p inbox) CursorPositions() map[string]string { return p }

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func greetFlow(t *testing.T, eng Engine) *Flow {
	t.Helper()
	greet := NewNode("greet", func(ctx context.Context, name string) (string, error) {
		return "hello, " + name, nil
	}).WithInputFunc(func(s *FlowState) (string, error) {
		v, _ := s.Input("name")
		return string(v), nil
	}).WithRetry(NoRetry())

	return New("greeting").Trigger(Manual()).Then(greet).MustRegister(eng)
}

// TestLocalRunner_SyncAndAsync verifies that LocalRunner can run flows both
// synchronously through its engine and asynchronously via the queue.
func TestLocalRunner_SyncAndAsync(t *testing.T) {
	runner := NewLocalRunner()
	flow := greetFlow(t, runner.Engine)
	ctx := context.Background()

	state, err := runner.Engine.Execute(ctx, flow, Input{"name": []byte("sync")})
	if err != nil {
		t.Fatalf("sync Execute failed: %v", err)
	}
	if out, _ := Get[string](state, "greet"); out != "hello, sync" {
		t.Fatalf("unexpected sync output %q", out)
	}

	if err := runner.StartWorkers(ctx, 2); err != nil {
		t.Fatalf("StartWorkers failed: %v", err)
	}
	defer runner.Stop()

	if err := runner.StartWorkers(ctx, 1); err == nil {
		t.Fatalf("expected error when starting workers twice")
	}

	runID, err := runner.StartAsync(ctx, flow.Name(), Input{"name": []byte("async")})
	if err != nil {
		t.Fatalf("StartAsync failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	run, err := runner.WaitRun(waitCtx, runID)
	if err != nil {
		t.Fatalf("WaitRun: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("expected %s, got %s (%v)", StatusCompleted, run.Status, run.Err)
	}
	if out, _ := Get[string](run.State, "greet"); out != "hello, async" {
		t.Fatalf("unexpected async output %q", out)
	}
}

func TestLocalRunner_SignalAsyncResolvesGate(t *testing.T) {
	runner := NewLocalRunner()
	flow := New("approval").
		Trigger(Manual()).
		Gate("review", GateConfig{SignalName: "approve", Timeout: 2 * time.Second, FailOnReject: true}).
		MustRegister(runner.Engine)

	ctx := context.Background()
	if err := runner.StartWorkers(ctx, 0); err != nil {
		t.Fatalf("StartWorkers: %v", err)
	}
	defer runner.Stop()

	runID, err := runner.StartAsync(ctx, flow.Name(), nil, WithRunID("approval-1"))
	if err != nil || runID != "approval-1" {
		t.Fatalf("StartAsync = %q, %v", runID, err)
	}
	if err := runner.SignalAsync(ctx, runID, "approve", GateResult{Approved: true, DecidedBy: "ops"}); err != nil {
		t.Fatalf("SignalAsync: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	run, err := runner.WaitRun(waitCtx, runID)
	if err != nil {
		t.Fatalf("WaitRun: %v", err)
	}
	if run.Status != StatusCompleted {
		t.Fatalf("expected completed run, got %s (%v)", run.Status, run.Err)
	}
	gr, err := Get[GateResult](run.State, "review")
	if err != nil || gr.DecidedBy != "ops" {
		t.Fatalf("gate result = %+v, %v", gr, err)
	}
}

func TestLocalRunner_WaitingRunsDoNotHoldWorker(t *testing.T) {
	runner := NewLocalRunner(WithConcurrency(1))
	flow := New("untimed-approval").
		Trigger(Manual()).
		Gate("review", GateConfig{SignalName: "approve"}).
		MustRegister(runner.Engine)

	ctx := context.Background()
	if err := runner.StartWorkers(ctx, 0); err != nil {
		t.Fatalf("StartWorkers: %v", err)
	}
	defer runner.Stop()

	ids := []string{"req-1", "req-2", "req-3"}
	for _, id := range ids {
		if _, err := runner.StartAsync(ctx, flow.Name(), nil, WithRunID(id)); err != nil {
			t.Fatalf("StartAsync(%s): %v", id, err)
		}
	}
	eventually(t, func() bool {
		runs, _ := runner.Engine.ListRuns(ctx, RunFilter{Status: StatusWaiting})
		return len(runs) == len(ids)
	})

	for _, id := range ids {
		if err := runner.SignalAsync(ctx, id, "approve", GateResult{Approved: true}); err != nil {
			t.Fatalf("SignalAsync(%s): %v", id, err)
		}
	}
	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	for _, id := range ids {
		run, err := runner.WaitRun(waitCtx, id)
		if err != nil {
			t.Fatalf("WaitRun(%s): %v", id, err)
		}
		if run.Status != StatusCompleted {
			t.Fatalf("%s: expected completed run, got %s (%v)", id, run.Status, run.Err)
		}
	}
}

func TestLocalRunner_StopCancelsWaitingRuns(t *testing.T) {
	runner := NewLocalRunner()
	var undone []string
	hold := NewNode("hold", func(ctx context.Context, _ any) (string, error) {
		return "held", nil
	}).WithCompensation(NewNode("release", func(ctx context.Context, _ any) (struct{}, error) {
		undone = append(undone, "release")
		return struct{}{}, nil
	}))
	flow := New("parked").
		Trigger(Manual()).
		Then(hold).
		Gate("review", GateConfig{SignalName: "approve"}).
		MustRegister(runner.Engine)

	ctx := context.Background()
	if err := runner.StartWorkers(ctx, 0); err != nil {
		t.Fatalf("StartWorkers: %v", err)
	}
	if _, err := runner.StartAsync(ctx, flow.Name(), nil, WithRunID("parked-1")); err != nil {
		t.Fatalf("StartAsync: %v", err)
	}
	eventually(t, func() bool {
		run, err := runner.Engine.GetRun(ctx, "parked-1")
		return err == nil && run.Status == StatusWaiting
	})

	runner.Stop()

	run, err := runner.Engine.GetRun(ctx, "parked-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != StatusFailed || !errors.Is(run.Err, context.Canceled) {
		t.Fatalf("expected cancelled run after Stop, got %s (%v)", run.Status, run.Err)
	}
	if len(undone) != 1 {
		t.Fatalf("expected the held resource to be released, got %v", undone)
	}
}

func TestLocalRunner_StopWithoutStart(t *testing.T) {
	runner := NewLocalRunner()
	runner.Stop()
	if err := runner.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLocalRunner_WaitRunHonorsContext(t *testing.T) {
	runner := NewLocalRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := runner.WaitRun(ctx, "never-started"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewLocalRunnerFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(`
log:
  level: error
state:
  backend: sqlite
  namespace: tenant-a
  dsn: ` + filepath.Join(dir, "state.db") + `
workers:
  concurrency: 2
  queue: sqlite
  queue_dsn: ` + filepath.Join(dir, "queue.db") + `
rate_limiters:
  - id: api
    capacity: 10
    window: 1s
metrics:
  enabled: true
  namespace: app
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	reg := prometheus.NewRegistry()
	ctx := context.Background()
	runner, err := NewLocalRunnerFromConfig(ctx, cfg, WithRegisterer(reg))
	if err != nil {
		t.Fatalf("NewLocalRunnerFromConfig: %v", err)
	}
	defer runner.Close()

	if _, ok := runner.Limiters.Get("api"); !ok {
		t.Fatalf("limiter api not registered")
	}
	if runner.Metrics == nil || runner.State == nil {
		t.Fatalf("expected metrics and state to be wired")
	}

	poll := NewNode("poll", func(ctx context.Context, pos string) (inbox, error) {
		n, _ := strconv.Atoi(pos)
		return inbox{"inbox": strconv.Itoa(n + 1)}, nil
	}).WithInputFunc(func(s *FlowState) (string, error) {
		c, _ := s.Cursor("inbox")
		return c.Position, nil
	}).WithSharedRateLimiter("api").WithRetry(NoRetry())

	flow := New("poller").
		Trigger(Manual()).
		Then(poll).
		State(runner.State, "").
		MustRegister(runner.Engine)

	if err := runner.StartWorkers(ctx, 0); err != nil {
		t.Fatalf("StartWorkers: %v", err)
	}

	// First run synchronously, second through the queue under the same run
	// ID so the cursor carries over.
	if run, err := runner.Engine.Start(ctx, flow.Name(), nil, WithRunID("poll")); err != nil {
		t.Fatalf("Start: %v (%+v)", err, run)
	}
	if _, err := runner.StartAsync(ctx, flow.Name(), nil, WithRunID("poll")); err != nil {
		t.Fatalf("StartAsync: %v", err)
	}

	var st *PersistedState
	eventually(t, func() bool {
		st, err = runner.State.Load(ctx, "poll", "poller")
		return err == nil && st.Version == 2
	})
	if st.Cursors["inbox"].Position != "2" {
		t.Fatalf("unexpected persisted state: %+v", st)
	}

	// A backend opened without the namespace does not see tenant-a's state.
	other, err := NewSQLiteBackend(mustOpenSQLite(t, filepath.Join(dir, "state.db")))
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	if _, err := other.Load(ctx, "poll", "poller"); !errors.Is(err, api.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound in default namespace, got %v", err)
	}

	eventually(t, func() bool {
		return testutil.ToFloat64(runner.Metrics.FlowsTotal.WithLabelValues("poller", "success")) == 2
	})
}

func TestNewLocalRunnerFromConfigErrors(t *testing.T) {
	ctx := context.Background()

	bad := config.Default()
	bad.State.Backend = "etcd"
	if _, err := NewLocalRunnerFromConfig(ctx, &bad); err == nil {
		t.Fatalf("expected validation error")
	}

	cfg := config.Default()
	cfg.Metrics.Enabled = true
	reg := prometheus.NewRegistry()
	r, err := NewLocalRunnerFromConfig(ctx, &cfg, WithRegisterer(reg))
	if err != nil {
		t.Fatalf("first runner: %v", err)
	}
	defer r.Close()
	if _, err := NewLocalRunnerFromConfig(ctx, &cfg, WithRegisterer(reg)); err == nil {
		t.Fatalf("expected duplicate metrics registration to fail")
	}
}

func TestNewLocalRunnerFromNilConfig(t *testing.T) {
	r, err := NewLocalRunnerFromConfig(context.Background(), nil)
	if err != nil {
		t.Fatalf("NewLocalRunnerFromConfig(nil): %v", err)
	}
	defer r.Close()
	if r.State == nil || r.Queue == nil {
		t.Fatalf("defaults not wired")
	}
}
