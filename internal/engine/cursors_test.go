package engine

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/petrijr/cascade/internal/persistence"
	"github.com/petrijr/cascade/pkg/api"
)

type positions map[string]string

func (p positions) CursorPositions() map[string]string { return p }

// backendFactory builds a fresh StateBackend for one subtest.
type backendFactory func(t *testing.T) api.StateBackend

func backendFactories() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) api.StateBackend {
			return persistence.NewMemoryBackend()
		},
		"file": func(t *testing.T) api.StateBackend {
			return persistence.NewFileBackend(t.TempDir())
		},
		"sqlite": func(t *testing.T) api.StateBackend {
			db, err := sql.Open("sqlite", ":memory:")
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			db.SetMaxOpenConns(1)
			t.Cleanup(func() { _ = db.Close() })
			b, err := persistence.NewSQLiteBackend(db)
			if err != nil {
				t.Fatalf("NewSQLiteBackend: %v", err)
			}
			return b
		},
		"redis": func(t *testing.T) api.StateBackend {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return persistence.NewRedisBackend(client, "cascade-test:")
		},
	}
}

// pollFlow reads the "inbox" cursor, moves it forward by one and optionally
// fails afterwards.
func pollFlow(t *testing.T, backend api.StateBackend, ns string, failAfter error) *api.Flow {
	t.Helper()
	poll := api.NewNode("poll", func(ctx context.Context, pos string) (positions, error) {
		n, _ := strconv.Atoi(pos)
		return positions{"inbox": strconv.Itoa(n + 1)}, nil
	}).WithInputFunc(func(s *api.FlowState) (string, error) {
		c, _ := s.Cursor("inbox")
		return c.Position, nil
	}).WithRetry(api.NoRetry())

	steps := []api.Step{seq(poll)}
	if failAfter != nil {
		steps = append(steps, seq(failNode(&recorder{}, "after", failAfter)))
	}
	return mustFlowDef(t, api.FlowDefinition{
		Name:  "poller",
		Steps: steps,
		State: &api.StateConfig{Backend: backend, Namespace: ns},
	})
}

func TestCursorsPersistAcrossRuns(t *testing.T) {
	for name, factory := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := factory(t)
			e := newTestEngine()
			flow := pollFlow(t, backend, "", nil)

			for i := 1; i <= 3; i++ {
				state, err := e.Execute(ctx, flow, nil, api.WithRunID("poll-run"))
				if err != nil {
					t.Fatalf("run %d: %v", i, err)
				}
				c, _ := state.Cursor("inbox")
				if c.Position != strconv.Itoa(i) {
					t.Fatalf("run %d: cursor = %q, want %d", i, c.Position, i)
				}
			}

			ps, err := backend.Load(ctx, "poll-run", "poller")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if ps.Version != 3 {
				t.Fatalf("expected version 3 after three runs, got %d", ps.Version)
			}
			if ps.Cursors["inbox"].Position != "3" {
				t.Fatalf("persisted cursor = %+v", ps.Cursors["inbox"])
			}
		})
	}
}

func TestCursorsNotSavedOnFailure(t *testing.T) {
	for name, factory := range backendFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend := factory(t)
			e := newTestEngine()

			if _, err := e.Execute(ctx, pollFlow(t, backend, "", nil), nil, api.WithRunID("r")); err != nil {
				t.Fatalf("first run: %v", err)
			}

			boom := errors.New("boom")
			_, err := e.Execute(ctx, pollFlow(t, backend, "", boom), nil, api.WithRunID("r"))
			if !errors.Is(err, boom) {
				t.Fatalf("expected boom, got %v", err)
			}

			ps, err := backend.Load(ctx, "r", "poller")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if ps.Version != 1 || ps.Cursors["inbox"].Position != "1" {
				t.Fatalf("failed run must not advance persisted state, got %+v", ps)
			}
		})
	}
}

func TestCursorNamespaces(t *testing.T) {
	ctx := context.Background()
	backend := persistence.NewMemoryBackend()
	e := newTestEngine()

	if _, err := e.Execute(ctx, pollFlow(t, backend, "tenant-a", nil), nil, api.WithRunID("r")); err != nil {
		t.Fatalf("tenant-a: %v", err)
	}
	if _, err := e.Execute(ctx, pollFlow(t, backend, "tenant-a", nil), nil, api.WithRunID("r")); err != nil {
		t.Fatalf("tenant-a again: %v", err)
	}
	state, err := e.Execute(ctx, pollFlow(t, backend, "tenant-b", nil), nil, api.WithRunID("r"))
	if err != nil {
		t.Fatalf("tenant-b: %v", err)
	}
	if c, _ := state.Cursor("inbox"); c.Position != "1" {
		t.Fatalf("tenant-b should start fresh, cursor = %q", c.Position)
	}

	ps, err := backend.WithNamespace("tenant-a").Load(ctx, "r", "poller")
	if err != nil {
		t.Fatalf("Load tenant-a: %v", err)
	}
	if ps.Cursors["inbox"].Position != "2" {
		t.Fatalf("tenant-a cursor = %+v", ps.Cursors["inbox"])
	}
}

type failingBackend struct{ err error }

func (b failingBackend) Load(ctx context.Context, runID, flowName string) (*api.PersistedState, error) {
	return nil, api.ErrStateNotFound
}

func (b failingBackend) Save(ctx context.Context, runID, flowName string, st api.PersistedState) error {
	return b.err
}

func TestCursorSaveFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	saveErr := errors.New("disk full")
	a := okNode(rec, "A").WithCompensation(undoNode(rec, "A"))

	flow := mustFlowDef(t, api.FlowDefinition{
		Name:  "save-fails",
		Steps: []api.Step{seq(a)},
		State: &api.StateConfig{Backend: failingBackend{err: saveErr}},
	})

	_, err := newTestEngine().Execute(context.Background(), flow, nil)
	if !errors.Is(err, saveErr) {
		t.Fatalf("expected save error, got %v", err)
	}
	assertEvents(t, rec.list(), "A", "undo:A")
}
