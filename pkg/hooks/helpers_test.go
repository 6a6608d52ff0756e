package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/petrijr/cascade/internal/engine"
	"github.com/petrijr/cascade/pkg/api"
)

var errBoom = errors.New("boom")

type priced struct{}

func (priced) Cost() api.CostEntry {
	return api.CostEntry{Provider: "acme", Model: "m-1", TokensIn: 100, TokensOut: 20, CostUSD: 0.25}
}

// runFlows executes one successful and one failing run of small flows with
// h attached as engine-level hooks.
func runFlows(t *testing.T, h api.Hooks) {
	t.Helper()
	e := engine.NewEngineWithConfig(engine.Config{Hooks: h})

	ok, err := api.NewFlow(api.FlowDefinition{
		Name:     "ok",
		Triggers: []api.Trigger{api.Manual()},
		Steps: []api.Step{
			api.SequentialStep{Node: api.NewNode("price", func(ctx context.Context, _ any) (priced, error) {
				return priced{}, nil
			})},
		},
	})
	if err != nil {
		t.Fatalf("NewFlow(ok): %v", err)
	}
	if _, err := e.Execute(context.Background(), ok, nil, api.WithRunID("run-ok")); err != nil {
		t.Fatalf("Execute(ok): %v", err)
	}

	bad, err := api.NewFlow(api.FlowDefinition{
		Name:     "bad",
		Triggers: []api.Trigger{api.Manual()},
		Steps: []api.Step{
			api.SequentialStep{Node: api.NewNode("fail", func(ctx context.Context, _ any) (int, error) {
				return 0, errBoom
			}).WithRetry(api.NoRetry())},
		},
	})
	if err != nil {
		t.Fatalf("NewFlow(bad): %v", err)
	}
	if _, err := e.Execute(context.Background(), bad, nil, api.WithRunID("run-bad")); !errors.Is(err, errBoom) {
		t.Fatalf("Execute(bad): expected boom, got %v", err)
	}
}
