package api

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noop(name string) *Node[any, any] {
	return NewNode(name, func(ctx context.Context, in any) (any, error) { return in, nil })
}

func TestNewFlowValidation(t *testing.T) {
	child, err := NewFlow(FlowDefinition{
		Name:     "child",
		Triggers: []Trigger{Manual()},
		Steps:    []Step{SequentialStep{Node: noop("c")}},
	})
	if err != nil {
		t.Fatalf("child flow: %v", err)
	}
	mapper := func(*FlowState) ([]Input, error) { return nil, nil }

	tests := []struct {
		name string
		def  FlowDefinition
		want error
	}{
		{
			name: "no steps",
			def:  FlowDefinition{Name: "f", Triggers: []Trigger{Manual()}},
			want: ErrNoSteps,
		},
		{
			name: "no trigger",
			def:  FlowDefinition{Name: "f", Steps: []Step{SequentialStep{Node: noop("a")}}},
			want: ErrNoTrigger,
		},
		{
			name: "two triggers",
			def: FlowDefinition{
				Name:     "f",
				Triggers: []Trigger{Manual(), OnSignal("go")},
				Steps:    []Step{SequentialStep{Node: noop("a")}},
			},
			want: ErrMultipleTriggers,
		},
		{
			name: "duplicate step",
			def: FlowDefinition{
				Name:     "f",
				Triggers: []Trigger{Manual()},
				Steps:    []Step{SequentialStep{Node: noop("a")}, SequentialStep{Node: noop("a")}},
			},
			want: ErrDuplicateStep,
		},
		{
			name: "duplicate inside branch",
			def: FlowDefinition{
				Name:     "f",
				Triggers: []Trigger{Manual()},
				Steps: []Step{ConditionalStep{
					Name:      "when",
					Predicate: func(*FlowState) bool { return true },
					Then:      []Step{SequentialStep{Node: noop("x")}, SequentialStep{Node: noop("x")}},
				}},
			},
			want: ErrDuplicateStep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFlow(tt.def)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	invalid := []FlowDefinition{
		{Name: "", Triggers: []Trigger{Manual()}, Steps: []Step{SequentialStep{Node: noop("a")}}},
		{Name: "f", Triggers: []Trigger{Schedule("not a cron")}, Steps: []Step{SequentialStep{Node: noop("a")}}},
		{Name: "f", Triggers: []Trigger{Manual()}, Steps: []Step{GateStep{Name: "g"}}},
		{Name: "f", Triggers: []Trigger{Manual()}, Steps: []Step{ParallelStep{Name: "p"}}},
		{Name: "f", Triggers: []Trigger{Manual()}, Steps: []Step{ChildSpawnStep{Name: "c", Config: ChildFlowConfig{Flow: child}}}},
		{Name: "f", Triggers: []Trigger{Manual()}, Steps: []Step{ChildSpawnStep{Name: "c", Config: ChildFlowConfig{InputMapper: mapper}}}},
		{Name: "f", Triggers: []Trigger{Manual()}, Steps: []Step{ConditionalStep{Name: "c"}}},
		{Name: "f", Triggers: []Trigger{Manual()}, Steps: []Step{SequentialStep{}}},
	}
	for i, def := range invalid {
		if _, err := NewFlow(def); err == nil {
			t.Fatalf("definition %d: expected validation error", i)
		}
	}
}

func TestFlowIsImmutable(t *testing.T) {
	steps := []Step{
		SequentialStep{Node: noop("a")},
		ParallelStep{Name: "p", Nodes: []ExecutableNode{noop("x"), noop("y")}},
	}
	f, err := NewFlow(FlowDefinition{
		Name:     "f",
		Triggers: []Trigger{Webhook("/hook")},
		Steps:    steps,
		State:    &StateConfig{Namespace: "ns"},
	})
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}

	steps[0] = SequentialStep{Node: noop("b")}
	steps[1].(ParallelStep).Nodes[0] = noop("z")

	got := f.Steps()
	if got[0].StepName() != "a" {
		t.Fatalf("flow steps changed after build: %s", got[0].StepName())
	}
	if got[1].(ParallelStep).Nodes[0].Name() != "x" {
		t.Fatalf("parallel nodes changed after build")
	}

	got[0] = nil
	if f.Steps()[0] == nil {
		t.Fatalf("Steps returned the internal slice")
	}

	sc := f.StateConfig()
	sc.Namespace = "other"
	if f.StateConfig().Namespace != "ns" {
		t.Fatalf("StateConfig returned internal pointer")
	}
	if f.Trigger().Kind != TriggerWebhook || f.Trigger().Path != "/hook" {
		t.Fatalf("unexpected trigger: %+v", f.Trigger())
	}
}

func TestScheduleTriggerNext(t *testing.T) {
	tr := Schedule("*/15 * * * *")
	if err := tr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	after := time.Date(2025, 1, 1, 10, 7, 0, 0, time.UTC)
	next, ok := tr.Next(after)
	if !ok {
		t.Fatalf("expected schedule to have a next time")
	}
	want := time.Date(2025, 1, 1, 10, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Next = %s, want %s", next, want)
	}

	if _, ok := Manual().Next(after); ok {
		t.Fatalf("manual trigger must not have a next time")
	}
}

func TestChildFlowResults(t *testing.T) {
	boom := errors.New("boom")
	r := ChildFlowResults{
		States: make([]*FlowState, 3),
		Errors: []error{nil, boom, ErrChildNotStarted},
		Count:  3,
	}
	failed := r.Failed()
	if len(failed) != 2 || failed[0] != 1 || failed[1] != 2 {
		t.Fatalf("Failed() = %v", failed)
	}
	if i, err := r.FirstError(); i != 1 || err != boom {
		t.Fatalf("FirstError() = %d, %v", i, err)
	}
	if ChildID("enrich", 4) != "enrich-child-4" {
		t.Fatalf("unexpected child id %q", ChildID("enrich", 4))
	}
}
