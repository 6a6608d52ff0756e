package cascade

import (
	"errors"
	"fmt"

	"github.com/petrijr/cascade/pkg/api"
)

// FlowBuilder provides a fluent API for defining flows:
//
//	flow, err := cascade.New("checkout").
//	    Trigger(cascade.Manual()).
//	    Then(reserve).
//	    Parallel("notify", email, sms).
//	    Gate("approval", cascade.GateConfig{SignalName: "approve"}).
//	    Then(charge).
//	    Build()
//
// Errors are collected and reported by Build.
type FlowBuilder struct {
	def  api.FlowDefinition
	errs []error
}

// New creates a new flow builder with the given name.
func New(name string) *FlowBuilder {
	return &FlowBuilder{def: api.FlowDefinition{Name: name}}
}

// Steps starts an unnamed step sequence for use as an If branch.
func Steps() *FlowBuilder {
	return &FlowBuilder{}
}

// Name returns the flow name.
func (b *FlowBuilder) Name() string {
	return b.def.Name
}

// Trigger sets what starts the flow. Setting a second trigger makes Build
// fail with api.ErrMultipleTriggers.
func (b *FlowBuilder) Trigger(t api.Trigger) *FlowBuilder {
	b.def.Triggers = append(b.def.Triggers, t)
	return b
}

// Step appends any step.
func (b *FlowBuilder) Step(st api.Step) *FlowBuilder {
	if st == nil {
		b.errs = append(b.errs, fmt.Errorf("step %d is nil", len(b.def.Steps)))
		return b
	}
	b.def.Steps = append(b.def.Steps, st)
	return b
}

// Then appends a sequential step running node.
func (b *FlowBuilder) Then(node api.ExecutableNode) *FlowBuilder {
	if node == nil {
		b.errs = append(b.errs, fmt.Errorf("step %d: nil node", len(b.def.Steps)))
		return b
	}
	return b.Step(Sequential(node))
}

// Parallel appends a step running nodes concurrently.
func (b *FlowBuilder) Parallel(name string, nodes ...api.ExecutableNode) *FlowBuilder {
	return b.Step(ParallelOf(name, nodes...))
}

// Gate appends a step that waits for cfg.SignalName.
func (b *FlowBuilder) Gate(name string, cfg api.GateConfig) *FlowBuilder {
	return b.Step(GateOn(name, cfg))
}

// SpawnChildren appends a child fan-out step.
func (b *FlowBuilder) SpawnChildren(name string, cfg api.ChildFlowConfig) *FlowBuilder {
	return b.Step(SpawnOf(name, cfg))
}

// If appends a conditional step. Either branch may be nil.
func (b *FlowBuilder) If(name string, pred api.Predicate, then, els *FlowBuilder) *FlowBuilder {
	thenSteps, err := branchSteps(then)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("conditional %q then: %w", name, err))
		return b
	}
	elseSteps, err := branchSteps(els)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("conditional %q else: %w", name, err))
		return b
	}
	return b.Step(IfThen(name, pred, thenSteps, elseSteps))
}

func branchSteps(br *FlowBuilder) ([]api.Step, error) {
	if br == nil {
		return nil, nil
	}
	if err := errors.Join(br.errs...); err != nil {
		return nil, err
	}
	return br.def.Steps, nil
}

// State persists the flow's cursors in backend under namespace.
func (b *FlowBuilder) State(backend api.StateBackend, namespace string) *FlowBuilder {
	b.def.State = &api.StateConfig{Backend: backend, Namespace: namespace}
	return b
}

// Hooks adds flow-level hooks. Repeated calls accumulate.
func (b *FlowBuilder) Hooks(h api.Hooks) *FlowBuilder {
	b.def.Hooks = api.MergeHooks(b.def.Hooks, h)
	return b
}

// Build validates the definition and returns the immutable flow.
func (b *FlowBuilder) Build() (*api.Flow, error) {
	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("flow %q: %w", b.def.Name, err)
	}
	return api.NewFlow(b.def)
}

// MustBuild is like Build but panics on error.
func (b *FlowBuilder) MustBuild() *api.Flow {
	f, err := b.Build()
	if err != nil {
		panic(err)
	}
	return f
}

// Register builds the flow and registers it with eng.
func (b *FlowBuilder) Register(eng Engine) (*api.Flow, error) {
	f, err := b.Build()
	if err != nil {
		return nil, err
	}
	if err := eng.Register(f); err != nil {
		return nil, err
	}
	return f, nil
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *FlowBuilder) MustRegister(eng Engine) *api.Flow {
	f, err := b.Register(eng)
	if err != nil {
		panic(err)
	}
	return f
}
