package api

import (
	"errors"
	"fmt"
)

// FlowDefinition is the mutable description a Flow is built from.
// Use NewFlow (or the cascade.FlowBuilder) to turn it into a Flow.
type FlowDefinition struct {
	Name     string
	Triggers []Trigger
	Steps    []Step
	State    *StateConfig
	Hooks    Hooks
}

// Flow is a validated, immutable sequence of steps.
type Flow struct {
	name    string
	trigger Trigger
	steps   []Step
	state   *StateConfig
	hooks   Hooks
}

// NewFlow validates def and returns the immutable Flow.
func NewFlow(def FlowDefinition) (*Flow, error) {
	if def.Name == "" {
		return nil, errors.New("flow name is required")
	}
	switch len(def.Triggers) {
	case 0:
		return nil, fmt.Errorf("flow %q: %w", def.Name, ErrNoTrigger)
	case 1:
	default:
		return nil, fmt.Errorf("flow %q: %w", def.Name, ErrMultipleTriggers)
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("flow %q: %w", def.Name, ErrNoSteps)
	}

	trigger := def.Triggers[0]
	if err := trigger.Validate(); err != nil {
		return nil, fmt.Errorf("flow %q: %w", def.Name, err)
	}
	if err := validateSteps(def.Steps); err != nil {
		return nil, fmt.Errorf("flow %q: %w", def.Name, err)
	}

	f := &Flow{
		name:    def.Name,
		trigger: trigger,
		steps:   copySteps(def.Steps),
		hooks:   def.Hooks,
	}
	if def.State != nil {
		sc := *def.State
		f.state = &sc
	}
	return f, nil
}

// Name returns the flow name.
func (f *Flow) Name() string { return f.name }

// Trigger returns the flow's trigger descriptor.
func (f *Flow) Trigger() Trigger { return f.trigger }

// Steps returns a copy of the step list.
func (f *Flow) Steps() []Step { return copySteps(f.steps) }

// StateConfig returns the persistence configuration, or nil.
func (f *Flow) StateConfig() *StateConfig {
	if f.state == nil {
		return nil
	}
	sc := *f.state
	return &sc
}

// Hooks returns the flow-level hooks.
func (f *Flow) Hooks() Hooks { return f.hooks }

func validateSteps(steps []Step) error {
	seen := make(map[string]struct{}, len(steps))
	for i, st := range steps {
		if st == nil {
			return fmt.Errorf("step %d is nil", i)
		}
		if err := validateStep(st); err != nil {
			return err
		}
		name := st.StepName()
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateStep, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func validateStep(st Step) error {
	switch s := st.(type) {
	case SequentialStep:
		if s.Node == nil {
			return errors.New("sequential step has nil node")
		}
	case ParallelStep:
		if s.Name == "" {
			return errors.New("parallel step name is required")
		}
		if len(s.Nodes) == 0 {
			return fmt.Errorf("parallel step %q has no nodes", s.Name)
		}
		for i, n := range s.Nodes {
			if n == nil {
				return fmt.Errorf("parallel step %q: node %d is nil", s.Name, i)
			}
		}
	case GateStep:
		if s.Name == "" {
			return errors.New("gate step name is required")
		}
		if s.Config.SignalName == "" {
			return fmt.Errorf("gate %q: signal name is required", s.Name)
		}
		if s.Config.Timeout < 0 {
			return fmt.Errorf("gate %q: negative timeout", s.Name)
		}
	case ChildSpawnStep:
		if s.Name == "" {
			return errors.New("child spawn step name is required")
		}
		if s.Config.Flow == nil {
			return fmt.Errorf("child spawn %q: flow is required", s.Name)
		}
		if s.Config.InputMapper == nil {
			return fmt.Errorf("child spawn %q: input mapper is required", s.Name)
		}
	case ConditionalStep:
		if s.Name == "" {
			return errors.New("conditional step name is required")
		}
		if s.Predicate == nil {
			return fmt.Errorf("conditional %q: predicate is required", s.Name)
		}
		if err := validateSteps(s.Then); err != nil {
			return fmt.Errorf("conditional %q then: %w", s.Name, err)
		}
		if err := validateSteps(s.Else); err != nil {
			return fmt.Errorf("conditional %q else: %w", s.Name, err)
		}
	default:
		return fmt.Errorf("unsupported step type %T", st)
	}
	return nil
}

func copySteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, st := range steps {
		switch s := st.(type) {
		case ParallelStep:
			s.Nodes = append([]ExecutableNode(nil), s.Nodes...)
			out[i] = s
		case ConditionalStep:
			s.Then = copySteps(s.Then)
			s.Else = copySteps(s.Else)
			out[i] = s
		default:
			out[i] = st
		}
	}
	return out
}
