package cascade

import "github.com/petrijr/cascade/pkg/api"

// Sequential returns a step running a single node. The step takes the
// node's name.
func Sequential(node api.ExecutableNode) api.Step {
	return api.SequentialStep{Node: node}
}

// ParallelOf returns a step running nodes concurrently. Every node runs to
// completion even if a sibling fails.
func ParallelOf(name string, nodes ...api.ExecutableNode) api.Step {
	return api.ParallelStep{Name: name, Nodes: nodes}
}

// ParallelFailFast is ParallelOf with sibling cancellation on the first
// failure.
func ParallelFailFast(name string, nodes ...api.ExecutableNode) api.Step {
	return api.ParallelStep{Name: name, Nodes: nodes, CancelOnFailure: true}
}

// GateOn returns a gate step.
func GateOn(name string, cfg api.GateConfig) api.Step {
	return api.GateStep{Name: name, Config: cfg}
}

// SpawnOf returns a child fan-out step.
func SpawnOf(name string, cfg api.ChildFlowConfig) api.Step {
	return api.ChildSpawnStep{Name: name, Config: cfg}
}

// IfThen returns a conditional step.
func IfThen(name string, pred api.Predicate, then, els []api.Step) api.Step {
	return api.ConditionalStep{Name: name, Predicate: pred, Then: then, Else: els}
}
