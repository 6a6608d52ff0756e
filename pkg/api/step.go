package api

// StepKind tags the Step variants.
type StepKind string

const (
	KindSequential  StepKind = "sequential"
	KindParallel    StepKind = "parallel"
	KindGate        StepKind = "gate"
	KindChildSpawn  StepKind = "child_spawn"
	KindConditional StepKind = "conditional"
)

// Step is one scheduling unit of a flow. The set of implementations is
// closed: SequentialStep, ParallelStep, GateStep, ChildSpawnStep and
// ConditionalStep.
type Step interface {
	StepName() string
	Kind() StepKind
	isStep()
}

// Predicate selects a conditional branch. It must be free of side effects.
type Predicate func(*FlowState) bool

// SequentialStep runs a single node.
type SequentialStep struct {
	Node ExecutableNode
}

func (s SequentialStep) StepName() string { return s.Node.Name() }
func (SequentialStep) Kind() StepKind     { return KindSequential }
func (SequentialStep) isStep()            {}

// ParallelStep runs its nodes concurrently against the same FlowState.
type ParallelStep struct {
	Name  string
	Nodes []ExecutableNode

	// CancelOnFailure cancels the context of still-running siblings once a
	// node fails. The step still waits for every node to finish.
	CancelOnFailure bool
}

func (s ParallelStep) StepName() string { return s.Name }
func (ParallelStep) Kind() StepKind     { return KindParallel }
func (ParallelStep) isStep()            {}

// GateStep suspends the run until a signal or timeout resolves it.
type GateStep struct {
	Name   string
	Config GateConfig
}

func (s GateStep) StepName() string { return s.Name }
func (GateStep) Kind() StepKind     { return KindGate }
func (GateStep) isStep()            {}

// OutputKey is where the gate stores its GateResult.
func (s GateStep) OutputKey() string {
	if s.Config.OutputKey != "" {
		return s.Config.OutputKey
	}
	return s.Name
}

// ChildSpawnStep fans out into nested flow runs.
type ChildSpawnStep struct {
	Name   string
	Config ChildFlowConfig
}

func (s ChildSpawnStep) StepName() string { return s.Name }
func (ChildSpawnStep) Kind() StepKind     { return KindChildSpawn }
func (ChildSpawnStep) isStep()            {}

// ConditionalStep runs Then when Predicate holds and Else otherwise. An
// empty branch is a no-op.
type ConditionalStep struct {
	Name      string
	Predicate Predicate
	Then      []Step
	Else      []Step
}

func (s ConditionalStep) StepName() string { return s.Name }
func (ConditionalStep) Kind() StepKind     { return KindConditional }
func (ConditionalStep) isStep()            {}
