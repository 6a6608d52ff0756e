package api

import "fmt"

// ChildFlowConfig configures a child-spawn step.
type ChildFlowConfig struct {
	// Flow is run once per mapped input.
	Flow *Flow

	// InputMapper derives zero or more child inputs from the parent state.
	InputMapper func(*FlowState) ([]Input, error)

	// Sequential runs children one at a time in index order and stops at the
	// first failure. Otherwise all children run concurrently and every child
	// is allowed to finish.
	Sequential bool

	// MaxConcurrency bounds concurrent children. Zero is unbounded.
	MaxConcurrency int

	// TolerateFailures keeps the step successful when children fail; the
	// failures are still reported in ChildFlowResults.Errors.
	TolerateFailures bool
}

// ChildFlowResults aggregates a spawn step. States and Errors are indexed
// like the mapper output; a nil error means that child succeeded.
type ChildFlowResults struct {
	States []*FlowState
	Errors []error
	Count  int
}

// Failed returns the indexes of children that failed.
func (r ChildFlowResults) Failed() []int {
	var out []int
	for i, err := range r.Errors {
		if err != nil {
			out = append(out, i)
		}
	}
	return out
}

// FirstError returns the failure with the lowest index, or nil.
func (r ChildFlowResults) FirstError() (int, error) {
	for i, err := range r.Errors {
		if err != nil {
			return i, err
		}
	}
	return -1, nil
}

// ChildID is the deterministic identity of child i of step.
func ChildID(step string, i int) string {
	return fmt.Sprintf("%s-child-%d", step, i)
}
