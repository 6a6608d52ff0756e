package api

import "time"

// CompensationRecord pairs a completed compensable node with the state it
// observed on completion.
type CompensationRecord struct {
	Node          ExecutableNode
	Step          string
	StateSnapshot *FlowState
	CompletedAt   time.Time
}
