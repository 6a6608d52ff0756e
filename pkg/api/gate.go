package api

import "time"

// GateConfig configures a gate step.
type GateConfig struct {
	// SignalName is the external signal that resolves the gate.
	SignalName string

	// Timeout bounds the wait. Zero waits forever.
	Timeout time.Duration

	// OutputKey overrides where the GateResult is stored (default: gate name).
	OutputKey string

	// FailOnReject turns a non-approved result into a *GateRejectedError.
	FailOnReject bool
}

// GateResult is the payload carried by the signal that resolves a gate.
type GateResult struct {
	Approved  bool              `json:"approved"`
	Decision  string            `json:"decision,omitempty"`
	DecidedBy string            `json:"decided_by,omitempty"`
	DecidedAt time.Time         `json:"decided_at"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// GateState is the lifecycle of a single gate wait.
type GateState string

const (
	GateWaiting  GateState = "WAITING"
	GateResolved GateState = "RESOLVED"
	GateTimedOut GateState = "TIMED_OUT"
)
