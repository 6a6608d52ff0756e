package hooks

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// BasicMetrics collects simple counters and aggregate durations. Use Hooks
// to attach it to an engine or flow.
type BasicMetrics struct {
	flowsStarted   atomic.Int64
	flowsCompleted atomic.Int64
	flowsFailed    atomic.Int64
	stepsCompleted atomic.Int64
	stepsFailed    atomic.Int64
	nodesCompleted atomic.Int64
	nodesFailed    atomic.Int64
	totalNodeNanos atomic.Int64
	tokensIn       atomic.Int64
	tokensOut      atomic.Int64
	costMicroUSD   atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	FlowsStarted   int64
	FlowsCompleted int64
	FlowsFailed    int64
	PendingFlows   int64

	StepsCompleted int64
	StepsFailed    int64

	NodesCompleted  int64
	NodesFailed     int64
	AvgNodeDuration time.Duration

	TokensIn  int64
	TokensOut int64
	CostUSD   float64
}

// NewBasicMetrics returns zeroed metrics.
func NewBasicMetrics() *BasicMetrics {
	return &BasicMetrics{}
}

// Hooks returns the callbacks that feed m.
func (m *BasicMetrics) Hooks() api.Hooks {
	return api.Hooks{
		BeforeFlow: func(api.HookContext) { m.flowsStarted.Add(1) },
		AfterFlow: func(hc api.HookContext) {
			if hc.Err != nil {
				m.flowsFailed.Add(1)
				return
			}
			m.flowsCompleted.Add(1)
		},
		AfterStep: func(hc api.HookContext) {
			if hc.Err != nil {
				m.stepsFailed.Add(1)
				return
			}
			m.stepsCompleted.Add(1)
		},
		AfterNode: func(hc api.HookContext) {
			// Only successful nodes count towards the average duration.
			if hc.Err != nil {
				m.nodesFailed.Add(1)
				return
			}
			m.nodesCompleted.Add(1)
			m.totalNodeNanos.Add(hc.Duration.Nanoseconds())
		},
		OnCost: func(c api.CostEntry) {
			m.tokensIn.Add(c.TokensIn)
			m.tokensOut.Add(c.TokensOut)
			m.costMicroUSD.Add(int64(math.Round(c.CostUSD * 1e6)))
		},
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.flowsStarted.Load()
	completed := m.flowsCompleted.Load()
	failed := m.flowsFailed.Load()
	nodes := m.nodesCompleted.Load()

	var avg time.Duration
	if nodes > 0 {
		avg = time.Duration(m.totalNodeNanos.Load() / nodes)
	}

	return BasicMetricsSnapshot{
		FlowsStarted:    started,
		FlowsCompleted:  completed,
		FlowsFailed:     failed,
		PendingFlows:    started - completed - failed,
		StepsCompleted:  m.stepsCompleted.Load(),
		StepsFailed:     m.stepsFailed.Load(),
		NodesCompleted:  nodes,
		NodesFailed:     m.nodesFailed.Load(),
		AvgNodeDuration: avg,
		TokensIn:        m.tokensIn.Load(),
		TokensOut:       m.tokensOut.Load(),
		CostUSD:         float64(m.costMicroUSD.Load()) / 1e6,
	}
}
