package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/petrijr/cascade/pkg/api"
)

// compensationManager is the saga stack of one run. Records are pushed as
// compensable nodes complete, including from parallel siblings, and popped
// last-first on rollback.
type compensationManager struct {
	mu    sync.Mutex
	stack []api.CompensationRecord
}

func newCompensationManager() *compensationManager {
	return &compensationManager{}
}

func (m *compensationManager) push(rec api.CompensationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stack = append(m.stack, rec)
}

func (m *compensationManager) pop() (api.CompensationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.stack)
	if n == 0 {
		return api.CompensationRecord{}, false
	}
	rec := m.stack[n-1]
	m.stack = m.stack[:n-1]
	return rec, true
}

func (m *compensationManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

type rollbackReport struct {
	compensated []string
	errors      []error
}

// rollback runs every recorded compensation in reverse completion order
// against its snapshot. Failures are logged and collected; they never stop
// the sequence and never replace cause.
func (x *execution) rollback(ctx context.Context, logger *slog.Logger, cause error) rollbackReport {
	var report rollbackReport

	if n := x.comp.Len(); n > 0 {
		logger.WarnContext(ctx, "flow_rollback",
			slog.Int("compensations", n),
			slog.String("cause", cause.Error()),
		)
	}

	for {
		rec, ok := x.comp.pop()
		if !ok {
			return report
		}

		comp := rec.Node.Compensation()
		if comp == nil {
			continue
		}
		report.compensated = append(report.compensated, comp.Name())

		hc := x.hookContext(rec.Step, comp.Name())
		x.hooks.BeforeNode(hc)
		start := x.engine.sub.Now()

		err := x.compensate(ctx, rec, comp)

		hc.Duration = x.engine.sub.Now().Sub(start)
		hc.Err = err
		x.hooks.AfterNode(hc)

		if err != nil {
			cerr := &api.CompensationError{Node: rec.Node.Name(), Err: err}
			report.errors = append(report.errors, cerr)
			logger.ErrorContext(ctx, "compensation_failed",
				slog.String("step", rec.Step),
				slog.String("node", rec.Node.Name()),
				slog.String("compensation", comp.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (x *execution) compensate(ctx context.Context, rec api.CompensationRecord, comp api.ExecutableNode) error {
	lim, err := x.engine.limiterFor(comp)
	if err != nil {
		return err
	}
	if lim != nil {
		if err := lim.Acquire(ctx); err != nil {
			return err
		}
	}
	return rec.Node.Compensate(ctx, x.engine.sub, rec.StateSnapshot)
}
