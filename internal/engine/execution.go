package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/cascade/pkg/api"
)

// execution is the state of one flow run while it is being walked.
type execution struct {
	engine *engineImpl
	flow   *api.Flow
	runID  string
	state  *api.FlowState
	hooks  *api.HookDispatcher
	comp   *compensationManager
	onWait func(runID string)
}

func (x *execution) hookContext(step, node string) api.HookContext {
	return api.HookContext{
		FlowName: x.flow.Name(),
		RunID:    x.runID,
		StepName: step,
		NodeName: node,
	}
}

func (x *execution) run(ctx context.Context) error {
	loaded, err := x.loadCursors(ctx)
	if err != nil {
		return err
	}
	if err := x.runSteps(ctx, x.flow.Steps()); err != nil {
		return err
	}
	return x.saveCursors(ctx, loaded)
}

func (x *execution) runSteps(ctx context.Context, steps []api.Step) error {
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := x.runStep(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) runStep(ctx context.Context, st api.Step) error {
	name := st.StepName()
	x.engine.runs.update(x.runID, func(r *api.Run) { r.CurrentStep = name })

	x.hooks.BeforeStep(x.hookContext(name, ""))
	start := x.engine.sub.Now()

	var err error
	switch s := st.(type) {
	case api.SequentialStep:
		err = x.runNode(ctx, name, s.Node)
	case api.ParallelStep:
		err = x.runParallel(ctx, s)
	case api.GateStep:
		err = x.awaitGate(ctx, s)
	case api.ChildSpawnStep:
		err = x.spawnChildren(ctx, s)
	case api.ConditionalStep:
		if s.Predicate(x.state) {
			err = x.runSteps(ctx, s.Then)
		} else {
			err = x.runSteps(ctx, s.Else)
		}
	default:
		err = fmt.Errorf("unsupported step type %T", st)
	}

	hc := x.hookContext(name, "")
	hc.Duration = x.engine.sub.Now().Sub(start)
	hc.Err = err
	x.hooks.AfterStep(hc)

	if err == nil {
		// Branch steps move CurrentStep; restore the outer name on success.
		x.engine.runs.update(x.runID, func(r *api.Run) { r.CurrentStep = name })
	}
	return err
}

// runNode executes a node and records its side effects on the run: result,
// cursor advance, compensation record and cost.
func (x *execution) runNode(ctx context.Context, step string, node api.ExecutableNode) error {
	hc := x.hookContext(step, node.Name())
	x.hooks.BeforeNode(hc)
	start := x.engine.sub.Now()

	out, err := x.invoke(ctx, node, x.state)

	completed := x.engine.sub.Now()
	hc.Duration = completed.Sub(start)
	hc.Err = err
	if err != nil {
		x.hooks.AfterNode(hc)
		return &api.NodeError{Step: step, Node: node.Name(), Err: err}
	}
	// AfterNode fires once the result, cursors and cost are recorded.
	defer x.hooks.AfterNode(hc)

	var positions map[string]string
	if adv, ok := out.(api.CursorAdvancer); ok {
		positions = adv.CursorPositions()
	}
	snap := x.state.Apply(node.OutputKey(), out, positions, completed, node.HasCompensation())
	if snap != nil {
		x.comp.push(api.CompensationRecord{
			Node:          node,
			Step:          step,
			StateSnapshot: snap,
			CompletedAt:   completed,
		})
	}
	if cr, ok := out.(api.CostReporter); ok {
		entry := cr.Cost()
		if entry.NodeName == "" {
			entry.NodeName = node.Name()
		}
		if entry.Duration == 0 {
			entry.Duration = hc.Duration
		}
		x.hooks.OnCost(entry)
	}
	return nil
}

// invoke acquires the node's rate limiter and runs it on the substrate.
func (x *execution) invoke(ctx context.Context, node api.ExecutableNode, state *api.FlowState) (any, error) {
	lim, err := x.engine.limiterFor(node)
	if err != nil {
		return nil, err
	}
	if lim != nil {
		if err := lim.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	return node.Execute(ctx, x.engine.sub, state)
}

// runParallel launches every node and waits for all of them. The reported
// failure is the first in declaration order. With CancelOnFailure the first
// failure cancels the context of the siblings still running.
func (x *execution) runParallel(ctx context.Context, s api.ParallelStep) error {
	g, gctx := new(errgroup.Group), ctx
	if s.CancelOnFailure {
		g, gctx = errgroup.WithContext(ctx)
	}

	errs := make([]error, len(s.Nodes))
	for i, node := range s.Nodes {
		g.Go(func() error {
			errs[i] = x.runNode(gctx, s.Name, node)
			if s.CancelOnFailure {
				return errs[i]
			}
			return nil
		})
	}
	// Wait's error is the first to finish; errs gives declaration order.
	_ = g.Wait()

	return firstParallelError(errs, s.CancelOnFailure && ctx.Err() == nil)
}

// firstParallelError picks the declaration-order first failure. When the
// step cancelled its own siblings, their resulting cancellation errors are
// skipped in favour of the failure that caused it.
func firstParallelError(errs []error, skipCancelled bool) error {
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		if !skipCancelled || !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return first
}
