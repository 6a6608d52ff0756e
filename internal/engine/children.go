package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/cascade/pkg/api"
)

// spawnChildren runs one nested flow per mapped input and stores the
// aggregated ChildFlowResults under the step name.
func (x *execution) spawnChildren(ctx context.Context, s api.ChildSpawnStep) error {
	cfg := s.Config

	inputs, err := cfg.InputMapper(x.state)
	if err != nil {
		return fmt.Errorf("step %q: input mapper: %w", s.Name, err)
	}

	results := api.ChildFlowResults{
		States: make([]*api.FlowState, len(inputs)),
		Errors: make([]error, len(inputs)),
		Count:  len(inputs),
	}
	if len(inputs) == 0 {
		x.state.Set(s.Name, results)
		return nil
	}

	runChild := func(ctx context.Context, i int) error {
		id := x.runID + "/" + api.ChildID(s.Name, i)
		st, err := x.engine.sub.SpawnChild(ctx, id, func(ctx context.Context) (*api.FlowState, error) {
			run, err := x.engine.execute(ctx, cfg.Flow, inputs[i], api.RunOptions{RunID: id, ParentID: x.runID, OnWait: x.onWait})
			if run == nil {
				return nil, err
			}
			return run.State, err
		})
		results.States[i] = st
		results.Errors[i] = err
		return err
	}

	if cfg.Sequential {
		for i := range inputs {
			if err := runChild(ctx, i); err != nil {
				for j := i + 1; j < len(inputs); j++ {
					results.Errors[j] = api.ErrChildNotStarted
				}
				break
			}
		}
	} else {
		var g errgroup.Group
		if cfg.MaxConcurrency > 0 {
			g.SetLimit(cfg.MaxConcurrency)
		}
		for i := range inputs {
			g.Go(func() error {
				_ = runChild(ctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}

	x.state.Set(s.Name, results)

	if cfg.TolerateFailures {
		return nil
	}
	if i, err := results.FirstError(); err != nil {
		return &api.ChildFlowError{Step: s.Name, Index: i, Err: err}
	}
	return nil
}
