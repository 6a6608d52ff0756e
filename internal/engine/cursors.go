package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/cascade/pkg/api"
)

// loadCursors seeds the run's cursors from the flow's state backend. A run
// without persisted state starts with no cursors.
func (x *execution) loadCursors(ctx context.Context) (*api.PersistedState, error) {
	backend := x.backend()
	if backend == nil {
		return nil, nil
	}

	ps, err := backend.Load(ctx, x.runID, x.flow.Name())
	if errors.Is(err, api.ErrStateNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for %q: %w", x.flow.Name(), err)
	}
	x.state.LoadCursors(ps.Cursors)
	return ps, nil
}

// saveCursors persists the run's cursors. It is only called once every step
// has succeeded.
func (x *execution) saveCursors(ctx context.Context, loaded *api.PersistedState) error {
	backend := x.backend()
	if backend == nil {
		return nil
	}

	next := api.PersistedState{
		Cursors:   x.state.Cursors(),
		UpdatedAt: x.engine.sub.Now(),
		Version:   1,
	}
	if loaded != nil {
		next.Version = loaded.Version + 1
		next.Metadata = loaded.Metadata
	}

	if err := backend.Save(ctx, x.runID, x.flow.Name(), next); err != nil {
		return fmt.Errorf("save state for %q: %w", x.flow.Name(), err)
	}
	return nil
}

func (x *execution) backend() api.StateBackend {
	sc := x.flow.StateConfig()
	if sc == nil {
		return nil
	}
	return sc.ResolvedBackend()
}
