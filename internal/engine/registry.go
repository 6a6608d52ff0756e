package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/cascade/pkg/api"
)

type flowRegistry struct {
	mu     sync.RWMutex
	byName map[string]*api.Flow
}

func newFlowRegistry() *flowRegistry {
	return &flowRegistry{
		byName: make(map[string]*api.Flow),
	}
}

func (r *flowRegistry) Register(flow *api.Flow) error {
	if flow == nil {
		return fmt.Errorf("register: nil flow")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[flow.Name()]; exists {
		return fmt.Errorf("flow %q already registered", flow.Name())
	}
	r.byName[flow.Name()] = flow
	return nil
}

func (r *flowRegistry) Get(name string) (*api.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flow, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrUnknownFlow, name)
	}
	return flow, nil
}

func (r *flowRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
