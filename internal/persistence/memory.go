package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/cascade/pkg/api"
)

type memKey struct {
	ns   string
	run  string
	flow string
}

type memData struct {
	mu     sync.RWMutex
	states map[memKey]api.PersistedState
}

// MemoryBackend is a goroutine-safe StateBackend backed by a map. Namespaced
// views created with WithNamespace share the same storage.
type MemoryBackend struct {
	data *memData
	ns   string
}

var _ api.NamespacedBackend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: &memData{states: make(map[memKey]api.PersistedState)},
		ns:   DefaultNamespace,
	}
}

func (b *MemoryBackend) WithNamespace(ns string) api.StateBackend {
	return &MemoryBackend{data: b.data, ns: namespaceOr(ns)}
}

func (b *MemoryBackend) Load(ctx context.Context, runID, flowName string) (*api.PersistedState, error) {
	if err := checkKey(runID, flowName); err != nil {
		return nil, err
	}

	b.data.mu.RLock()
	defer b.data.mu.RUnlock()

	st, ok := b.data.states[memKey{ns: b.ns, run: runID, flow: flowName}]
	if !ok {
		return nil, notFound(b.ns, runID, flowName)
	}
	cp := clone(st)
	return &cp, nil
}

func (b *MemoryBackend) Save(ctx context.Context, runID, flowName string, state api.PersistedState) error {
	if err := checkKey(runID, flowName); err != nil {
		return err
	}

	b.data.mu.Lock()
	defer b.data.mu.Unlock()

	b.data.states[memKey{ns: b.ns, run: runID, flow: flowName}] = clone(state)
	return nil
}

func clone(st api.PersistedState) api.PersistedState {
	out := normalize(st)
	if st.Metadata != nil {
		out.Metadata = make(map[string]string, len(st.Metadata))
		for k, v := range st.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
