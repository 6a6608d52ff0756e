package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/cascade/pkg/api"
)

// runStore is a goroutine-safe registry of runs keyed by ID. Readers get
// copies; the engine owns the stored records.
type runStore struct {
	mu   sync.RWMutex
	runs map[string]*api.Run
}

func newRunStore() *runStore {
	return &runStore{
		runs: make(map[string]*api.Run),
	}
}

// create registers run. An ID may be reused once its previous run finished.
func (s *runStore) create(run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.runs[run.ID]; ok && active(prev.Status) {
		return fmt.Errorf("run %q is already active", run.ID)
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *runStore) update(id string, fn func(*api.Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[id]; ok {
		fn(run)
	}
}

func (s *runStore) get(id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrRunNotFound, id)
	}
	return copyRun(run), nil
}

func (s *runStore) list(filter api.RunFilter) []*api.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*api.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Match(run) {
			out = append(out, copyRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func active(st api.Status) bool {
	return st == api.StatusRunning || st == api.StatusWaiting
}

func copyRun(r *api.Run) *api.Run {
	cp := *r
	cp.Compensated = append([]string(nil), r.Compensated...)
	cp.CompensationErrors = append([]error(nil), r.CompensationErrors...)
	return &cp
}
