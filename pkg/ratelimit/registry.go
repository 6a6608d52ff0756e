package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrDuplicateLimiter is returned when registering an ID twice.
var ErrDuplicateLimiter = errors.New("ratelimit: limiter already registered")

// Registry holds shared limiters keyed by ID. Every node that references the
// same ID contends for the same bucket, so capacity is never multiplied by
// the number of referencing nodes.
//
// A Registry is an ordinary value owned by whoever builds the engine; there
// is no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	opts     []Option
}

// NewRegistry creates an empty registry. opts are applied to every limiter
// the registry creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		opts:     opts,
	}
}

// Register creates and stores a limiter under id.
func (r *Registry) Register(id string, capacity int, window time.Duration) (*Limiter, error) {
	if id == "" {
		return nil, errors.New("ratelimit: limiter id is required")
	}

	opts := append(append([]Option{}, r.opts...), WithID(id))
	l, err := New(capacity, window, opts...)
	if err != nil {
		return nil, fmt.Errorf("limiter %q: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.limiters[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateLimiter, id)
	}
	r.limiters[id] = l
	return l, nil
}

// Get returns the limiter registered under id.
func (r *Registry) Get(id string) (*Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.limiters[id]
	return l, ok
}

// MustGet is like Get but panics when id is not registered.
func (r *Registry) MustGet(id string) *Limiter {
	l, ok := r.Get(id)
	if !ok {
		panic(fmt.Sprintf("ratelimit: no limiter registered under %q", id))
	}
	return l
}

// IDs returns the registered IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.limiters))
	for id := range r.limiters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
