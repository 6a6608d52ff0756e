package api

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Input is the opaque trigger payload a run starts with.
type Input map[string][]byte

// Cursor is an opaque position marker for incremental processing.
type Cursor struct {
	Source    string    `json:"source" bson:"source"`
	Position  string    `json:"position" bson:"position"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// FlowState is the run-scoped store shared by every node of a run.
//
// A single RWMutex guards input, results and cursors, so result writes and
// cursor updates are atomic with respect to each other.
type FlowState struct {
	mu      sync.RWMutex
	input   Input
	results map[string]any
	cursors map[string]Cursor
}

// NewFlowState creates a state seeded with a copy of input.
func NewFlowState(input Input) *FlowState {
	return &FlowState{
		input:   copyInput(input),
		results: make(map[string]any),
		cursors: make(map[string]Cursor),
	}
}

// Input returns a copy of the named input blob.
func (s *FlowState) Input(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.input[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Inputs returns a copy of the whole input map.
func (s *FlowState) Inputs() Input {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyInput(s.input)
}

// Set stores a result under key, replacing any previous value.
func (s *FlowState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = value
}

// Result returns the raw result stored under key.
func (s *FlowState) Result(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.results[key]
	return v, ok
}

// Has reports whether a result exists for key.
func (s *FlowState) Has(key string) bool {
	_, ok := s.Result(key)
	return ok
}

// Keys returns the result keys in sorted order.
func (s *FlowState) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.results))
	for k := range s.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Cursor returns the cursor for source.
func (s *FlowState) Cursor(source string) (Cursor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[source]
	return c, ok
}

// SetCursor moves the cursor for source to position.
func (s *FlowState) SetCursor(source, position string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[source] = Cursor{
		Source:    source,
		Position:  position,
		UpdatedAt: at,
	}
}

// Cursors returns a copy of all cursors.
func (s *FlowState) Cursors() map[string]Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Cursor, len(s.cursors))
	for k, c := range s.cursors {
		out[k] = c
	}
	return out
}

// LoadCursors replaces the cursor set, typically with persisted cursors at
// the start of a run.
func (s *FlowState) LoadCursors(cursors map[string]Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors = make(map[string]Cursor, len(cursors))
	for k, c := range cursors {
		if c.Source == "" {
			c.Source = k
		}
		s.cursors[k] = c
	}
}

// Snapshot returns a deep, independent copy of the state. Later writes to
// either copy are invisible to the other.
func (s *FlowState) Snapshot() *FlowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Apply stores a node's result and its cursor advances under one lock.
// With snapshot set it also returns a Snapshot taken under that lock, so
// concurrent writers cannot land between the write and the copy.
func (s *FlowState) Apply(key string, value any, positions map[string]string, at time.Time, snapshot bool) *FlowState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[key] = value
	for src, pos := range positions {
		s.cursors[src] = Cursor{Source: src, Position: pos, UpdatedAt: at}
	}
	if !snapshot {
		return nil
	}
	return s.snapshotLocked()
}

func (s *FlowState) snapshotLocked() *FlowState {
	snap := &FlowState{
		input:   copyInput(s.input),
		results: make(map[string]any, len(s.results)),
		cursors: make(map[string]Cursor, len(s.cursors)),
	}
	for k, v := range s.results {
		snap.results[k] = deepCopy(v)
	}
	for k, c := range s.cursors {
		snap.cursors[k] = c
	}
	return snap
}

// Get returns the result stored under key as a T.
//
// It returns ErrResultNotFound if there is no such key and a
// *TypeMismatchError if the stored value is not a T; it never panics.
func Get[T any](s *FlowState, key string) (T, error) {
	var zero T

	raw, ok := s.Result(key)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrResultNotFound, key)
	}

	v, ok := raw.(T)
	if !ok {
		// A nil stored for an interface or pointer-like T is a valid zero.
		if raw == nil && canBeNil(reflect.TypeOf((*T)(nil)).Elem()) {
			return zero, nil
		}
		return zero, &TypeMismatchError{
			Key:  key,
			Want: typeName[T](),
			Got:  fmt.Sprintf("%T", raw),
		}
	}
	return v, nil
}

func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

func canBeNil(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

func copyInput(in Input) Input {
	out := make(Input, len(in))
	for k, v := range in {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
