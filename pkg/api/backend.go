package api

import (
	"context"
	"time"
)

// PersistedState is what a StateBackend stores per (runID, flowName).
type PersistedState struct {
	Cursors   map[string]Cursor `json:"cursors" bson:"cursors"`
	Metadata  map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Version   int64             `json:"version" bson:"version"`
	UpdatedAt time.Time         `json:"updated_at" bson:"updated_at"`
}

// StateBackend persists cursors between runs.
type StateBackend interface {
	// Load returns ErrStateNotFound when nothing was saved yet.
	Load(ctx context.Context, runID, flowName string) (*PersistedState, error)
	Save(ctx context.Context, runID, flowName string, state PersistedState) error
}

// NamespacedBackend is implemented by backends that can scope their keys.
type NamespacedBackend interface {
	StateBackend
	WithNamespace(ns string) StateBackend
}

// StateConfig selects where a flow's cursors are persisted.
type StateConfig struct {
	Backend   StateBackend
	Namespace string
}

// ResolvedBackend returns Backend scoped to Namespace when supported.
func (c StateConfig) ResolvedBackend() StateBackend {
	if c.Backend == nil {
		return nil
	}
	if c.Namespace == "" {
		return c.Backend
	}
	if nb, ok := c.Backend.(NamespacedBackend); ok {
		return nb.WithNamespace(c.Namespace)
	}
	return c.Backend
}
