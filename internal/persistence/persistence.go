// Package persistence contains the StateBackend implementations that keep
// flow cursors between runs: memory, local files, Redis, SQLite, PostgreSQL
// and MongoDB.
//
// Every backend keys state by (namespace, runID, flowName). Load returns
// api.ErrStateNotFound when nothing was saved for the key.
package persistence

import (
	"errors"
	"fmt"

	"github.com/petrijr/cascade/pkg/api"
)

// ErrInvalidKey is returned for an empty run ID or flow name.
var ErrInvalidKey = errors.New("run id and flow name are required")

// DefaultNamespace is used when a backend is created without one.
const DefaultNamespace = "default"

func checkKey(runID, flowName string) error {
	if runID == "" || flowName == "" {
		return ErrInvalidKey
	}
	return nil
}

func notFound(ns, runID, flowName string) error {
	return fmt.Errorf("%w: %s/%s/%s", api.ErrStateNotFound, ns, runID, flowName)
}

func namespaceOr(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}
