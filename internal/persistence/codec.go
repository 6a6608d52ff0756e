package persistence

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"

	"github.com/petrijr/cascade/pkg/api"
)

// Codec serializes persisted flow state for byte-oriented backends.
type Codec interface {
	Marshal(state api.PersistedState) ([]byte, error)
	Unmarshal(data []byte, state *api.PersistedState) error
}

var (
	// JSON is the default codec. Its output is readable on disk and in
	// redis-cli.
	JSON Codec = jsonCodec{}

	// Gob is a compact binary codec for Go-only deployments.
	Gob Codec = gobCodec{}
)

var errEmptyPayload = errors.New("empty state payload")

type jsonCodec struct{}

func (jsonCodec) Marshal(state api.PersistedState) ([]byte, error) {
	return json.Marshal(normalize(state))
}

func (jsonCodec) Unmarshal(data []byte, state *api.PersistedState) error {
	if len(data) == 0 {
		return errEmptyPayload
	}
	if err := json.Unmarshal(data, state); err != nil {
		return err
	}
	*state = normalize(*state)
	return nil
}

type gobCodec struct{}

func (gobCodec) Marshal(state api.PersistedState) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(normalize(state)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, state *api.PersistedState) error {
	if len(data) == 0 {
		return errEmptyPayload
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(state); err != nil {
		return err
	}
	*state = normalize(*state)
	return nil
}

// normalize guarantees a non-nil cursor map and fills in cursor sources
// from their keys.
func normalize(state api.PersistedState) api.PersistedState {
	cursors := make(map[string]api.Cursor, len(state.Cursors))
	for k, c := range state.Cursors {
		if c.Source == "" {
			c.Source = k
		}
		cursors[k] = c
	}
	state.Cursors = cursors
	return state
}
