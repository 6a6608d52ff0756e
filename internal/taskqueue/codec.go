package taskqueue

import (
	"bytes"
	"encoding/gob"

	"github.com/petrijr/cascade/pkg/api"
)

func init() {
	// Signal payloads travel as interface values.
	gob.Register(api.GateResult{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// EncodeTask gob-encodes a Task.
func EncodeTask(t Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTask gob-decodes a Task.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}
