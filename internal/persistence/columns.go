package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// encodeColumns renders the map fields of a state as JSON text for SQL
// backends.
func encodeColumns(state api.PersistedState) (cursors string, metadata string, err error) {
	c, err := json.Marshal(normalize(state).Cursors)
	if err != nil {
		return "", "", fmt.Errorf("encode cursors: %w", err)
	}
	if len(state.Metadata) == 0 {
		return string(c), "", nil
	}
	m, err := json.Marshal(state.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(c), string(m), nil
}

func decodeColumns(cursors, metadata string, version int64, updatedAt time.Time) (*api.PersistedState, error) {
	st := api.PersistedState{Version: version, UpdatedAt: updatedAt}
	if err := json.Unmarshal([]byte(cursors), &st.Cursors); err != nil {
		return nil, fmt.Errorf("decode cursors: %w", err)
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &st.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	st = normalize(st)
	return &st, nil
}
