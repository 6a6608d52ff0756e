package persistence

import (
	"os"
	"strings"
	"testing"

	"github.com/petrijr/cascade/pkg/api"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func TestCodecs(t *testing.T) {
	for name, c := range map[string]Codec{"json": JSON, "gob": Gob} {
		t.Run(name, func(t *testing.T) {
			data, err := c.Marshal(sampleState(4))
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}

			var out api.PersistedState
			if err := c.Unmarshal(data, &out); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if out.Version != 4 {
				t.Fatalf("expected version 4, got %d", out.Version)
			}
			if out.Cursors["feed"].Source != "feed" {
				t.Fatalf("expected source filled from key, got %+v", out.Cursors["feed"])
			}

			if err := c.Unmarshal(nil, &out); err != errEmptyPayload {
				t.Fatalf("expected errEmptyPayload, got %v", err)
			}
		})
	}
}

func TestJSONCodecIsReadable(t *testing.T) {
	data, err := JSON.Marshal(api.PersistedState{
		Cursors: map[string]api.Cursor{"inbox": {Position: "7"}},
		Version: 1,
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `"inbox":{"source":"inbox","position":"7"`
	if !strings.Contains(string(data), want) {
		t.Fatalf("expected %s in %s", want, data)
	}
}
