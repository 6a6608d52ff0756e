package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/petrijr/cascade/pkg/api"
)

// FileBackend stores each state as a JSON document at
// <dir>/<namespace>/<runID>/<flowName>.json. Path segments are escaped, so
// child run IDs containing "/" stay inside their namespace directory.
type FileBackend struct {
	dir   string
	ns    string
	codec Codec
}

var _ api.NamespacedBackend = (*FileBackend)(nil)

// NewFileBackend creates a backend rooted at dir. The directory is created
// on first save.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir, ns: DefaultNamespace, codec: JSON}
}

func (b *FileBackend) WithNamespace(ns string) api.StateBackend {
	return &FileBackend{dir: b.dir, ns: namespaceOr(ns), codec: b.codec}
}

// Path returns the file that holds the state for (runID, flowName).
func (b *FileBackend) Path(runID, flowName string) string {
	return filepath.Join(b.dir, segment(b.ns), segment(runID), segment(flowName)+".json")
}

func segment(s string) string {
	e := url.PathEscape(s)
	if e == "." || e == ".." {
		e = strings.ReplaceAll(e, ".", "%2E")
	}
	return e
}

func (b *FileBackend) Load(ctx context.Context, runID, flowName string) (*api.PersistedState, error) {
	if err := checkKey(runID, flowName); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.Path(runID, flowName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(b.ns, runID, flowName)
	}
	if err != nil {
		return nil, err
	}

	var st api.PersistedState
	if err := b.codec.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.Path(runID, flowName), err)
	}
	return &st, nil
}

// Save writes the state to a temporary file and renames it into place, so a
// reader never sees a partial document.
func (b *FileBackend) Save(ctx context.Context, runID, flowName string, state api.PersistedState) error {
	if err := checkKey(runID, flowName); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := b.codec.Marshal(state)
	if err != nil {
		return err
	}

	path := b.Path(runID, flowName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
