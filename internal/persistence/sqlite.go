package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/cascade/pkg/api"
)

// SQLiteBackend is a StateBackend backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteBackend struct {
	db *sql.DB
	ns string
}

var _ api.NamespacedBackend = (*SQLiteBackend)(nil)

// NewSQLiteBackend initializes the required schema in the given database
// and returns a new SQLiteBackend.
func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	b := &SQLiteBackend{db: db, ns: DefaultNamespace}
	if err := b.initSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS flow_state (
			namespace TEXT NOT NULL,
			run_id TEXT NOT NULL,
			flow_name TEXT NOT NULL,
			cursors TEXT NOT NULL,
			metadata TEXT,
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, run_id, flow_name)
		);`,
	)
	return err
}

func (b *SQLiteBackend) WithNamespace(ns string) api.StateBackend {
	return &SQLiteBackend{db: b.db, ns: namespaceOr(ns)}
}

func (b *SQLiteBackend) Load(ctx context.Context, runID, flowName string) (*api.PersistedState, error) {
	if err := checkKey(runID, flowName); err != nil {
		return nil, err
	}

	row := b.db.QueryRowContext(ctx, `
		SELECT cursors, metadata, version, updated_at
		FROM flow_state
		WHERE namespace = ? AND run_id = ? AND flow_name = ?`,
		b.ns, runID, flowName,
	)

	var (
		cursors, updatedAt string
		metadata           sql.NullString
		version            int64
	)
	if err := row.Scan(&cursors, &metadata, &version, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(b.ns, runID, flowName)
		}
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return decodeColumns(cursors, metadata.String, version, ts)
}

func (b *SQLiteBackend) Save(ctx context.Context, runID, flowName string, state api.PersistedState) error {
	if err := checkKey(runID, flowName); err != nil {
		return err
	}

	cursors, metadata, err := encodeColumns(state)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO flow_state (namespace, run_id, flow_name, cursors, metadata, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, run_id, flow_name) DO UPDATE SET
			cursors = excluded.cursors,
			metadata = excluded.metadata,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		b.ns, runID, flowName, cursors, metadata, state.Version,
		state.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}
