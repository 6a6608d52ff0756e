package persistence

import (
	"context"
	"database/sql"
	"errors"

	"github.com/petrijr/cascade/pkg/api"
)

// PostgresBackend is a StateBackend backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresBackend struct {
	db *sql.DB
	ns string
}

var _ api.NamespacedBackend = (*PostgresBackend)(nil)

// NewPostgresBackend initializes the required schema in the given database
// and returns a new PostgresBackend.
func NewPostgresBackend(db *sql.DB) (*PostgresBackend, error) {
	b := &PostgresBackend{db: db, ns: DefaultNamespace}
	if err := b.initSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) initSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS flow_state (
			namespace TEXT NOT NULL,
			run_id TEXT NOT NULL,
			flow_name TEXT NOT NULL,
			cursors JSONB NOT NULL,
			metadata JSONB,
			version BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (namespace, run_id, flow_name)
		);
	`)
	return err
}

func (b *PostgresBackend) WithNamespace(ns string) api.StateBackend {
	return &PostgresBackend{db: b.db, ns: namespaceOr(ns)}
}

func (b *PostgresBackend) Load(ctx context.Context, runID, flowName string) (*api.PersistedState, error) {
	if err := checkKey(runID, flowName); err != nil {
		return nil, err
	}

	row := b.db.QueryRowContext(ctx, `
		SELECT cursors::text, COALESCE(metadata::text, ''), version, updated_at
		FROM flow_state
		WHERE namespace = $1 AND run_id = $2 AND flow_name = $3`,
		b.ns, runID, flowName,
	)

	var (
		cursors, metadata string
		version           int64
		st                api.PersistedState
	)
	if err := row.Scan(&cursors, &metadata, &version, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(b.ns, runID, flowName)
		}
		return nil, err
	}
	return decodeColumns(cursors, metadata, version, st.UpdatedAt)
}

func (b *PostgresBackend) Save(ctx context.Context, runID, flowName string, state api.PersistedState) error {
	if err := checkKey(runID, flowName); err != nil {
		return err
	}

	cursors, metadata, err := encodeColumns(state)
	if err != nil {
		return err
	}
	var meta any
	if metadata != "" {
		meta = metadata
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO flow_state (namespace, run_id, flow_name, cursors, metadata, version, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7)
		ON CONFLICT (namespace, run_id, flow_name) DO UPDATE SET
			cursors = EXCLUDED.cursors,
			metadata = EXCLUDED.metadata,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at`,
		b.ns, runID, flowName, cursors, meta, state.Version, state.UpdatedAt.UTC(),
	)
	return err
}
