package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SQLiteQueue is a persistent task queue backed by SQLite. Tasks are stored
// gob-encoded and handed out in (not_before, seq) order.
//
// The caller imports the driver, e.g. _ "modernc.org/sqlite".
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
	now          func() time.Time
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

// NewSQLiteQueue initializes the tasks table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
		now:          time.Now,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			data BLOB NOT NULL,
			not_before INTEGER NOT NULL,
			owner TEXT NOT NULL DEFAULT '',
			lease_until INTEGER NOT NULL DEFAULT 0
		);
	`)
	return err
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	now := q.now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = now
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}

	data, err := EncodeTask(t)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, data, not_before)
		VALUES (?, ?, ?)`,
		t.ID, data, t.NotBefore.UnixNano(),
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context, owner string, lease time.Duration) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		task, err := q.claim(ctx, owner, lease)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		// Nothing available: sleep a bit and retry.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// claim leases the next eligible row, or returns nil when there is none.
func (q *SQLiteQueue) claim(ctx context.Context, owner string, lease time.Duration) (*Task, error) {
	now := q.now()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id   string
		data []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, data
		FROM tasks
		WHERE not_before <= ? AND lease_until <= ?
		ORDER BY not_before, seq
		LIMIT 1`, now.UnixNano(), now.UnixNano(),
	).Scan(&id, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET owner = ?, lease_until = ?
		WHERE id = ? AND lease_until <= ?`,
		owner, now.Add(lease).UnixNano(), id, now.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		// Another consumer claimed it first.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return DecodeTask(data)
}

func (q *SQLiteQueue) Ack(ctx context.Context, id, owner string) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM tasks WHERE id = ? AND owner = ? AND lease_until > ?`,
		id, owner, q.now().UnixNano(),
	)
	if err != nil {
		return err
	}
	return q.checkLeased(ctx, res, id)
}

func (q *SQLiteQueue) Nack(ctx context.Context, id, owner string, retryAt time.Time, cause error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var data []byte
	err = tx.QueryRowContext(ctx, `
		SELECT data FROM tasks WHERE id = ? AND owner = ? AND lease_until > ?`,
		id, owner, q.now().UnixNano(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return missingOrLost(ctx, tx, id)
	}
	if err != nil {
		return err
	}

	t, err := DecodeTask(data)
	if err != nil {
		return err
	}
	t.Attempts++
	t.LastError = errString(cause)
	t.NotBefore = retryAt
	if data, err = EncodeTask(*t); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET data = ?, not_before = ?, owner = '', lease_until = 0
		WHERE id = ?`,
		data, retryAt.UnixNano(), id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *SQLiteQueue) Renew(ctx context.Context, id, owner string, lease time.Duration) error {
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET lease_until = ?
		WHERE id = ? AND owner = ? AND lease_until > ?`,
		now.Add(lease).UnixNano(), id, owner, now.UnixNano(),
	)
	if err != nil {
		return err
	}
	return q.checkLeased(ctx, res, id)
}

func (q *SQLiteQueue) checkLeased(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	return missingOrLost(ctx, q.db, id)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func missingOrLost(ctx context.Context, db rowQuerier, id string) error {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	return ErrLeaseLost
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
