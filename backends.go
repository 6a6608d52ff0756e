package cascade

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/cascade/internal/config"
	"github.com/petrijr/cascade/internal/persistence"
	"github.com/petrijr/cascade/internal/taskqueue"
	"github.com/petrijr/cascade/pkg/api"
)

// Backend constructors
// These wrap internal/persistence so external callers never need to import
// internal packages.

// NewMemoryBackend returns a non-durable backend, best for tests.
func NewMemoryBackend() api.NamespacedBackend {
	return persistence.NewMemoryBackend()
}

// NewFileBackend stores one JSON document per run and flow under dir.
func NewFileBackend(dir string) api.NamespacedBackend {
	return persistence.NewFileBackend(dir)
}

// NewRedisBackend stores state in Redis under prefix ("cascade:" if empty).
func NewRedisBackend(client redis.UniversalClient, prefix string) api.NamespacedBackend {
	return persistence.NewRedisBackend(client, prefix)
}

// NewSQLiteBackend creates the flow_state table in db if needed.
func NewSQLiteBackend(db *sql.DB) (api.NamespacedBackend, error) {
	b, err := persistence.NewSQLiteBackend(db)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewPostgresBackend creates the flow_state table in db if needed.
func NewPostgresBackend(db *sql.DB) (api.NamespacedBackend, error) {
	b, err := persistence.NewPostgresBackend(db)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewMongoBackend stores state in dbName.collName ("cascade.flow_state" by
// default).
func NewMongoBackend(client *mongo.Client, dbName, collName string) api.NamespacedBackend {
	return persistence.NewMongoBackend(client, dbName, collName)
}

// NewSQLiteQueue returns a durable task queue in db.
func NewSQLiteQueue(db *sql.DB) (taskqueue.Queue, error) {
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// OpenSQLite opens a SQLite database with the modernc driver. The pool is
// limited to one connection so concurrent writers queue instead of failing
// with SQLITE_BUSY.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	return db, nil
}

// OpenPostgres opens and pings a PostgreSQL database through pgx.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OpenStateBackend connects the backend described by cfg, scoped to
// cfg.Namespace. The returned close func releases the connection and is
// never nil.
func OpenStateBackend(ctx context.Context, cfg config.StateConfig) (api.StateBackend, func() error, error) {
	noop := func() error { return nil }

	var (
		backend api.NamespacedBackend
		closer  = noop
	)
	switch cfg.Backend {
	case "", "memory":
		backend = NewMemoryBackend()
	case "file":
		backend = NewFileBackend(cfg.Dir)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		backend = NewRedisBackend(client, cfg.RedisPrefix)
		closer = client.Close
	case "sqlite":
		db, err := OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		if backend, err = NewSQLiteBackend(db); err != nil {
			db.Close()
			return nil, noop, err
		}
		closer = db.Close
	case "postgres":
		db, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, noop, err
		}
		if backend, err = NewPostgresBackend(db); err != nil {
			db.Close()
			return nil, noop, err
		}
		closer = db.Close
	case "mongo":
		client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, noop, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, noop, fmt.Errorf("ping mongo: %w", err)
		}
		backend = NewMongoBackend(client, cfg.MongoDatabase, "")
		closer = func() error { return client.Disconnect(context.Background()) }
	default:
		return nil, noop, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}

	return backend.WithNamespace(cfg.Namespace), closer, nil
}
