package cascade

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/petrijr/cascade/internal/config"
	"github.com/petrijr/cascade/internal/testutil"
	"github.com/petrijr/cascade/pkg/api"
)

func mustOpenSQLite(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenStateBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	checkOpenStateBackend(t, map[string]config.StateConfig{
		"memory": {Backend: "memory", Namespace: "ns"},
		"file":   {Backend: "file", Namespace: "ns", Dir: t.TempDir()},
		"sqlite": {Backend: "sqlite", Namespace: "ns", DSN: ":memory:"},
		"redis":  {Backend: "redis", Namespace: "ns", RedisAddr: mr.Addr()},
	})
}

// TestOpenStateBackendContainers runs the network backends against real
// servers. Skipped with -short or without a container runtime.
func TestOpenStateBackendContainers(t *testing.T) {
	checkOpenStateBackend(t, map[string]config.StateConfig{
		"redis":    {Backend: "redis", Namespace: "ns", RedisAddr: testutil.StartRedis(t)},
		"postgres": {Backend: "postgres", Namespace: "ns", DSN: testutil.StartPostgres(t)},
		"mongo":    {Backend: "mongo", Namespace: "ns", MongoURI: testutil.StartMongo(t), MongoDatabase: "cascade_test"},
	})
}

func checkOpenStateBackend(t *testing.T, cases map[string]config.StateConfig) {
	t.Helper()
	for name, sc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			backend, closeFn, err := OpenStateBackend(ctx, sc)
			if err != nil {
				t.Fatalf("OpenStateBackend: %v", err)
			}
			defer func() {
				if err := closeFn(); err != nil {
					t.Errorf("close: %v", err)
				}
			}()

			if _, err := backend.Load(ctx, "r1", "f"); !errors.Is(err, api.ErrStateNotFound) {
				t.Fatalf("expected ErrStateNotFound, got %v", err)
			}
			at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			want := api.PersistedState{
				Cursors:   map[string]api.Cursor{"inbox": {Source: "inbox", Position: "7", UpdatedAt: at}},
				Version:   1,
				UpdatedAt: at,
			}
			if err := backend.Save(ctx, "r1", "f", want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := backend.Load(ctx, "r1", "f")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Version != 1 || got.Cursors["inbox"].Position != "7" || !got.UpdatedAt.Equal(at) {
				t.Fatalf("unexpected state: %+v", got)
			}
		})
	}
}

func TestOpenStateBackendErrors(t *testing.T) {
	ctx := context.Background()
	if _, closeFn, err := OpenStateBackend(ctx, config.StateConfig{Backend: "etcd"}); err == nil || closeFn == nil {
		t.Fatalf("expected error and non-nil close func for unknown backend")
	}

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, _, err := OpenStateBackend(ctx, config.StateConfig{Backend: "redis", RedisAddr: addr}); err == nil {
		t.Fatalf("expected ping error for stopped redis")
	}
}

func TestSQLiteQueueConstructor(t *testing.T) {
	q, err := NewSQLiteQueue(mustOpenSQLite(t, ":memory:"))
	if err != nil {
		t.Fatalf("NewSQLiteQueue: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue")
	}
}
