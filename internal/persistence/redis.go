package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/cascade/pkg/api"
)

// RedisBackend is a StateBackend backed by Redis. It uses a simple key
// structure:
//
//	<prefix><ns>:state:<runID>:<flow>   => encoded PersistedState
//	<prefix><ns>:runs:<flow>            => SET of run IDs with saved state
//
// The run index is best-effort and only used by RunIDs.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	ns     string
	codec  Codec
}

var _ api.NamespacedBackend = (*RedisBackend)(nil)

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithRedisCodec replaces the default JSON codec.
func WithRedisCodec(c Codec) RedisOption {
	return func(b *RedisBackend) { b.codec = c }
}

// NewRedisBackend creates a RedisBackend. prefix is optional but recommended
// (e.g. "cascade:").
func NewRedisBackend(client redis.UniversalClient, prefix string, opts ...RedisOption) *RedisBackend {
	if prefix == "" {
		prefix = "cascade:"
	}
	b := &RedisBackend{
		client: client,
		prefix: prefix,
		ns:     DefaultNamespace,
		codec:  JSON,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBackend) WithNamespace(ns string) api.StateBackend {
	cp := *b
	cp.ns = namespaceOr(ns)
	return &cp
}

func (b *RedisBackend) keyState(runID, flowName string) string {
	return b.prefix + b.ns + ":state:" + runID + ":" + flowName
}

func (b *RedisBackend) keyRuns(flowName string) string {
	return b.prefix + b.ns + ":runs:" + flowName
}

func (b *RedisBackend) Load(ctx context.Context, runID, flowName string) (*api.PersistedState, error) {
	if err := checkKey(runID, flowName); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.keyState(runID, flowName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(b.ns, runID, flowName)
		}
		return nil, err
	}

	var st api.PersistedState
	if err := b.codec.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.keyState(runID, flowName), err)
	}
	return &st, nil
}

func (b *RedisBackend) Save(ctx context.Context, runID, flowName string, state api.PersistedState) error {
	if err := checkKey(runID, flowName); err != nil {
		return err
	}

	data, err := b.codec.Marshal(state)
	if err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.keyState(runID, flowName), data, 0)
	pipe.SAdd(ctx, b.keyRuns(flowName), runID)
	_, err = pipe.Exec(ctx)
	return err
}

// RunIDs returns the run IDs that have state saved for flowName.
func (b *RedisBackend) RunIDs(ctx context.Context, flowName string) ([]string, error) {
	ids, err := b.client.SMembers(ctx, b.keyRuns(flowName)).Result()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	return ids, err
}
