package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/circuitbreaker"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
)

// Mutation derives the next committed state from the current one. cur is nil
// when the key has never been written. It must not modify cur.
type Mutation func(cur *Session) (*Session, error)

// Backend persists committed session state. Load never blocks on writers;
// Update applies a mutation with compare-and-commit semantics.
type Backend interface {
	Load(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, id string, fn Mutation) (*Session, error)
	Close() error
}

// MemoryBackend keeps immutable snapshots in a sync.Map.
type MemoryBackend struct {
	m sync.Map // id -> *Session
}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (b *MemoryBackend) Load(_ context.Context, id string) (*Session, error) {
	v, ok := b.m.Load(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*Session).clone(), nil
}

func (b *MemoryBackend) Update(_ context.Context, id string, fn Mutation) (*Session, error) {
	var cur *Session
	if v, ok := b.m.Load(id); ok {
		cur = v.(*Session)
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	b.m.Store(id, next)
	return next.clone(), nil
}

func (b *MemoryBackend) Close() error { return nil }

const maxCommitRetries = 5

// RedisBackend stores one JSON document per session and commits with
// WATCH/MULTI so a concurrent writer from another process forces a retry.
type RedisBackend struct {
	client *circuitbreaker.RedisWrapper
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisBackend wraps client. ttl 0 keeps sessions forever.
func NewRedisBackend(client *circuitbreaker.RedisWrapper, ttl time.Duration, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBackend{client: client, prefix: "rde:session:", ttl: ttl, logger: logger}
}

func (b *RedisBackend) key(id string) string { return b.prefix + id }

func (b *RedisBackend) Load(ctx context.Context, id string) (*Session, error) {
	data, err := b.client.Get(ctx, b.key(id))
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (b *RedisBackend) Update(ctx context.Context, id string, fn Mutation) (*Session, error) {
	key := b.key(id)
	var committed *Session

	txf := func(tx *redis.Tx) error {
		var cur *Session
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			cur = &Session{}
			if err := json.Unmarshal(data, cur); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, b.ttl)
			return nil
		})
		if err == nil {
			committed = next
		}
		return err
	}

	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		err := b.client.Watch(ctx, txf, key)
		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		metrics.SessionWriteConflicts.Inc()
		b.logger.Debug("Session commit conflict, retrying",
			zap.String("session_id", id),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("session %s: commit retries exhausted: %w", id, redis.TxFailedErr)
}

func (b *RedisBackend) Close() error { return b.client.Close() }
