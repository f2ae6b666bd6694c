package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper guards a go-redis client with a circuit breaker. redis.Nil and
// optimistic-lock conflicts are normal outcomes and never trip the breaker.
type RedisWrapper struct {
	client  redis.UniversalClient
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client redis.UniversalClient, service string, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := RedisSettings().ToConfig()
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, redis.Nil) &&
			!errors.Is(err, redis.TxFailedErr) &&
			!errors.Is(err, context.Canceled)
	}
	cb := NewCircuitBreaker("redis", cfg, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", service, cb)

	return &RedisWrapper{client: client, cb: cb, service: service, logger: logger}
}

func (rw *RedisWrapper) record(err error) {
	GlobalMetricsCollector.RecordRequest("redis", rw.service, rw.cb.State(), err == nil || !rw.cb.isFailure(err))
}

// Ping wraps Redis Ping with circuit breaker
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	err := rw.cb.Execute(ctx, func() error {
		return rw.client.Ping(ctx).Err()
	})
	rw.record(err)
	return err
}

// Get returns the raw value at key; a missing key yields redis.Nil.
func (rw *RedisWrapper) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := Call(ctx, rw.cb, func() ([]byte, error) {
		return rw.client.Get(ctx, key).Bytes()
	})
	rw.record(err)
	return val, err
}

// Set wraps Redis Set with circuit breaker
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	err := rw.cb.Execute(ctx, func() error {
		return rw.client.Set(ctx, key, value, expiration).Err()
	})
	rw.record(err)
	return err
}

// Del wraps Redis Del with circuit breaker
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := Call(ctx, rw.cb, func() (int64, error) {
		return rw.client.Del(ctx, keys...).Result()
	})
	rw.record(err)
	return n, err
}

// Watch runs fn inside an optimistic WATCH transaction over keys. A concurrent
// modification surfaces as redis.TxFailedErr for the caller to retry.
func (rw *RedisWrapper) Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	err := rw.cb.Execute(ctx, func() error {
		return rw.client.Watch(ctx, fn, keys...)
	})
	rw.record(err)
	return err
}

// Close wraps Redis Close
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// Client returns the underlying client for health checks.
func (rw *RedisWrapper) Client() redis.UniversalClient {
	return rw.client
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
