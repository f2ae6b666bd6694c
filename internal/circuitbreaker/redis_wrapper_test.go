package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMiniRedisWrapper(t *testing.T) (*RedisWrapper, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWrapper(client, "test", zaptest.NewLogger(t)), s
}

func TestRedisWrapper_NormalOperations(t *testing.T) {
	wrapper, _ := newMiniRedisWrapper(t)
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx))
	require.NoError(t, wrapper.Set(ctx, "session:abc", "payload", time.Minute))

	val, err := wrapper.Get(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(val))

	_, err = wrapper.Get(ctx, "session:missing")
	assert.ErrorIs(t, err, redis.Nil)
	assert.False(t, wrapper.IsCircuitBreakerOpen())

	n, err := wrapper.Del(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisWrapper_WatchConflictDoesNotTrip(t *testing.T) {
	wrapper, _ := newMiniRedisWrapper(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := wrapper.Watch(ctx, func(tx *redis.Tx) error {
			return redis.TxFailedErr
		}, "session:contended")
		assert.True(t, errors.Is(err, redis.TxFailedErr))
	}
	assert.False(t, wrapper.IsCircuitBreakerOpen())
}

func TestRedisWrapper_CircuitBreakerTriggering(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:       "localhost:9999",
		MaxRetries: -1,
	})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "test", zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		assert.Error(t, wrapper.Ping(ctx))
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())

	_, err := wrapper.Get(ctx, "any:key")
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}
