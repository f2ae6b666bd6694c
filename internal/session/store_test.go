package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/circuitbreaker"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// miniredis and go-redis pools close asynchronously
		goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).reaper"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func newRedisStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zaptest.NewLogger(t)
	wrapper := circuitbreaker.NewRedisWrapper(client, "session-test", logger)
	return NewStore(NewRedisBackend(wrapper, 0, logger), logger, opts...), mr
}

func backends(t *testing.T) map[string]func(t *testing.T, opts ...Option) *Store {
	return map[string]func(t *testing.T, opts ...Option) *Store{
		"memory": func(t *testing.T, opts ...Option) *Store {
			return NewStore(NewMemoryBackend(), zaptest.NewLogger(t), opts...)
		},
		"redis": func(t *testing.T, opts ...Option) *Store {
			s, _ := newRedisStore(t, opts...)
			return s
		},
	}
}

func TestStore_CreateAndRead(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			defer s.Close()
			ctx := context.Background()

			sess, err := s.CreateSession(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "s1", sess.ID)
			assert.Empty(t, sess.History)

			_, err = s.AddMessage(ctx, "s1", "user", "What is RAG?")
			require.NoError(t, err)
			_, err = s.AddMessage(ctx, "s1", "assistant", "Retrieval augmented generation.")
			require.NoError(t, err)
			_, err = s.AddResearch(ctx, "s1", "req-1")
			require.NoError(t, err)

			history, err := s.GetHistory(ctx, "s1", 0)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, "user", history[0].Role)
			assert.Equal(t, "assistant", history[1].Role)

			info, err := s.GetSessionInfo(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 2, info.MessageCount)
			assert.Equal(t, 1, info.ResearchCount)
		})
	}
}

func TestStore_CreateResetsHistory(t *testing.T) {
	s := NewStore(NewMemoryBackend(), zaptest.NewLogger(t))
	defer s.Close()
	ctx := context.Background()

	_, err := s.AddMessage(ctx, "s1", "user", "hello")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "s1")
	require.NoError(t, err)

	info, err := s.GetSessionInfo(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, info.MessageCount)
}

func TestStore_CreatedOnFirstUse(t *testing.T) {
	s := NewStore(NewMemoryBackend(), zaptest.NewLogger(t))
	defer s.Close()

	_, err := s.AddResearch(context.Background(), "fresh", "req-9")
	require.NoError(t, err)
	info, err := s.GetSessionInfo(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, 1, info.ResearchCount)
	assert.False(t, info.CreatedAt.IsZero())
}

func TestStore_AddResearchIsIdempotent(t *testing.T) {
	s := NewStore(NewMemoryBackend(), zaptest.NewLogger(t))
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.AddResearch(ctx, "s1", "req-1")
		require.NoError(t, err)
	}
	info, err := s.GetSessionInfo(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.ResearchCount)
}

func TestStore_Validation(t *testing.T) {
	s := NewStore(NewMemoryBackend(), zaptest.NewLogger(t))
	defer s.Close()
	ctx := context.Background()

	_, err := s.AddMessage(ctx, "", "user", "x")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = s.AddMessage(ctx, "has space", "user", "x")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = s.AddMessage(ctx, "s1", "robot", "x")
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = s.AddMessage(ctx, "s1", "user", "   ")
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = s.GetHistory(ctx, "bad key", 0)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = s.GetSessionInfo(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestStore_UnknownSessionReadsEmpty(t *testing.T) {
	s := NewStore(NewMemoryBackend(), zaptest.NewLogger(t))
	defer s.Close()
	ctx := context.Background()

	history, err := s.GetHistory(ctx, "missing", 0)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)

	info, err := s.GetSessionInfo(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, Info{SessionID: "missing"}, info)

	// reads never create the session
	_, err = s.backend.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_HistoryLimit(t *testing.T) {
	s := NewStore(NewMemoryBackend(), zaptest.NewLogger(t))
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.AddMessage(ctx, "s1", "user", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}
	history, err := s.GetHistory(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "m3", history[0].Content)
	assert.Equal(t, "m4", history[1].Content)
}

func TestStore_ConcurrentWritersSameKey(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := mk(t)
			defer s.Close()
			ctx := context.Background()

			const writers = 50
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.AddMessage(ctx, "shared", "user", fmt.Sprintf("msg-%d", i))
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			info, err := s.GetSessionInfo(ctx, "shared")
			require.NoError(t, err)
			assert.Equal(t, writers, info.MessageCount)
		})
	}
}

func TestStore_DistinctKeysInParallel(t *testing.T) {
	s := NewStore(NewMemoryBackend(), zaptest.NewLogger(t))
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for k := 0; k < 10; k++ {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(k, i int) {
				defer wg.Done()
				_, err := s.AddMessage(ctx, fmt.Sprintf("key-%d", k), "user", fmt.Sprintf("m%d", i))
				assert.NoError(t, err)
			}(k, i)
		}
	}
	wg.Wait()

	for k := 0; k < 10; k++ {
		info, err := s.GetSessionInfo(ctx, fmt.Sprintf("key-%d", k))
		require.NoError(t, err)
		assert.Equal(t, 10, info.MessageCount)
	}
}

// blockingBackend holds every Update until release is closed.
type blockingBackend struct {
	*MemoryBackend
	entered chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Update(ctx context.Context, id string, fn Mutation) (*Session, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.MemoryBackend.Update(ctx, id, fn)
}

func TestStore_ReadsDoNotWaitOnWriter(t *testing.T) {
	mem := NewMemoryBackend()
	bb := &blockingBackend{MemoryBackend: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewStore(bb, zaptest.NewLogger(t))
	defer s.Close()
	ctx := context.Background()

	_, err := mem.Update(ctx, "s1", func(*Session) (*Session, error) {
		return newSession("s1", time.Now()), nil
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.AddMessage(ctx, "s1", "user", "slow")
		done <- err
	}()
	<-bb.entered

	info, err := s.GetSessionInfo(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, info.MessageCount, "reads see the last committed state")

	close(bb.release)
	require.NoError(t, <-done)

	info, err = s.GetSessionInfo(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.MessageCount)
}

func TestStore_CallerCancellation(t *testing.T) {
	mem := NewMemoryBackend()
	bb := &blockingBackend{MemoryBackend: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewStore(bb, zaptest.NewLogger(t))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.AddMessage(ctx, "s1", "user", "first")
		done <- err
	}()
	<-bb.entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	close(bb.release)
}

func TestStore_IdleWritersExit(t *testing.T) {
	s := NewStore(NewMemoryBackend(), zaptest.NewLogger(t), WithIdleTimeout(20*time.Millisecond))
	defer s.Close()

	_, err := s.AddMessage(context.Background(), "s1", "user", "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, s.ActiveWriters())

	assert.Eventually(t, func() bool { return s.ActiveWriters() == 0 }, time.Second, 10*time.Millisecond)

	// a fresh writer is spawned on the next write
	_, err = s.AddMessage(context.Background(), "s1", "user", "again")
	require.NoError(t, err)
	history, err := s.GetHistory(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestStore_CloseRejectsWrites(t *testing.T) {
	s := NewStore(NewMemoryBackend(), zaptest.NewLogger(t))
	_, err := s.AddMessage(context.Background(), "s1", "user", "hi")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.AddMessage(context.Background(), "s1", "user", "late")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.Zero(t, s.ActiveWriters())
}

func TestRedisBackend_ConflictRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zaptest.NewLogger(t)
	backend := NewRedisBackend(circuitbreaker.NewRedisWrapper(client, "session-test", logger), 0, logger)
	defer backend.Close()
	ctx := context.Background()

	calls := 0
	sess, err := backend.Update(ctx, "s1", func(cur *Session) (*Session, error) {
		calls++
		if calls == 1 {
			// another process commits between WATCH and EXEC
			require.NoError(t, mr.Set("rde:session:s1", `{"id":"s1","history":[{"role":"user","content":"other"}],"research_ids":[]}`))
		}
		next := newSession("s1", time.Now())
		if cur != nil {
			next = cur.clone()
		}
		next.History = append(next.History, Message{Role: "user", Content: "mine"})
		return next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "other", sess.History[0].Content)
	assert.Equal(t, "mine", sess.History[1].Content)
}

func TestRedisBackend_MutationError(t *testing.T) {
	s, mr := newRedisStore(t)
	defer s.Close()
	boom := errors.New("boom")

	_, err := s.backend.Update(context.Background(), "s1", func(*Session) (*Session, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("rde:session:s1"))
}

func TestRedisBackend_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := zaptest.NewLogger(t)
	s := NewStore(NewRedisBackend(circuitbreaker.NewRedisWrapper(client, "session-test", logger), time.Hour, logger), logger)
	defer s.Close()

	_, err := s.CreateSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("rde:session:s1"))

	mr.FastForward(2 * time.Hour)
	info, err := s.GetSessionInfo(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, info.CreatedAt.IsZero())
	assert.Zero(t, info.MessageCount)
}
