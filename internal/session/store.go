package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
)

const defaultIdleTimeout = 30 * time.Second

// Store serializes writes per session key through a short-lived mailbox
// goroutine. Writes to different keys proceed in parallel. Reads go straight
// to the backend and never wait on a writer.
type Store struct {
	backend Backend
	logger  *zap.Logger
	idle    time.Duration
	now     func() time.Time

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

type actor struct {
	key     string
	inbox   chan request
	pending int // guarded by Store.mu
}

type request struct {
	ctx   context.Context
	fn    Mutation
	reply chan result
}

type result struct {
	session *Session
	err     error
}

// Option configures a Store.
type Option func(*Store)

// WithIdleTimeout sets how long a key's writer goroutine lingers without work.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.idle = d
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store over backend.
func NewStore(backend Backend, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend: backend,
		logger:  logger,
		idle:    defaultIdleTimeout,
		now:     time.Now,
		actors:  make(map[string]*actor),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession starts (or resets) a session with empty history.
func (s *Store) CreateSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.write(ctx, id, func(_ *Session) (*Session, error) {
		return newSession(id, s.now().UTC()), nil
	})
	metrics.RecordSessionOp("create", err)
	if err == nil {
		s.logger.Info("Session created", zap.String("session_id", id))
	}
	return sess, err
}

// AddMessage appends a message. The session is created on first use.
func (s *Store) AddMessage(ctx context.Context, id, role, content string) (*Session, error) {
	if !validRole(role) || strings.TrimSpace(content) == "" {
		metrics.RecordSessionOp("add_message", ErrInvalidMessage)
		return nil, ErrInvalidMessage
	}
	sess, err := s.write(ctx, id, func(cur *Session) (*Session, error) {
		now := s.now().UTC()
		next := s.current(id, cur, now)
		next.History = append(next.History, Message{Role: role, Content: content, Timestamp: now})
		next.UpdatedAt = now
		return next, nil
	})
	metrics.RecordSessionOp("add_message", err)
	return sess, err
}

// AddResearch records a research request id against the session. Recording an
// id the session already holds is a no-op.
func (s *Store) AddResearch(ctx context.Context, id, requestID string) (*Session, error) {
	if strings.TrimSpace(requestID) == "" {
		metrics.RecordSessionOp("add_research", ErrInvalidMessage)
		return nil, ErrInvalidMessage
	}
	sess, err := s.write(ctx, id, func(cur *Session) (*Session, error) {
		now := s.now().UTC()
		next := s.current(id, cur, now)
		for _, rid := range next.ResearchIDs {
			if rid == requestID {
				return next, nil
			}
		}
		next.ResearchIDs = append(next.ResearchIDs, requestID)
		next.UpdatedAt = now
		return next, nil
	})
	metrics.RecordSessionOp("add_research", err)
	return sess, err
}

// GetHistory returns the last committed history. limit <= 0 returns all of it.
// An unknown session has an empty history.
func (s *Store) GetHistory(ctx context.Context, id string, limit int) ([]Message, error) {
	if err := ValidateKey(id); err != nil {
		return nil, err
	}
	sess, err := s.load(ctx, id)
	metrics.RecordSessionOp("get_history", err)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(sess.History) > limit {
		return sess.History[len(sess.History)-limit:], nil
	}
	return sess.History, nil
}

// GetSessionInfo returns counts and timestamps for the last committed state.
func (s *Store) GetSessionInfo(ctx context.Context, id string) (Info, error) {
	if err := ValidateKey(id); err != nil {
		return Info{}, err
	}
	sess, err := s.load(ctx, id)
	metrics.RecordSessionOp("get_info", err)
	if err != nil {
		return Info{}, err
	}
	return sess.info(), nil
}

// load reads committed state. An unknown key reads as an empty session with
// zero timestamps, so readers never observe a missing key as an error.
func (s *Store) load(ctx context.Context, id string) (*Session, error) {
	sess, err := s.backend.Load(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return &Session{ID: id, History: []Message{}, ResearchIDs: []string{}}, nil
	}
	return sess, err
}

// Close stops accepting writes, waits for in-flight writers and closes the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	return s.backend.Close()
}

// ActiveWriters reports how many per-key goroutines are alive.
func (s *Store) ActiveWriters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actors)
}

func (s *Store) current(id string, cur *Session, now time.Time) *Session {
	if cur == nil {
		return newSession(id, now)
	}
	return cur.clone()
}

func (s *Store) write(ctx context.Context, id string, fn Mutation) (*Session, error) {
	if err := ValidateKey(id); err != nil {
		return nil, err
	}
	a, err := s.acquire(id)
	if err != nil {
		return nil, err
	}

	req := request{ctx: ctx, fn: fn, reply: make(chan result, 1)}
	select {
	case a.inbox <- req:
	case <-ctx.Done():
		s.release(a)
		return nil, ctx.Err()
	case <-s.done:
		s.release(a)
		return nil, ErrStoreClosed
	}

	select {
	case res := <-req.reply:
		return res.session, res.err
	case <-ctx.Done():
		// The mutation may still commit; the caller just stops waiting.
		return nil, ctx.Err()
	}
}

// acquire returns the live actor for id, spawning one if needed, and reserves
// a slot so the actor cannot retire before the request is delivered.
func (s *Store) acquire(id string) (*actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	a, ok := s.actors[id]
	if !ok {
		a = &actor{key: id, inbox: make(chan request)}
		s.actors[id] = a
		s.wg.Add(1)
		metrics.SessionActors.Inc()
		go s.run(a)
	}
	a.pending++
	return a, nil
}

func (s *Store) release(a *actor) {
	s.mu.Lock()
	a.pending--
	s.mu.Unlock()
}

func (s *Store) run(a *actor) {
	defer s.wg.Done()
	defer metrics.SessionActors.Dec()

	timer := time.NewTimer(s.idle)
	defer timer.Stop()

	for {
		select {
		case req := <-a.inbox:
			s.apply(a, req)
			s.release(a)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.idle)

		case <-timer.C:
			if s.retire(a) {
				return
			}
			timer.Reset(s.idle)

		case <-s.done:
			s.mu.Lock()
			delete(s.actors, a.key)
			s.mu.Unlock()
			return
		}
	}
}

// retire removes the actor if nobody holds a reservation on it.
func (s *Store) retire(a *actor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.pending > 0 {
		return false
	}
	delete(s.actors, a.key)
	return true
}

func (s *Store) apply(a *actor, req request) {
	if err := req.ctx.Err(); err != nil {
		req.reply <- result{err: err}
		return
	}
	sess, err := s.backend.Update(req.ctx, a.key, req.fn)
	if err != nil {
		s.logger.Warn("Session write failed",
			zap.String("session_id", a.key),
			zap.Error(err),
		)
	}
	req.reply <- result{session: sess, err: err}
}
