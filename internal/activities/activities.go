package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/aggregation"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/db"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/discovery"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/llm"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/planner"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/session"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/synthesis"
)

// Application error types seen by the workflow's retry policy.
const (
	ErrTypeInvalidQuery     = "InvalidQuery"
	ErrTypeProviderRejected = "ProviderRejected"
	ErrTypeInvalidSession   = "InvalidSession"
)

const heartbeatInterval = 10 * time.Second

// CheckpointStore is the durable state log. A nil store disables checkpointing.
type CheckpointStore interface {
	StartRun(ctx context.Context, run *db.ResearchRun) error
	UpdateRun(ctx context.Context, requestID string, u db.RunUpdate) error
	SaveCheckpoint(ctx context.Context, requestID, step string, seq int, status string, payload interface{}) error
}

// SessionRecorder records finished runs against a session.
type SessionRecorder interface {
	AddResearch(ctx context.Context, id, requestID string) (*session.Session, error)
}

// Deps are the stage components the activities delegate to.
type Deps struct {
	Planner     *planner.Planner
	Discovery   *discovery.Agent
	Aggregation *aggregation.Engine
	Synthesis   *synthesis.Synthesizer
	Checkpoints CheckpointStore
	Sessions    SessionRecorder
}

// Activities struct holds dependencies for activities
type Activities struct {
	planner     *planner.Planner
	discovery   *discovery.Agent
	aggregation *aggregation.Engine
	synthesis   *synthesis.Synthesizer
	checkpoints CheckpointStore
	sessions    SessionRecorder
	logger      *zap.Logger
}

// NewActivities creates a new activities instance with dependencies
func NewActivities(d Deps, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		planner:     d.Planner,
		discovery:   d.Discovery,
		aggregation: d.Aggregation,
		synthesis:   d.Synthesis,
		checkpoints: d.Checkpoints,
		sessions:    d.Sessions,
		logger:      logger,
	}
}

// classify turns terminal failures into non-retryable application errors and
// leaves everything else to the retry policy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, models.ErrEmptyQuery) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidQuery, err)
	}
	var se *llm.StatusError
	if errors.As(err, &se) && !se.Retryable() {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeProviderRejected, err)
	}
	if errors.Is(err, llm.ErrNotConfigured) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeProviderRejected, err)
	}
	return err
}

// withHeartbeat runs fn while heartbeating detail so a worker crash is noticed
// before the start-to-close timeout.
func withHeartbeat[T any](ctx context.Context, detail interface{}, fn func(context.Context) (T, error)) (T, error) {
	done := make(chan struct{})
	defer close(done)

	activity.RecordHeartbeat(ctx, detail)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx, detail)
			}
		}
	}()
	return fn(ctx)
}
