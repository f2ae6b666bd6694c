package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
)

// StartRun inserts the run row. Re-inserting an existing run is a no-op.
func (c *Client) StartRun(ctx context.Context, run *ResearchRun) error {
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO research_runs (
			request_id, query, session_id, goal_hash, status, tokens_used, started_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id) DO NOTHING
	`, run.RequestID, run.Query, run.SessionID, run.GoalHash, run.Status, run.TokensUsed, run.StartedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert research run: %w", err)
	}
	return nil
}

// RunUpdate carries the mutable columns of research_runs.
type RunUpdate struct {
	Status       string
	GoalHash     string
	FailedStage  string
	ErrorMessage string
	TokensUsed   int
	Output       interface{}
	Completed    bool
}

// UpdateRun records progress or the terminal outcome of a run.
func (c *Client) UpdateRun(ctx context.Context, requestID string, u RunUpdate) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if u.Completed {
		completedAt = &now
	}
	var output *types.JSONText
	if u.Output != nil {
		b, err := json.Marshal(u.Output)
		if err != nil {
			return fmt.Errorf("failed to marshal run output: %w", err)
		}
		jt := types.JSONText(b)
		output = &jt
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE research_runs SET
			status = ?,
			goal_hash = COALESCE(?, goal_hash),
			failed_stage = ?,
			error_message = ?,
			tokens_used = ?,
			output = COALESCE(?, output),
			completed_at = COALESCE(?, completed_at),
			updated_at = ?
		WHERE request_id = ?
	`, u.Status, nullIfEmpty(u.GoalHash), nullIfEmpty(u.FailedStage), nullIfEmpty(u.ErrorMessage),
		u.TokensUsed, output, completedAt, now, requestID)
	if err != nil {
		return fmt.Errorf("failed to update research run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SaveCheckpoint commits a step result. The first commit for (request_id, step)
// wins; later attempts return ErrCheckpointExists and leave the row untouched.
func (c *Client) SaveCheckpoint(ctx context.Context, requestID, step string, seq int, status string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint payload: %w", err)
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT INTO research_checkpoints (request_id, step, seq, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id, step) DO NOTHING
	`, requestID, step, seq, status, types.JSONText(b), time.Now().UTC())
	if err != nil {
		metrics.CheckpointWrites.WithLabelValues(step, "error").Inc()
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		metrics.CheckpointWrites.WithLabelValues(step, "error").Inc()
		return fmt.Errorf("failed to read checkpoint result: %w", err)
	}
	if n == 0 {
		metrics.CheckpointWrites.WithLabelValues(step, "duplicate").Inc()
		c.logger.Debug("Checkpoint already committed",
			zap.String("request_id", requestID),
			zap.String("step", step),
		)
		return ErrCheckpointExists
	}
	metrics.CheckpointWrites.WithLabelValues(step, "committed").Inc()
	return nil
}

// GetRun loads the run row.
func (c *Client) GetRun(ctx context.Context, requestID string) (*ResearchRun, error) {
	var run ResearchRun
	err := c.db.GetContext(ctx, &run, `
		SELECT request_id, query, session_id, goal_hash, status, failed_stage, error_message,
		       tokens_used, output, started_at, completed_at, updated_at
		FROM research_runs WHERE request_id = ?
	`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get research run: %w", err)
	}
	return &run, nil
}

// ListCheckpoints returns the committed steps of a run in commit order.
func (c *Client) ListCheckpoints(ctx context.Context, requestID string) ([]Checkpoint, error) {
	var cps []Checkpoint
	err := c.db.SelectContext(ctx, &cps, `
		SELECT request_id, step, seq, status, payload, created_at
		FROM research_checkpoints WHERE request_id = ?
		ORDER BY seq ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return cps, nil
}
