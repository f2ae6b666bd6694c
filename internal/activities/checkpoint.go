package activities

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/db"
)

// CommitCheckpoint writes the step result and run status to the state log.
// It is a no-op when no store is configured.
func (a *Activities) CommitCheckpoint(ctx context.Context, in CheckpointInput) error {
	if a.checkpoints == nil {
		return nil
	}
	logger := a.logger.With(
		zap.String("activity", "CommitCheckpoint"),
		zap.String("request_id", in.RequestID),
		zap.String("step", in.Step),
	)

	run := &db.ResearchRun{
		RequestID: in.RequestID,
		Query:     in.Query,
		SessionID: optional(in.SessionID),
		Status:    string(in.Status),
	}
	if err := a.checkpoints.StartRun(ctx, run); err != nil {
		logger.Warn("Failed to record run", zap.Error(err))
		return err
	}

	if in.Step != "" {
		err := a.checkpoints.SaveCheckpoint(ctx, in.RequestID, in.Step, in.Seq, string(in.Status), in.Payload)
		if err != nil && !errors.Is(err, db.ErrCheckpointExists) {
			logger.Warn("Failed to save checkpoint", zap.Error(err))
			return err
		}
	}

	update := db.RunUpdate{
		Status:       string(in.Status),
		GoalHash:     in.GoalHash,
		FailedStage:  in.FailedStage,
		ErrorMessage: in.Error,
		TokensUsed:   in.TokensUsed,
		Completed:    in.Terminal,
	}
	if in.Output != nil {
		update.Output = in.Output
	}
	if err := a.checkpoints.UpdateRun(ctx, in.RequestID, update); err != nil {
		logger.Warn("Failed to update run", zap.Error(err))
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
