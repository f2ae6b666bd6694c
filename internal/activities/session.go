package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/session"
)

// RecordSessionResearch appends a finished run to its session.
func (a *Activities) RecordSessionResearch(ctx context.Context, in RecordSessionInput) error {
	if a.sessions == nil {
		return nil
	}
	_, err := a.sessions.AddResearch(ctx, in.SessionID, in.RequestID)
	if err == nil {
		a.logger.Info("Recorded research against session",
			zap.String("session_id", in.SessionID),
			zap.String("request_id", in.RequestID),
		)
		return nil
	}
	if errors.Is(err, session.ErrInvalidKey) || errors.Is(err, session.ErrInvalidMessage) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidSession, err)
	}
	a.logger.Warn("Failed to record research against session",
		zap.String("session_id", in.SessionID),
		zap.Error(err),
	)
	return err
}
