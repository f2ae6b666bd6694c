package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

var (
	// ErrCheckpointExists is returned when a step was already committed for a run
	ErrCheckpointExists = errors.New("checkpoint already committed")

	// ErrRunNotFound is returned when no research_runs row matches
	ErrRunNotFound = errors.New("research run not found")
)

// ResearchRun is one row of research_runs.
type ResearchRun struct {
	RequestID    string          `db:"request_id" json:"requestId"`
	Query        string          `db:"query" json:"query"`
	SessionID    *string         `db:"session_id" json:"sessionId,omitempty"`
	GoalHash     *string         `db:"goal_hash" json:"goalHash,omitempty"`
	Status       string          `db:"status" json:"status"`
	FailedStage  *string         `db:"failed_stage" json:"failedStage,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error,omitempty"`
	TokensUsed   int             `db:"tokens_used" json:"tokensUsed"`
	Output       *types.JSONText `db:"output" json:"output,omitempty"`
	StartedAt    time.Time       `db:"started_at" json:"startedAt"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updatedAt"`
}

// Checkpoint is the committed result of one durable step.
type Checkpoint struct {
	RequestID string         `db:"request_id" json:"requestId"`
	Step      string         `db:"step" json:"step"`
	Seq       int            `db:"seq" json:"seq"`
	Status    string         `db:"status" json:"status"`
	Payload   types.JSONText `db:"payload" json:"payload"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
}

// StepName names a checkpoint. Loop steps carry their phase and iteration so
// each generate/verify cycle commits separately.
func StepName(stage, phase string, iteration int) string {
	if phase == "" {
		return stage
	}
	return fmt.Sprintf("%s:%s:%d", stage, phase, iteration)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
