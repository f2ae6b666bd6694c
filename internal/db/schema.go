package db

import (
	"context"
	"fmt"
)

// Both dialects accept this DDL; payloads are JSON text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS research_runs (
		request_id    VARCHAR(64) PRIMARY KEY,
		query         TEXT NOT NULL,
		session_id    VARCHAR(128),
		goal_hash     VARCHAR(16),
		status        VARCHAR(32) NOT NULL,
		failed_stage  VARCHAR(64),
		error_message TEXT,
		tokens_used   INTEGER NOT NULL DEFAULT 0,
		output        TEXT,
		started_at    TIMESTAMP NOT NULL,
		completed_at  TIMESTAMP,
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS research_checkpoints (
		request_id VARCHAR(64) NOT NULL,
		step       VARCHAR(64) NOT NULL,
		seq        INTEGER NOT NULL,
		status     VARCHAR(32) NOT NULL,
		payload    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (request_id, step)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_research_checkpoints_seq ON research_checkpoints (request_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_research_runs_session ON research_runs (session_id)`,
}

// Migrate creates the checkpoint tables if they do not exist.
func (c *Client) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
