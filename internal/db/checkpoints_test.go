package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newSQLiteClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), &Config{Driver: DriverSQLite, Path: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCheckpoints_SQLiteLifecycle(t *testing.T) {
	c := newSQLiteClient(t)
	ctx := context.Background()

	session := "s1"
	require.NoError(t, c.StartRun(ctx, &ResearchRun{
		RequestID: "research-1",
		Query:     "state of RAG",
		SessionID: &session,
		Status:    "pending",
	}))
	// duplicate start is a no-op
	require.NoError(t, c.StartRun(ctx, &ResearchRun{RequestID: "research-1", Query: "other", Status: "pending"}))

	require.NoError(t, c.SaveCheckpoint(ctx, "research-1", "L0_query_planning", 1, "planning", map[string]any{"clarifiedQuery": "q"}))
	require.NoError(t, c.SaveCheckpoint(ctx, "research-1", StepName("L3_synthesis", "generate", 1), 4, "synthesizing", map[string]any{"confidence": 0.8}))

	err := c.SaveCheckpoint(ctx, "research-1", "L0_query_planning", 1, "planning", map[string]any{"clarifiedQuery": "replaced"})
	assert.ErrorIs(t, err, ErrCheckpointExists)

	cps, err := c.ListCheckpoints(ctx, "research-1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, "L0_query_planning", cps[0].Step)
	assert.JSONEq(t, `{"clarifiedQuery":"q"}`, string(cps[0].Payload))
	assert.Equal(t, "L3_synthesis:generate:1", cps[1].Step)

	require.NoError(t, c.UpdateRun(ctx, "research-1", RunUpdate{
		Status:     "completed",
		GoalHash:   "abcdef0123456789",
		TokensUsed: 4200,
		Output:     map[string]any{"executiveSummary": "done"},
		Completed:  true,
	}))

	run, err := c.GetRun(ctx, "research-1")
	require.NoError(t, err)
	assert.Equal(t, "state of RAG", run.Query)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 4200, run.TokensUsed)
	require.NotNil(t, run.SessionID)
	assert.Equal(t, "s1", *run.SessionID)
	require.NotNil(t, run.GoalHash)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.Output)
	assert.JSONEq(t, `{"executiveSummary":"done"}`, string(*run.Output))
	assert.Nil(t, run.FailedStage)
}

func TestCheckpoints_FailedRunKeepsStage(t *testing.T) {
	c := newSQLiteClient(t)
	ctx := context.Background()

	require.NoError(t, c.StartRun(ctx, &ResearchRun{RequestID: "research-2", Query: "q", Status: "pending"}))
	require.NoError(t, c.UpdateRun(ctx, "research-2", RunUpdate{
		Status:       "failed",
		FailedStage:  "L2_aggregation",
		ErrorMessage: "embedding timeout",
		Completed:    true,
	}))

	run, err := c.GetRun(ctx, "research-2")
	require.NoError(t, err)
	require.NotNil(t, run.FailedStage)
	assert.Equal(t, "L2_aggregation", *run.FailedStage)
	assert.Nil(t, run.Output)
}

func TestCheckpoints_NotFound(t *testing.T) {
	c := newSQLiteClient(t)
	ctx := context.Background()

	_, err := c.GetRun(ctx, "research-missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, c.UpdateRun(ctx, "research-missing", RunUpdate{Status: "failed"}), ErrRunNotFound)

	cps, err := c.ListCheckpoints(ctx, "research-missing")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return NewClientWithDB(sqlx.NewDb(raw, "sqlmock"), zaptest.NewLogger(t)), mock
}

func TestCheckpoints_DuplicateDetectedFromRowsAffected(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO research_checkpoints").
		WithArgs("research-1", "L1_discovery", 2, "discovering", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := c.SaveCheckpoint(context.Background(), "research-1", "L1_discovery", 2, "discovering", []string{})
	assert.ErrorIs(t, err, ErrCheckpointExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpoints_ExecErrorIsWrapped(t *testing.T) {
	c, mock := newMockClient(t)
	boom := errors.New("connection reset")

	mock.ExpectExec("INSERT INTO research_checkpoints").WillReturnError(boom)

	err := c.SaveCheckpoint(context.Background(), "research-1", "L2_aggregation", 3, "aggregating", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrCheckpointExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpoints_UnmarshalablePayload(t *testing.T) {
	c, mock := newMockClient(t)

	err := c.SaveCheckpoint(context.Background(), "research-1", "L0_query_planning", 1, "planning", make(chan int))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfig_DSN(t *testing.T) {
	pg := &Config{Driver: DriverPostgres, Host: "db", Port: 5432, User: "u", Password: "p", Database: "rde", SSLMode: "disable"}
	dsn, err := pg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=rde sslmode=disable", dsn)

	lite := &Config{Driver: DriverSQLite, Path: "/tmp/rde.db"}
	dsn, err = lite.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "/tmp/rde.db?")

	_, err = (&Config{Driver: DriverSQLite}).DSN()
	assert.Error(t, err)
	_, err = (&Config{Driver: "mysql"}).DSN()
	assert.Error(t, err)
}

func TestStepName(t *testing.T) {
	assert.Equal(t, "L2_aggregation", StepName("L2_aggregation", "", 0))
	assert.Equal(t, "L3_synthesis:verify:2", StepName("L3_synthesis", "verify", 2))
}
