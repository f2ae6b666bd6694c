package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/config"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/constants"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/db"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
)

// RequestIDPrefix starts every research request id.
const RequestIDPrefix = "research-"

// deadlineSlack lets the in-workflow deadline fire and record the failure
// before Temporal's execution timeout terminates the run.
const deadlineSlack = time.Minute

var (
	// ErrInvalidRequestID is returned for caller-supplied ids without the research- prefix
	ErrInvalidRequestID = errors.New("requestId must start with " + RequestIDPrefix)

	// ErrRunNotFound is returned when neither Temporal nor the state log knows the run
	ErrRunNotFound = errors.New("research run not found")
)

// RunStore is the read side of the checkpoint state log.
type RunStore interface {
	GetRun(ctx context.Context, requestID string) (*db.ResearchRun, error)
	ListCheckpoints(ctx context.Context, requestID string) ([]db.Checkpoint, error)
}

// RunRequest submits a research run.
type RunRequest struct {
	RequestID string                 `json:"requestId,omitempty"`
	Query     string                 `json:"query"`
	SessionID string                 `json:"sessionId,omitempty"`
	Options   models.ResearchOptions `json:"options"`
}

// HealthStatus is the liveness answer of the service.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ResearchService is the client-side facade over the research workflow.
type ResearchService struct {
	temporal  client.Client
	runs      RunStore
	pipeline  func() config.PipelineConfig
	taskQueue string
	logger    *zap.Logger
	now       func() time.Time
}

// NewResearchService creates the facade. runs may be nil when the state log is
// disabled; pipeline supplies the current per-run defaults.
func NewResearchService(temporalClient client.Client, runs RunStore, taskQueue string, pipeline func() config.PipelineConfig, logger *zap.Logger) *ResearchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if taskQueue == "" {
		taskQueue = constants.DefaultTaskQueue
	}
	if pipeline == nil {
		pipeline = func() config.PipelineConfig {
			return config.PipelineConfig{
				DedupThreshold: models.DefaultDedupThreshold,
				MaxFindings:    models.DefaultMaxFindings,
				MaxIterations:  models.DefaultMaxIterations,
				ThinkingBudget: models.DefaultThinkingBudget,
				Deadline:       models.DefaultDeadline,
			}
		}
	}
	return &ResearchService{
		temporal:  temporalClient,
		runs:      runs,
		pipeline:  pipeline,
		taskQueue: taskQueue,
		logger:    logger,
		now:       time.Now,
	}
}

// NewRequestID returns a fresh research request id.
func NewRequestID() string {
	return RequestIDPrefix + uuid.NewString()
}

// StartRun starts the research workflow and returns its request id without
// waiting. Resubmitting an id attaches to the existing run.
func (s *ResearchService) StartRun(ctx context.Context, req RunRequest) (string, error) {
	if _, err := models.ValidateQuery(req.Query); err != nil {
		return "", err
	}
	id := strings.TrimSpace(req.RequestID)
	switch {
	case id == "":
		id = NewRequestID()
	case !strings.HasPrefix(id, RequestIDPrefix):
		return "", ErrInvalidRequestID
	}

	pipeline := s.pipeline()
	options := pipeline.ApplyDefaults(req.Options)
	if err := models.ValidateStruct(options); err != nil {
		return "", err
	}
	deadline := pipeline.Deadline
	if deadline <= 0 {
		deadline = models.DefaultDeadline
	}

	input := models.ResearchInput{
		RequestID: id,
		Query:     req.Query,
		SessionID: req.SessionID,
		Options:   options,
		Deadline:  deadline,
	}
	memo := map[string]interface{}{"query": req.Query}
	if req.SessionID != "" {
		memo["session_id"] = req.SessionID
	}
	workflowOptions := client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                s.taskQueue,
		WorkflowExecutionTimeout:                 deadline + deadlineSlack,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
		Memo:                                     memo,
	}

	run, err := s.temporal.ExecuteWorkflow(ctx, workflowOptions, constants.ResearchWorkflowName, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			s.logger.Info("Research run already exists, attaching", zap.String("request_id", id))
			return id, nil
		}
		s.logger.Error("Failed to start research workflow", zap.String("request_id", id), zap.Error(err))
		return "", fmt.Errorf("start research workflow: %w", err)
	}
	s.logger.Info("Started research workflow",
		zap.String("request_id", id),
		zap.String("run_id", run.GetRunID()),
		zap.String("session_id", req.SessionID),
	)
	return id, nil
}

// RunResearch starts (or attaches to) a run and waits for its result.
func (s *ResearchService) RunResearch(ctx context.Context, req RunRequest) (*models.ResearchResult, error) {
	id, err := s.StartRun(ctx, req)
	if err != nil {
		return nil, err
	}
	var result models.ResearchResult
	if err := s.temporal.GetWorkflow(ctx, id, "").Get(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRun returns the live state of a run, falling back to the state log when
// Temporal cannot answer the query.
func (s *ResearchService) GetRun(ctx context.Context, requestID string) (*models.ResearchState, error) {
	value, err := s.temporal.QueryWorkflow(ctx, requestID, "", constants.ResearchStateQuery)
	if err == nil {
		var state models.ResearchState
		if err := value.Get(&state); err != nil {
			return nil, fmt.Errorf("decode research state: %w", err)
		}
		return &state, nil
	}

	var notFound *serviceerror.NotFound
	if s.runs == nil {
		if errors.As(err, &notFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("query research state: %w", err)
	}

	s.logger.Debug("State query failed, reading state log", zap.String("request_id", requestID), zap.Error(err))
	run, dbErr := s.runs.GetRun(ctx, requestID)
	if errors.Is(dbErr, db.ErrRunNotFound) {
		return nil, ErrRunNotFound
	}
	if dbErr != nil {
		return nil, fmt.Errorf("read research run: %w", dbErr)
	}
	checkpoints, dbErr := s.runs.ListCheckpoints(ctx, requestID)
	if dbErr != nil {
		s.logger.Warn("Failed to list checkpoints", zap.String("request_id", requestID), zap.Error(dbErr))
	}
	return stateFromRun(run, checkpoints), nil
}

// CancelRun requests cancellation of an in-flight run.
func (s *ResearchService) CancelRun(ctx context.Context, requestID string) error {
	if err := s.temporal.CancelWorkflow(ctx, requestID, ""); err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			return ErrRunNotFound
		}
		s.logger.Error("Failed to cancel research workflow", zap.String("request_id", requestID), zap.Error(err))
		return fmt.Errorf("cancel research workflow: %w", err)
	}
	s.logger.Info("Cancellation requested", zap.String("request_id", requestID))
	return nil
}

// Health reports that the service is up.
func (s *ResearchService) Health() HealthStatus {
	return HealthStatus{Status: "healthy", Timestamp: s.now().UTC()}
}

// stateFromRun rebuilds the observable part of a closed run from the state log.
// Loop steps are not stages and are left out of StagesCompleted.
func stateFromRun(run *db.ResearchRun, checkpoints []db.Checkpoint) *models.ResearchState {
	state := &models.ResearchState{
		RequestID:       run.RequestID,
		Query:           run.Query,
		Status:          models.ResearchStatus(run.Status),
		TokensUsed:      run.TokensUsed,
		StartedAt:       run.StartedAt,
		CompletedAt:     run.CompletedAt,
		LayerTimings:    map[string]int64{},
		StagesCompleted: []string{},
	}
	if run.SessionID != nil {
		state.SessionID = *run.SessionID
	}
	if run.FailedStage != nil {
		state.FailedStage = *run.FailedStage
	}
	if run.ErrorMessage != nil {
		state.Error = *run.ErrorMessage
	}
	if run.Output != nil && len(*run.Output) > 0 {
		var out models.FinalOutput
		if err := json.Unmarshal(*run.Output, &out); err == nil {
			state.Output = &out
			state.LayerTimings = out.Metadata.LayerTimings
		}
	}
	for _, cp := range checkpoints {
		if !strings.Contains(cp.Step, ":") {
			state.StagesCompleted = append(state.StagesCompleted, cp.Step)
		}
	}
	return state
}
