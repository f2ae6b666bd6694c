package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/aggregation"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
)

// PlanResearch runs the L0 planner.
func (a *Activities) PlanResearch(ctx context.Context, in PlanResearchInput) (*models.ResearchPlan, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Planning research", "request_id", in.RequestID)

	start := time.Now()
	plan, err := a.planner.PlanQuery(ctx, in.Query, in.ThinkingBudget)
	metrics.RecordStage(models.StagePlanning, time.Since(start).Seconds(), err)
	if err != nil {
		logger.Warn("Planning failed", "request_id", in.RequestID, "error", err)
		return nil, classify(err)
	}

	logger.Info("Research planned",
		"request_id", in.RequestID,
		"goal_hash", plan.GoalHash,
		"clarity", plan.ClarityScore,
		"agents", len(plan.Agents),
	)
	return plan, nil
}

// DiscoverAgent runs one L1 discovery agent. The workflow fans these out and
// settles all of them.
func (a *Activities) DiscoverAgent(ctx context.Context, in DiscoverAgentInput) (*models.FieldReport, error) {
	report, err := withHeartbeat(ctx, in.Agent.ID, func(ctx context.Context) (*models.FieldReport, error) {
		return a.discovery.Run(ctx, in.Agent)
	})
	if err != nil {
		a.logger.Warn("Discovery agent failed",
			zap.String("request_id", in.RequestID),
			zap.String("agent_id", in.Agent.ID),
			zap.String("persona", string(in.Agent.Persona)),
			zap.Error(err),
		)
		return nil, classify(err)
	}
	return report, nil
}

// AggregateFindings runs the L2 dedup engine.
func (a *Activities) AggregateFindings(ctx context.Context, in AggregateFindingsInput) (*models.AggregationResult, error) {
	start := time.Now()
	res, err := a.aggregation.Aggregate(ctx, in.Findings, aggregation.Options{
		Threshold:   in.Threshold,
		MaxFindings: in.MaxFindings,
	})
	metrics.RecordStage(models.StageAggregation, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, classify(err)
	}
	activity.GetLogger(ctx).Info("Findings aggregated",
		"request_id", in.RequestID,
		"original", res.OriginalCount,
		"kept", res.DeduplicatedCount,
		"source", res.EmbeddingSource,
	)
	return res, nil
}

// GenerateSynthesis runs one L3 GENERATE call.
func (a *Activities) GenerateSynthesis(ctx context.Context, in GenerateSynthesisInput) (*models.SynthesisResult, error) {
	res, err := withHeartbeat(ctx, in.Iteration, func(ctx context.Context) (*models.SynthesisResult, error) {
		return a.synthesis.Generate(ctx, in.Findings, in.Goal, in.Feedback, in.ThinkingBudget)
	})
	if err != nil {
		a.logger.Warn("Synthesis generation failed",
			zap.String("request_id", in.RequestID),
			zap.Int("iteration", in.Iteration),
			zap.Error(err),
		)
		return nil, classify(err)
	}
	return res, nil
}

// VerifySynthesis runs one L3 VERIFY call.
func (a *Activities) VerifySynthesis(ctx context.Context, in VerifySynthesisInput) (*models.VerificationReport, error) {
	res, err := withHeartbeat(ctx, in.Iteration, func(ctx context.Context) (*models.VerificationReport, error) {
		return a.synthesis.Verify(ctx, in.Synthesis, in.Findings)
	})
	if err != nil {
		a.logger.Warn("Verification failed",
			zap.String("request_id", in.RequestID),
			zap.Int("iteration", in.Iteration),
			zap.Error(err),
		)
		return nil, classify(err)
	}
	return res, nil
}
