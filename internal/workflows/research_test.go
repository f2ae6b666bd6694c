package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/activities"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/constants"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
)

func newTestEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	s := &testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	env.RegisterActivity(activities.NewActivities(activities.Deps{}, nil))
	env.RegisterWorkflowWithOptions(ResearchWorkflow, workflow.RegisterOptions{Name: constants.ResearchWorkflowName})
	env.RegisterWorkflowWithOptions(SessionRecordWorkflow, workflow.RegisterOptions{Name: constants.SessionRecordWorkflowName})
	return env
}

func testPlan() *models.ResearchPlan {
	plan := &models.ResearchPlan{
		ClarifiedQuery: "state of solid-state batteries in 2025",
		GoalObjective:  "assess commercial readiness of solid-state batteries",
		GoalHash:       "abc123",
		ClarityScore:   8,
		TokensUsed:     100,
	}
	for i, p := range models.RequiredPersonas {
		plan.Agents = append(plan.Agents, models.AgentConfig{
			ID:       "agent-" + string(p),
			Persona:  p,
			Query:    "solid-state batteries " + string(p),
			Priority: i + 1,
		})
	}
	return plan
}

func reportFor(agent models.AgentConfig, n int) *models.FieldReport {
	r := &models.FieldReport{
		AgentID:    agent.ID,
		AgentName:  string(agent.Persona) + " analyst",
		Persona:    agent.Persona,
		Confidence: 0.7,
		TokensUsed: 50,
	}
	for i := 0; i < n; i++ {
		r.Findings = append(r.Findings, models.Finding{
			ID:         fmt.Sprintf("%s-f%d", agent.ID, i),
			Claim:      fmt.Sprintf("claim %d from %s", i, agent.Persona),
			Evidence:   "evidence",
			Source:     "source",
			Confidence: 0.8,
			Relevance:  0.9,
		})
	}
	return r
}

type pipelineMocks struct {
	mu          sync.Mutex
	steps       []string
	seqs        []int
	feedback    []string
	generations int
	verifies    int
}

// mockPipeline wires a pipeline where the contrarian agent fails, every other
// agent returns three findings, aggregation keeps everything, and verification
// uses verdictFor to decide each iteration's report.
func (m *pipelineMocks) mockPipeline(env *testsuite.TestWorkflowEnvironment, verdictFor func(iteration int) *models.VerificationReport) {
	env.OnActivity(constants.PlanResearchActivity, mock.Anything, mock.Anything).Return(testPlan(), nil)

	env.OnActivity(constants.DiscoverAgentActivity, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.DiscoverAgentInput) (*models.FieldReport, error) {
			if in.Agent.Persona == models.PersonaContrarian {
				return nil, temporal.NewNonRetryableApplicationError("search failed", "SearchFailed", nil)
			}
			return reportFor(in.Agent, 3), nil
		})

	env.OnActivity(constants.AggregateFindingsActivity, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.AggregateFindingsInput) (*models.AggregationResult, error) {
			return &models.AggregationResult{
				OriginalCount:     len(in.Findings),
				DeduplicatedCount: len(in.Findings),
				Findings:          in.Findings,
				EmbeddingSource:   "fallback",
			}, nil
		})

	env.OnActivity(constants.GenerateSynthesisActivity, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.GenerateSynthesisInput) (*models.SynthesisResult, error) {
			m.mu.Lock()
			m.generations++
			m.feedback = append(m.feedback, in.Feedback)
			m.mu.Unlock()
			return &models.SynthesisResult{
				ExecutiveSummary: fmt.Sprintf("summary v%d", in.Iteration),
				DetailedAnalysis: "analysis",
				Themes:           []models.Theme{{Name: "cost", SupportingFindings: []string{"agent-tech-f0"}}},
				Confidence:       0.8,
				TokensUsed:       300,
				IterationsUsed:   1,
			}, nil
		})

	env.OnActivity(constants.VerifySynthesisActivity, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.VerifySynthesisInput) (*models.VerificationReport, error) {
			m.mu.Lock()
			m.verifies++
			m.mu.Unlock()
			return verdictFor(in.Iteration), nil
		})

	env.OnActivity(constants.CommitCheckpointActivity, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.CheckpointInput) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.steps = append(m.steps, in.Step)
			m.seqs = append(m.seqs, in.Seq)
			return nil
		}).Maybe()

	env.OnWorkflow(constants.SessionRecordWorkflowName, mock.Anything, mock.Anything).Return(nil).Maybe()
}

func passReport(int) *models.VerificationReport {
	return &models.VerificationReport{
		Verdict:            models.VerdictPass,
		Vulnerabilities:    []models.Vulnerability{},
		OriginalConfidence: 0.8,
		AdjustedConfidence: 0.75,
		TokensUsed:         200,
	}
}

func criticalReport(id string) *models.VerificationReport {
	return &models.VerificationReport{
		Verdict: models.VerdictFail,
		Vulnerabilities: []models.Vulnerability{{
			ID:           id,
			Severity:     models.SeverityCritical,
			Strategy:     models.StrategySourceReliability,
			Finding:      "relies on a single vendor press release",
			SuggestedFix: "cite independent benchmarks",
		}},
		OriginalConfidence: 0.8,
		AdjustedConfidence: 0.4,
		TokensUsed:         200,
	}
}

func queryState(t *testing.T, env *testsuite.TestWorkflowEnvironment) models.ResearchState {
	t.Helper()
	v, err := env.QueryWorkflow(constants.ResearchStateQuery)
	require.NoError(t, err)
	var st models.ResearchState
	require.NoError(t, v.Get(&st))
	return st
}

func input(query string) models.ResearchInput {
	return models.ResearchInput{RequestID: "research-test-1", Query: query}
}

func TestResearchWorkflowRejectsEmptyQuery(t *testing.T) {
	env := newTestEnv(t)
	env.ExecuteWorkflow(ResearchWorkflow, input("   "))

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, activities.ErrTypeInvalidQuery, appErr.Type())
	assert.True(t, appErr.NonRetryable())
}

func TestResearchWorkflowPartialDiscovery(t *testing.T) {
	env := newTestEnv(t)
	m := &pipelineMocks{}
	m.mockPipeline(env, passReport)

	env.ExecuteWorkflow(ResearchWorkflow, input("What is the state of solid-state batteries in 2025?"))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result models.ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, "research-test-1", result.RequestID)
	assert.Equal(t, []string{
		models.StagePlanning,
		models.StageDiscovery,
		models.StageAggregation,
		models.StageSynthesis,
		models.StageOutput,
	}, result.StagesCompleted)

	out := result.Output
	require.NotNil(t, out)
	assert.Len(t, out.Sources, 12)
	assert.Len(t, out.Metadata.AgentContributions, 4)
	assert.NotContains(t, out.Metadata.AgentContributions, "contrarian analyst")
	assert.Equal(t, 3, out.Metadata.AgentContributions["tech analyst"])
	assert.Equal(t, 1, out.Metadata.IterationsUsed)
	assert.Equal(t, 0.75, out.Metadata.Confidence)
	assert.Equal(t, "assess commercial readiness of solid-state batteries", out.Goal)
	assert.Equal(t, "summary v1", out.ExecutiveSummary)
	for _, stage := range result.StagesCompleted {
		assert.Contains(t, out.Metadata.LayerTimings, stage)
	}

	// planner + 4 agents + one generate + one verify
	assert.Equal(t, 100+4*50+300+200, result.TokensUsed)
	assert.Equal(t, result.TokensUsed, out.Metadata.TokensUsed)

	st := queryState(t, env)
	assert.Equal(t, models.StatusCompleted, st.Status)
	assert.Len(t, st.FieldReports, 4)
	assert.Equal(t, models.PhaseDone, st.Loop.Phase)
	assert.NotNil(t, st.CompletedAt)
}

func TestResearchWorkflowAllAgentsFail(t *testing.T) {
	env := newTestEnv(t)
	env.OnActivity(constants.PlanResearchActivity, mock.Anything, mock.Anything).Return(testPlan(), nil)
	env.OnActivity(constants.DiscoverAgentActivity, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	var aggregated []models.Finding
	aggCalls := 0
	env.OnActivity(constants.AggregateFindingsActivity, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.AggregateFindingsInput) (*models.AggregationResult, error) {
			aggCalls++
			aggregated = in.Findings
			return &models.AggregationResult{Findings: []models.Finding{}, EmbeddingSource: "fallback"}, nil
		})
	env.OnActivity(constants.GenerateSynthesisActivity, mock.Anything, mock.Anything).Return(
		&models.SynthesisResult{ExecutiveSummary: "no evidence gathered", Confidence: 0.1, IterationsUsed: 1}, nil)
	env.OnActivity(constants.VerifySynthesisActivity, mock.Anything, mock.Anything).Return(passReport(1), nil)
	env.OnActivity(constants.CommitCheckpointActivity, mock.Anything, mock.Anything).Return(nil).Maybe()

	env.ExecuteWorkflow(ResearchWorkflow, input("solid-state batteries"))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result models.ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 1, aggCalls)
	assert.Empty(t, aggregated)
	require.NotNil(t, result.Output)
	assert.Len(t, result.Output.Sources, 0)
	assert.Empty(t, result.Output.Metadata.AgentContributions)
	assert.Contains(t, result.StagesCompleted, models.StageOutput)

	st := queryState(t, env)
	assert.Equal(t, models.StatusCompleted, st.Status)
	assert.Empty(t, st.FieldReports)
}

func TestResearchWorkflowCheckpointsEveryStep(t *testing.T) {
	env := newTestEnv(t)
	m := &pipelineMocks{}
	m.mockPipeline(env, passReport)

	env.ExecuteWorkflow(ResearchWorkflow, input("solid-state batteries"))
	require.NoError(t, env.GetWorkflowError())

	assert.Equal(t, []string{
		models.StagePlanning,
		models.StageDiscovery,
		models.StageAggregation,
		"L3_synthesis:generate:1",
		"L3_synthesis:verify:1",
		models.StageSynthesis,
		models.StageOutput,
	}, m.steps)
	for i := 1; i < len(m.seqs); i++ {
		assert.Greater(t, m.seqs[i], m.seqs[i-1])
	}
}

func TestResearchWorkflowRepairsCriticalVulnerability(t *testing.T) {
	env := newTestEnv(t)
	m := &pipelineMocks{}
	m.mockPipeline(env, func(iteration int) *models.VerificationReport {
		if iteration == 1 {
			return criticalReport("vuln-1")
		}
		return passReport(iteration)
	})

	env.ExecuteWorkflow(ResearchWorkflow, input("solid-state batteries"))
	require.NoError(t, env.GetWorkflowError())
	var result models.ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 2, m.generations)
	assert.Equal(t, 2, m.verifies)
	require.Len(t, m.feedback, 2)
	assert.Empty(t, m.feedback[0])
	assert.True(t, strings.HasPrefix(m.feedback[1], "CRITICAL: relies on a single vendor press release"))
	assert.Contains(t, m.feedback[1], "Fix: cite independent benchmarks")

	assert.Equal(t, 2, result.Output.Metadata.IterationsUsed)
	assert.Equal(t, models.VerdictPass, result.Output.Verification.Verdict)
	assert.Equal(t, "summary v2", result.Output.ExecutiveSummary)

	st := queryState(t, env)
	require.NotNil(t, st.Synthesis)
	assert.Equal(t, []string{"vuln-1"}, st.Synthesis.FeedbackApplied)
	assert.Equal(t, 2*300+2*200, st.Synthesis.TokensUsed)
}

func TestResearchWorkflowStopsAtMaxIterations(t *testing.T) {
	env := newTestEnv(t)
	m := &pipelineMocks{}
	m.mockPipeline(env, func(int) *models.VerificationReport { return criticalReport("vuln-x") })

	in := input("solid-state batteries")
	in.Options.MaxIterations = 2
	env.ExecuteWorkflow(ResearchWorkflow, in)
	require.NoError(t, env.GetWorkflowError())
	var result models.ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 2, m.generations)
	assert.Equal(t, 2, m.verifies)
	assert.Equal(t, 2, result.Output.Metadata.IterationsUsed)
	// a failing verdict after the last iteration is reported, not raised
	assert.Equal(t, models.VerdictFail, result.Output.Verification.Verdict)
	assert.Equal(t, 0.4, result.Output.Metadata.Confidence)
}

func TestResearchWorkflowSkipVerification(t *testing.T) {
	env := newTestEnv(t)
	m := &pipelineMocks{}
	m.mockPipeline(env, passReport)

	in := input("solid-state batteries")
	in.Options.SkipVerification = true
	env.ExecuteWorkflow(ResearchWorkflow, in)
	require.NoError(t, env.GetWorkflowError())
	var result models.ResearchResult
	require.NoError(t, env.GetWorkflowResult(&result))

	assert.Equal(t, 1, m.generations)
	assert.Zero(t, m.verifies)
	assert.Equal(t, models.VerdictPass, result.Output.Verification.Verdict)
	assert.Equal(t, 0.8, result.Output.Metadata.Confidence)
}

func TestResearchWorkflowToleratesCheckpointFailures(t *testing.T) {
	env := newTestEnv(t)
	env.OnActivity(constants.CommitCheckpointActivity, mock.Anything, mock.Anything).
		Return(errors.New("database unavailable"))
	m := &pipelineMocks{}
	m.mockPipeline(env, passReport)

	env.ExecuteWorkflow(ResearchWorkflow, input("solid-state batteries"))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, models.StatusCompleted, queryState(t, env).Status)
}

func TestResearchWorkflowPlanningFailure(t *testing.T) {
	env := newTestEnv(t)
	env.OnActivity(constants.PlanResearchActivity, mock.Anything, mock.Anything).Return(
		nil, temporal.NewNonRetryableApplicationError("anthropic: status 401", activities.ErrTypeProviderRejected, nil))
	env.OnActivity(constants.CommitCheckpointActivity, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(ResearchWorkflow, input("solid-state batteries"))

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeStageFailed, appErr.Type())
	var stage string
	require.NoError(t, appErr.Details(&stage))
	assert.Equal(t, models.StagePlanning, stage)

	st := queryState(t, env)
	assert.Equal(t, models.StatusFailed, st.Status)
	assert.Equal(t, models.StagePlanning, st.FailedStage)
	assert.Empty(t, st.StagesCompleted)
}

func TestResearchWorkflowCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.OnActivity(constants.PlanResearchActivity, mock.Anything, mock.Anything).Return(testPlan(), nil)
	env.OnActivity(constants.DiscoverAgentActivity, mock.Anything, mock.Anything).
		After(5*time.Minute).
		Return(&models.FieldReport{}, nil)
	env.OnActivity(constants.CommitCheckpointActivity, mock.Anything, mock.Anything).Return(nil)
	env.RegisterDelayedCallback(env.CancelWorkflow, time.Minute)

	env.ExecuteWorkflow(ResearchWorkflow, input("solid-state batteries"))

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, temporal.IsCanceledError(err))

	st := queryState(t, env)
	assert.Equal(t, models.StatusCancelled, st.Status)
	assert.Equal(t, models.StageDiscovery, st.FailedStage)
}

func TestResearchWorkflowDeadlineIsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.OnActivity(constants.PlanResearchActivity, mock.Anything, mock.Anything).Return(testPlan(), nil)
	env.OnActivity(constants.DiscoverAgentActivity, mock.Anything, mock.Anything).
		After(5*time.Minute).
		Return(&models.FieldReport{}, nil)
	env.OnActivity(constants.CommitCheckpointActivity, mock.Anything, mock.Anything).Return(nil)

	in := input("solid-state batteries")
	in.Deadline = 2 * time.Minute
	env.ExecuteWorkflow(ResearchWorkflow, in)

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.False(t, temporal.IsCanceledError(err))
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeDeadlineExceeded, appErr.Type())

	st := queryState(t, env)
	assert.Equal(t, models.StatusFailed, st.Status)
	assert.Contains(t, st.Error, "deadline")
}

func TestSessionRecordWorkflow(t *testing.T) {
	env := newTestEnv(t)
	var got activities.RecordSessionInput
	env.OnActivity(constants.RecordSessionResearchActivity, mock.Anything, mock.Anything).Return(
		func(_ context.Context, in activities.RecordSessionInput) error {
			got = in
			return nil
		})

	env.ExecuteWorkflow(SessionRecordWorkflow, activities.RecordSessionInput{SessionID: "s-1", RequestID: "research-1"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, "research-1", got.RequestID)
}
