package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/activities"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/constants"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/db"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/synthesis"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/workflows/opts"
)

// Application error types returned by ResearchWorkflow. Failures carry the
// failing stage name as error details.
const (
	ErrTypeStageFailed      = "StageFailed"
	ErrTypeDeadlineExceeded = "DeadlineExceeded"
)

// research is the per-run state owned by one workflow execution.
type research struct {
	input    models.ResearchInput
	options  models.ResearchOptions
	deadline time.Duration
	logger   log.Logger

	state       models.ResearchState
	seq         int
	deadlineHit bool
}

// ResearchWorkflow runs planning, concurrent discovery, aggregation and the
// bounded synthesis/verification loop, then assembles the final output. Each
// stage commits a checkpoint after it completes. Workflow history makes a
// committed stage final: a restarted worker replays it instead of re-running it.
func ResearchWorkflow(ctx workflow.Context, input models.ResearchInput) (*models.ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	if input.RequestID == "" {
		input.RequestID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	r := &research{
		input:    input,
		options:  input.Options.WithDefaults(),
		deadline: input.Deadline,
		logger:   logger,
		state: models.ResearchState{
			RequestID:       input.RequestID,
			Query:           input.Query,
			SessionID:       input.SessionID,
			Status:          models.StatusPending,
			LayerTimings:    map[string]int64{},
			StagesCompleted: []string{},
			StartedAt:       workflow.Now(ctx),
		},
	}
	if r.deadline <= 0 {
		r.deadline = models.DefaultDeadline
	}

	if err := workflow.SetQueryHandler(ctx, constants.ResearchStateQuery, func() (models.ResearchState, error) {
		return r.state, nil
	}); err != nil {
		return nil, fmt.Errorf("register state query: %w", err)
	}

	if _, err := models.ValidateQuery(input.Query); err != nil {
		r.state.Status = models.StatusFailed
		r.state.Error = err.Error()
		logger.Warn("Rejected research request", "request_id", input.RequestID, "error", err)
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), activities.ErrTypeInvalidQuery, err)
	}

	logger.Info("ResearchWorkflow started",
		"request_id", input.RequestID,
		"session_id", input.SessionID,
		"max_iterations", r.options.MaxIterations,
		"deadline", r.deadline,
	)
	if !workflow.IsReplaying(ctx) {
		metrics.ResearchRunsStarted.Inc()
	}

	runCtx, cancelRun := workflow.WithCancel(ctx)
	defer cancelRun()
	workflow.Go(runCtx, func(gctx workflow.Context) {
		if err := workflow.NewTimer(gctx, r.deadline).Get(gctx, nil); err != nil {
			return
		}
		r.deadlineHit = true
		logger.Error("Research deadline exceeded", "request_id", input.RequestID, "deadline", r.deadline)
		cancelRun()
	})

	// L0
	started := r.begin(ctx, models.StatusPlanning)
	var plan models.ResearchPlan
	planCtx := workflow.WithActivityOptions(runCtx, opts.PlanningActivityOptions())
	if err := workflow.ExecuteActivity(planCtx, constants.PlanResearchActivity, activities.PlanResearchInput{
		RequestID:      input.RequestID,
		Query:          input.Query,
		ThinkingBudget: r.options.ThinkingBudget,
	}).Get(planCtx, &plan); err != nil {
		return nil, r.fail(ctx, models.StagePlanning, started, err)
	}
	r.state.Plan = &plan
	r.state.TokensUsed += plan.TokensUsed
	r.complete(runCtx, models.StagePlanning, started, plan)

	// L1
	started = r.begin(ctx, models.StatusDiscovering)
	reports, err := r.discover(runCtx, plan.Agents)
	if err != nil {
		return nil, r.fail(ctx, models.StageDiscovery, started, err)
	}
	r.state.FieldReports = reports
	r.complete(runCtx, models.StageDiscovery, started, reports)

	// L2
	started = r.begin(ctx, models.StatusAggregating)
	var agg models.AggregationResult
	aggCtx := workflow.WithActivityOptions(runCtx, opts.AggregationActivityOptions())
	if err := workflow.ExecuteActivity(aggCtx, constants.AggregateFindingsActivity, activities.AggregateFindingsInput{
		RequestID:   input.RequestID,
		Findings:    flatten(reports),
		Threshold:   r.options.DedupThreshold,
		MaxFindings: r.options.MaxFindings,
	}).Get(aggCtx, &agg); err != nil {
		return nil, r.fail(ctx, models.StageAggregation, started, err)
	}
	r.state.Aggregation = &agg
	r.complete(runCtx, models.StageAggregation, started, agg)

	// L3
	started = r.begin(ctx, models.StatusSynthesizing)
	synth, verification, err := r.synthesize(runCtx, &agg, plan.GoalObjective)
	if err != nil {
		return nil, r.fail(ctx, models.StageSynthesis, started, err)
	}
	r.state.Synthesis = synth
	r.state.Verification = verification
	r.complete(runCtx, models.StageSynthesis, started, struct {
		Synthesis    *models.SynthesisResult    `json:"synthesis"`
		Verification *models.VerificationReport `json:"verification"`
	}{synth, verification})

	// L4
	started = r.begin(ctx, models.StatusFormatting)
	now := workflow.Now(ctx)
	r.state.LayerTimings[models.StageOutput] = now.Sub(started).Milliseconds()
	r.state.StagesCompleted = append(r.state.StagesCompleted, models.StageOutput)
	output := BuildOutput(&r.state, now.Sub(r.state.StartedAt))
	r.state.Output = output
	r.state.Status = models.StatusCompleted
	r.state.CompletedAt = &now
	r.checkpoint(runCtx, models.StageOutput, output, true)

	if input.SessionID != "" {
		r.recordSession(ctx)
	}

	duration := now.Sub(r.state.StartedAt)
	if !workflow.IsReplaying(ctx) {
		metrics.RecordRunMetrics(string(models.StatusCompleted), duration.Seconds(), r.state.TokensUsed)
		metrics.SynthesisIterations.Observe(float64(output.Metadata.IterationsUsed))
	}
	logger.Info("ResearchWorkflow completed",
		"request_id", input.RequestID,
		"tokens_used", r.state.TokensUsed,
		"iterations", output.Metadata.IterationsUsed,
		"verdict", string(output.Verification.Verdict),
	)

	return &models.ResearchResult{
		RequestID:       input.RequestID,
		Output:          output,
		StagesCompleted: append([]string{}, r.state.StagesCompleted...),
		DurationSeconds: duration.Seconds(),
		TokensUsed:      r.state.TokensUsed,
	}, nil
}

// discover launches one activity per agent and waits for all of them. A
// failed agent is dropped; only cancellation of the run fails the stage.
func (r *research) discover(ctx workflow.Context, agents []models.AgentConfig) ([]models.FieldReport, error) {
	actx := workflow.WithActivityOptions(ctx, opts.DiscoveryActivityOptions())
	futures := make([]workflow.Future, len(agents))
	for i, agent := range agents {
		futures[i] = workflow.ExecuteActivity(actx, constants.DiscoverAgentActivity, activities.DiscoverAgentInput{
			RequestID: r.input.RequestID,
			Agent:     agent,
		})
	}

	reports := make([]models.FieldReport, 0, len(agents))
	var failed int
	for i, f := range futures {
		var report models.FieldReport
		if err := f.Get(actx, &report); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			failed++
			r.logger.Warn("Discovery agent failed",
				"agent_id", agents[i].ID,
				"persona", string(agents[i].Persona),
				"error", err,
			)
			continue
		}
		r.state.TokensUsed += report.TokensUsed
		reports = append(reports, report)
	}
	r.logger.Info("Discovery settled", "succeeded", len(reports), "failed", failed)
	return reports, nil
}

// synthesize drives the generate/verify state machine until it is done. The
// loop state is part of the queryable run state and each phase commits its own
// checkpoint.
func (r *research) synthesize(ctx workflow.Context, agg *models.AggregationResult, goal string) (*models.SynthesisResult, *models.VerificationReport, error) {
	genCtx := workflow.WithActivityOptions(ctx, opts.SynthesisActivityOptions())
	verCtx := workflow.WithActivityOptions(ctx, opts.VerifyActivityOptions())

	loop := synthesis.NewLoop(r.options.MaxIterations)
	r.state.Loop = loop.State
	for !loop.Done() {
		iteration := loop.State.Iteration
		switch loop.State.Phase {
		case models.PhaseGenerate:
			r.state.Status = models.StatusSynthesizing
			var s models.SynthesisResult
			if err := workflow.ExecuteActivity(genCtx, constants.GenerateSynthesisActivity, activities.GenerateSynthesisInput{
				RequestID:      r.input.RequestID,
				Findings:       agg.Findings,
				Goal:           goal,
				Feedback:       loop.State.Feedback,
				ThinkingBudget: r.options.ThinkingBudget,
				Iteration:      iteration,
			}).Get(genCtx, &s); err != nil {
				return nil, nil, err
			}
			r.state.TokensUsed += s.TokensUsed
			loop.Generated(&s)
			if r.options.SkipVerification {
				loop.Skip()
			}
			r.state.Loop = loop.State
			r.checkpoint(ctx, db.StepName(models.StageSynthesis, string(models.PhaseGenerate), iteration), s, false)

		case models.PhaseVerify:
			r.state.Status = models.StatusVerifying
			var v models.VerificationReport
			if err := workflow.ExecuteActivity(verCtx, constants.VerifySynthesisActivity, activities.VerifySynthesisInput{
				RequestID: r.input.RequestID,
				Synthesis: loop.Synthesis,
				Findings:  agg.Findings,
				Iteration: iteration,
			}).Get(verCtx, &v); err != nil {
				return nil, nil, err
			}
			r.state.TokensUsed += v.TokensUsed
			loop.Verified(&v)
			r.state.Loop = loop.State
			r.checkpoint(ctx, db.StepName(models.StageSynthesis, string(models.PhaseVerify), iteration), v, false)
			if !workflow.IsReplaying(ctx) {
				metrics.VerificationVerdicts.WithLabelValues(string(v.Verdict)).Inc()
			}

		default:
			return nil, nil, fmt.Errorf("unexpected loop phase %q", loop.State.Phase)
		}
	}
	synth, verification := loop.Result()
	return synth, verification, nil
}

func (r *research) begin(ctx workflow.Context, status models.ResearchStatus) time.Time {
	r.state.Status = status
	return workflow.Now(ctx)
}

func (r *research) complete(ctx workflow.Context, stage string, started time.Time, payload interface{}) {
	elapsed := workflow.Now(ctx).Sub(started)
	r.state.LayerTimings[stage] = elapsed.Milliseconds()
	r.state.StagesCompleted = append(r.state.StagesCompleted, stage)
	if !workflow.IsReplaying(ctx) {
		metrics.RecordStage(stage, elapsed.Seconds(), nil)
	}
	r.checkpoint(ctx, stage, payload, false)
}

// checkpoint commits a step to the state log. A failed commit is logged and
// never fails the run.
func (r *research) checkpoint(ctx workflow.Context, step string, payload interface{}, terminal bool) {
	r.seq++
	in := activities.CheckpointInput{
		RequestID:   r.input.RequestID,
		Query:       r.input.Query,
		SessionID:   r.input.SessionID,
		Step:        step,
		Seq:         r.seq,
		Status:      r.state.Status,
		Payload:     payload,
		TokensUsed:  r.state.TokensUsed,
		FailedStage: r.state.FailedStage,
		Error:       r.state.Error,
		Output:      r.state.Output,
		Terminal:    terminal,
	}
	if r.state.Plan != nil {
		in.GoalHash = r.state.Plan.GoalHash
	}
	cctx := opts.WithCheckpointOptions(ctx)
	if err := workflow.ExecuteActivity(cctx, constants.CommitCheckpointActivity, in).Get(cctx, nil); err != nil {
		r.logger.Warn("Checkpoint commit failed", "step", step, "error", err)
	}
}

// fail records the terminal state of a run that stopped in stage. A caller
// cancellation ends the run as cancelled; everything else, including the
// pipeline deadline, is a failure tagged with the stage.
func (r *research) fail(ctx workflow.Context, stage string, started time.Time, err error) error {
	now := workflow.Now(ctx)
	cancelled := !r.deadlineHit && (ctx.Err() != nil || temporal.IsCanceledError(err))

	status := models.StatusFailed
	message := err.Error()
	switch {
	case cancelled:
		status = models.StatusCancelled
		message = "cancelled by caller"
	case r.deadlineHit:
		message = fmt.Sprintf("pipeline deadline of %s exceeded", r.deadline)
	}

	r.state.Status = status
	r.state.FailedStage = stage
	r.state.Error = message
	r.state.CompletedAt = &now

	if !workflow.IsReplaying(ctx) {
		metrics.RecordStage(stage, now.Sub(started).Seconds(), err)
		metrics.RecordRunMetrics(string(status), now.Sub(r.state.StartedAt).Seconds(), r.state.TokensUsed)
	}

	// The run context may already be cancelled; the terminal record must still land.
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	r.checkpoint(dctx, "", nil, true)

	if cancelled {
		r.logger.Info("ResearchWorkflow cancelled", "request_id", r.input.RequestID, "stage", stage)
		return temporal.NewCanceledError(stage)
	}
	r.logger.Error("ResearchWorkflow failed", "request_id", r.input.RequestID, "stage", stage, "error", err)
	if r.deadlineHit {
		return temporal.NewNonRetryableApplicationError(message, ErrTypeDeadlineExceeded, nil, stage)
	}
	return temporal.NewNonRetryableApplicationError(fmt.Sprintf("%s: %s", stage, message), ErrTypeStageFailed, err, stage)
}

// recordSession hands the session write to an abandoned child workflow so the
// result does not wait for it.
func (r *research) recordSession(ctx workflow.Context) {
	cwo := workflow.ChildWorkflowOptions{
		WorkflowID:        r.input.RequestID + "-session",
		ParentClosePolicy: sessionParentClosePolicy,
	}
	child := workflow.ExecuteChildWorkflow(workflow.WithChildOptions(ctx, cwo), constants.SessionRecordWorkflowName, activities.RecordSessionInput{
		SessionID: r.input.SessionID,
		RequestID: r.input.RequestID,
	})
	// Wait only for the child to start; an abandoned child survives our completion.
	if err := child.GetChildWorkflowExecution().Get(ctx, nil); err != nil {
		r.logger.Warn("Failed to start session recording", "session_id", r.input.SessionID, "error", err)
	}
}

func flatten(reports []models.FieldReport) []models.Finding {
	var n int
	for _, rep := range reports {
		n += len(rep.Findings)
	}
	out := make([]models.Finding, 0, n)
	for _, rep := range reports {
		out = append(out, rep.Findings...)
	}
	return out
}
