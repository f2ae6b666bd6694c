package registry

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/activities"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/constants"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/workflows"
)

// OrchestratorRegistry implements the Registry interface
type OrchestratorRegistry struct {
	logger *zap.Logger
	acts   *activities.Activities
}

// NewOrchestratorRegistry creates a new registry instance
func NewOrchestratorRegistry(logger *zap.Logger, acts *activities.Activities) *OrchestratorRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrchestratorRegistry{logger: logger, acts: acts}
}

// RegisterWorkflows registers the research workflow and its session child
func (r *OrchestratorRegistry) RegisterWorkflows(w worker.Registry) error {
	w.RegisterWorkflowWithOptions(workflows.ResearchWorkflow, workflow.RegisterOptions{Name: constants.ResearchWorkflowName})
	w.RegisterWorkflowWithOptions(workflows.SessionRecordWorkflow, workflow.RegisterOptions{Name: constants.SessionRecordWorkflowName})
	r.logger.Info("Registered workflows")
	return nil
}

// RegisterActivities registers every activity under its constants name
func (r *OrchestratorRegistry) RegisterActivities(w worker.Registry) error {
	acts := r.acts
	if acts == nil {
		acts = activities.NewActivities(activities.Deps{}, r.logger)
	}

	// Pipeline stages
	w.RegisterActivityWithOptions(acts.PlanResearch, activity.RegisterOptions{Name: constants.PlanResearchActivity})
	w.RegisterActivityWithOptions(acts.DiscoverAgent, activity.RegisterOptions{Name: constants.DiscoverAgentActivity})
	w.RegisterActivityWithOptions(acts.AggregateFindings, activity.RegisterOptions{Name: constants.AggregateFindingsActivity})
	w.RegisterActivityWithOptions(acts.GenerateSynthesis, activity.RegisterOptions{Name: constants.GenerateSynthesisActivity})
	w.RegisterActivityWithOptions(acts.VerifySynthesis, activity.RegisterOptions{Name: constants.VerifySynthesisActivity})

	// State log and sessions
	w.RegisterActivityWithOptions(acts.CommitCheckpoint, activity.RegisterOptions{Name: constants.CommitCheckpointActivity})
	w.RegisterActivityWithOptions(acts.RecordSessionResearch, activity.RegisterOptions{Name: constants.RecordSessionResearchActivity})

	r.logger.Info("Registered activities")
	return nil
}
