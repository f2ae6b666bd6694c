package workflows

import (
	"time"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
)

// BuildOutput assembles the final report from a run whose synthesis loop has
// finished. Sources are the aggregated findings; confidence is the verifier's
// adjusted confidence.
func BuildOutput(state *models.ResearchState, elapsed time.Duration) *models.FinalOutput {
	out := &models.FinalOutput{
		RequestID:      state.RequestID,
		Query:          state.Query,
		Themes:         []models.Theme{},
		Contradictions: []models.Contradiction{},
		OpenQuestions:  []models.OpenQuestion{},
		Sources:        []models.Finding{},
		Metadata: models.OutputMetadata{
			DurationSeconds:    elapsed.Seconds(),
			TokensUsed:         state.TokensUsed,
			LayerTimings:       make(map[string]int64, len(state.LayerTimings)),
			AgentContributions: make(map[string]int, len(state.FieldReports)),
		},
	}
	for k, v := range state.LayerTimings {
		out.Metadata.LayerTimings[k] = v
	}
	for _, r := range state.FieldReports {
		out.Metadata.AgentContributions[r.AgentName] = len(r.Findings)
	}
	if state.Plan != nil {
		out.Goal = state.Plan.GoalObjective
	}
	if state.Aggregation != nil && state.Aggregation.Findings != nil {
		out.Sources = state.Aggregation.Findings
	}
	if s := state.Synthesis; s != nil {
		out.ExecutiveSummary = s.ExecutiveSummary
		out.DetailedAnalysis = s.DetailedAnalysis
		if s.Themes != nil {
			out.Themes = s.Themes
		}
		if s.Contradictions != nil {
			out.Contradictions = s.Contradictions
		}
		if s.OpenQuestions != nil {
			out.OpenQuestions = s.OpenQuestions
		}
		out.Metadata.IterationsUsed = s.IterationsUsed
	}
	if v := state.Verification; v != nil {
		out.Verification = *v
		out.Metadata.Confidence = v.AdjustedConfidence
	}
	return out
}
