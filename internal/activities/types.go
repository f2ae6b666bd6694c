package activities

import "github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"

// PlanResearchInput is the input for PlanResearch
type PlanResearchInput struct {
	RequestID      string `json:"requestId"`
	Query          string `json:"query"`
	ThinkingBudget int    `json:"thinkingBudget"`
}

// DiscoverAgentInput is the input for DiscoverAgent
type DiscoverAgentInput struct {
	RequestID string             `json:"requestId"`
	Agent     models.AgentConfig `json:"agent"`
}

// AggregateFindingsInput is the input for AggregateFindings
type AggregateFindingsInput struct {
	RequestID   string           `json:"requestId"`
	Findings    []models.Finding `json:"findings"`
	Threshold   float64          `json:"threshold"`
	MaxFindings int              `json:"maxFindings"`
}

// GenerateSynthesisInput is the input for GenerateSynthesis
type GenerateSynthesisInput struct {
	RequestID      string           `json:"requestId"`
	Findings       []models.Finding `json:"findings"`
	Goal           string           `json:"goal"`
	Feedback       string           `json:"feedback,omitempty"`
	ThinkingBudget int              `json:"thinkingBudget"`
	Iteration      int              `json:"iteration"`
}

// VerifySynthesisInput is the input for VerifySynthesis
type VerifySynthesisInput struct {
	RequestID string                  `json:"requestId"`
	Synthesis *models.SynthesisResult `json:"synthesis"`
	Findings  []models.Finding        `json:"findings"`
	Iteration int                     `json:"iteration"`
}

// CheckpointInput commits one step of a run and updates the run row. An empty
// Step only updates the run row.
type CheckpointInput struct {
	RequestID   string                `json:"requestId"`
	Query       string                `json:"query"`
	SessionID   string                `json:"sessionId,omitempty"`
	Step        string                `json:"step,omitempty"`
	Seq         int                   `json:"seq"`
	Status      models.ResearchStatus `json:"status"`
	Payload     interface{}           `json:"payload,omitempty"`
	GoalHash    string                `json:"goalHash,omitempty"`
	TokensUsed  int                   `json:"tokensUsed"`
	FailedStage string                `json:"failedStage,omitempty"`
	Error       string                `json:"error,omitempty"`
	Output      *models.FinalOutput   `json:"output,omitempty"`
	Terminal    bool                  `json:"terminal,omitempty"`
}

// RecordSessionInput is the input for RecordSessionResearch
type RecordSessionInput struct {
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId"`
}
