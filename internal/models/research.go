package models

import "time"

// AgentConfig describes one discovery agent assigned by the planner.
type AgentConfig struct {
	ID       string  `json:"id"`
	Persona  Persona `json:"persona"`
	Query    string  `json:"query"`
	Priority int     `json:"priority"` // 1 highest, 5 lowest
}

// ResearchPlan is the immutable output of query planning.
type ResearchPlan struct {
	ClarifiedQuery string               `json:"clarifiedQuery"`
	GoalObjective  string               `json:"goalObjective"`
	GoalHash       string               `json:"goalHash"`
	ClarityScore   int                  `json:"clarityScore"`
	Agents         []AgentConfig        `json:"agents"`
	SearchQueries  map[Persona][]string `json:"searchQueries"`
	TokensUsed     int                  `json:"tokensUsed"`
}

// Finding is an atomic claim produced by a discovery agent.
type Finding struct {
	ID         string    `json:"id"`
	Claim      string    `json:"claim"`
	Evidence   string    `json:"evidence"`
	Source     string    `json:"source"`
	SourceURL  string    `json:"sourceUrl,omitempty"`
	Confidence float64   `json:"confidence"`
	Relevance  float64   `json:"relevance"`
	Embedding  []float64 `json:"embedding,omitempty"`
}

// FieldReport is the result of one successful discovery agent.
type FieldReport struct {
	AgentID    string    `json:"agentId"`
	AgentName  string    `json:"agentName"`
	Persona    Persona   `json:"persona"`
	Findings   []Finding `json:"findings"`
	Gaps       []string  `json:"gaps"`
	Confidence float64   `json:"confidence"`
	TokensUsed int       `json:"tokensUsed"`
	DurationMs int64     `json:"durationMs"`
}

// AggregationResult is the deduplicated, bounded finding set.
type AggregationResult struct {
	OriginalCount     int       `json:"originalCount"`
	DeduplicatedCount int       `json:"deduplicatedCount"`
	Findings          []Finding `json:"findings"`
	DuplicatesRemoved int       `json:"duplicatesRemoved"`
	ProcessingTimeMs  int64     `json:"processingTimeMs"`
	EmbeddingSource   string    `json:"embeddingSource,omitempty"`
}

// Theme groups related findings in a synthesis.
type Theme struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	SupportingFindings []string `json:"supportingFindings"`
	Confidence         float64  `json:"confidence"`
}

// Contradiction records two claims that disagree.
type Contradiction struct {
	ClaimA     string `json:"claimA"`
	ClaimB     string `json:"claimB"`
	SourceA    string `json:"sourceA"`
	SourceB    string `json:"sourceB"`
	Resolution string `json:"resolution"`
}

// OpenQuestion is something the research could not answer.
type OpenQuestion struct {
	Question       string `json:"question"`
	Reason         string `json:"reason"`
	ResearchNeeded bool   `json:"researchNeeded"`
}

// SynthesisResult is the generated report.
type SynthesisResult struct {
	ExecutiveSummary string          `json:"executiveSummary"`
	DetailedAnalysis string          `json:"detailedAnalysis"`
	Themes           []Theme         `json:"themes"`
	Contradictions   []Contradiction `json:"contradictions"`
	OpenQuestions    []OpenQuestion  `json:"openQuestions"`
	Confidence       float64         `json:"confidence"`
	TokensUsed       int             `json:"tokensUsed"`
	IterationsUsed   int             `json:"iterationsUsed"`
	FeedbackApplied  []string        `json:"feedbackApplied"`
}

// Vulnerability is a weakness found by adversarial verification.
type Vulnerability struct {
	ID           string         `json:"id"`
	Severity     Severity       `json:"severity"`
	Strategy     AttackStrategy `json:"strategy"`
	Finding      string         `json:"finding"`
	Evidence     string         `json:"evidence"`
	Impact       string         `json:"impact"`
	SuggestedFix string         `json:"suggestedFix"`
}

// VerificationReport is the verifier's assessment of a synthesis.
type VerificationReport struct {
	Verdict                Verdict           `json:"verdict"`
	Vulnerabilities        []Vulnerability   `json:"vulnerabilities"`
	OriginalConfidence     float64           `json:"originalConfidence"`
	AdjustedConfidence     float64           `json:"adjustedConfidence"`
	ConfidenceReason       string            `json:"confidenceReason"`
	SteelManAssessment     string            `json:"steelManAssessment"`
	AlternativeConclusions []string          `json:"alternativeConclusions"`
	Recommendations        map[string]string `json:"recommendations"`
	TokensUsed             int               `json:"tokensUsed"`
}

// OutputMetadata summarizes how a run was produced.
type OutputMetadata struct {
	DurationSeconds    float64          `json:"durationSeconds"`
	TokensUsed         int              `json:"tokensUsed"`
	LayerTimings       map[string]int64 `json:"layerTimings"`
	AgentContributions map[string]int   `json:"agentContributions"`
	Confidence         float64          `json:"confidence"`
	IterationsUsed     int              `json:"iterationsUsed"`
}

// FinalOutput is the report returned to callers.
type FinalOutput struct {
	RequestID        string             `json:"requestId"`
	Query            string             `json:"query"`
	Goal             string             `json:"goal"`
	ExecutiveSummary string             `json:"executiveSummary"`
	DetailedAnalysis string             `json:"detailedAnalysis"`
	Themes           []Theme            `json:"themes"`
	Contradictions   []Contradiction    `json:"contradictions"`
	OpenQuestions    []OpenQuestion     `json:"openQuestions"`
	Verification     VerificationReport `json:"verification"`
	Sources          []Finding          `json:"sources"`
	Metadata         OutputMetadata     `json:"metadata"`
}

// ResearchOptions are per-request tunables. Zero values mean "use the configured default".
type ResearchOptions struct {
	MaxFindings      int     `json:"maxFindings,omitempty" validate:"omitempty,min=1,max=200"`
	DedupThreshold   float64 `json:"dedupThreshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	ThinkingBudget   int     `json:"thinkingBudget,omitempty" validate:"omitempty,min=1024,max=64000"`
	MaxIterations    int     `json:"maxIterations,omitempty" validate:"omitempty,min=1,max=5"`
	SkipVerification bool    `json:"skipVerification,omitempty"`
}

// WithDefaults fills zero-valued fields.
func (o ResearchOptions) WithDefaults() ResearchOptions {
	if o.MaxFindings <= 0 {
		o.MaxFindings = DefaultMaxFindings
	}
	if o.DedupThreshold <= 0 {
		o.DedupThreshold = DefaultDedupThreshold
	}
	if o.ThinkingBudget <= 0 {
		o.ThinkingBudget = DefaultThinkingBudget
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	return o
}

// LoopState is the durable state of the synthesis/verification loop.
type LoopState struct {
	Iteration int       `json:"iteration"`
	Phase     LoopPhase `json:"phase"`
	Feedback  string    `json:"feedback,omitempty"`
}

// ResearchState is the full per-run state, owned by exactly one workflow run.
type ResearchState struct {
	RequestID       string              `json:"requestId"`
	Query           string              `json:"query"`
	SessionID       string              `json:"sessionId,omitempty"`
	Status          ResearchStatus      `json:"status"`
	Plan            *ResearchPlan       `json:"plan,omitempty"`
	FieldReports    []FieldReport       `json:"fieldReports,omitempty"`
	Aggregation     *AggregationResult  `json:"aggregation,omitempty"`
	Synthesis       *SynthesisResult    `json:"synthesis,omitempty"`
	Verification    *VerificationReport `json:"verification,omitempty"`
	Output          *FinalOutput        `json:"output,omitempty"`
	Error           string              `json:"error,omitempty"`
	FailedStage     string              `json:"failedStage,omitempty"`
	Loop            LoopState           `json:"loop"`
	LayerTimings    map[string]int64    `json:"layerTimings"`
	TokensUsed      int                 `json:"tokensUsed"`
	StagesCompleted []string            `json:"stagesCompleted"`
	StartedAt       time.Time           `json:"startedAt"`
	CompletedAt     *time.Time          `json:"completedAt,omitempty"`
}

// ResearchInput starts a research run.
type ResearchInput struct {
	RequestID string          `json:"requestId"`
	Query     string          `json:"query"`
	SessionID string          `json:"sessionId,omitempty"`
	Options   ResearchOptions `json:"options"`
	// Deadline bounds the whole run. Zero means DefaultDeadline.
	Deadline time.Duration `json:"deadline,omitempty"`
}

// ResearchResult is returned by a completed run.
type ResearchResult struct {
	RequestID       string       `json:"requestId"`
	Output          *FinalOutput `json:"output"`
	StagesCompleted []string     `json:"stagesCompleted"`
	DurationSeconds float64      `json:"durationSeconds"`
	TokensUsed      int          `json:"tokensUsed"`
}
