package models

import "time"

// ResearchStatus is the lifecycle state of a research run.
type ResearchStatus string

// Research statuses
const (
	StatusPending      ResearchStatus = "pending"
	StatusPlanning     ResearchStatus = "planning"
	StatusDiscovering  ResearchStatus = "discovering"
	StatusAggregating  ResearchStatus = "aggregating"
	StatusSynthesizing ResearchStatus = "synthesizing"
	StatusVerifying    ResearchStatus = "verifying"
	StatusFormatting   ResearchStatus = "formatting"
	StatusCompleted    ResearchStatus = "completed"
	StatusFailed       ResearchStatus = "failed"
	StatusCancelled    ResearchStatus = "cancelled"
)

// IsTerminal reports whether no further transitions can happen.
func (s ResearchStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Persona is the analytical lens of a discovery agent.
type Persona string

// Discovery personas
const (
	PersonaTech       Persona = "tech"
	PersonaNews       Persona = "news"
	PersonaContrarian Persona = "contrarian"
	PersonaAcademic   Persona = "academic"
	PersonaPractical  Persona = "practical"
)

// RequiredPersonas lists the personas every plan must cover, in team order.
var RequiredPersonas = []Persona{
	PersonaTech,
	PersonaNews,
	PersonaContrarian,
	PersonaAcademic,
	PersonaPractical,
}

// IsValid reports whether p is one of the required personas.
func (p Persona) IsValid() bool {
	for _, rp := range RequiredPersonas {
		if rp == p {
			return true
		}
	}
	return false
}

// Severity of a verification vulnerability.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AttackStrategy names the adversarial technique that surfaced a vulnerability.
type AttackStrategy string

const (
	StrategySteelMan          AttackStrategy = "steel_man"
	StrategySourceReliability AttackStrategy = "source_reliability"
	StrategyTemporalValidity  AttackStrategy = "temporal_validity"
	StrategyScopeLimitation   AttackStrategy = "scope_limitation"
	StrategyBiasDetection     AttackStrategy = "bias_detection"
	StrategyContradiction     AttackStrategy = "contradiction"
	StrategyMissingEvidence   AttackStrategy = "missing_evidence"
)

// AttackStrategies lists the seven strategies in prompt order.
var AttackStrategies = []AttackStrategy{
	StrategySteelMan,
	StrategySourceReliability,
	StrategyTemporalValidity,
	StrategyScopeLimitation,
	StrategyBiasDetection,
	StrategyContradiction,
	StrategyMissingEvidence,
}

// Verdict is the overall outcome of adversarial verification.
type Verdict string

const (
	VerdictPass            Verdict = "PASS"
	VerdictConditionalPass Verdict = "CONDITIONAL_PASS"
	VerdictFail            Verdict = "FAIL"
)

// LoopPhase is the state of the synthesis/verification loop.
type LoopPhase string

const (
	PhaseGenerate LoopPhase = "generate"
	PhaseVerify   LoopPhase = "verify"
	PhaseDone     LoopPhase = "done"
)

// Stage names recorded in stagesCompleted and layerTimings.
const (
	StagePlanning    = "L0_query_planning"
	StageDiscovery   = "L1_discovery"
	StageAggregation = "L2_aggregation"
	StageSynthesis   = "L3_synthesis"
	StageOutput      = "L4_output"
)

// Pipeline defaults
const (
	DefaultDedupThreshold = 0.85
	DefaultMaxFindings    = 30
	DefaultMaxIterations  = 2
	DefaultThinkingBudget = 10000
	DefaultDeadline       = 10 * time.Minute
)
