package synthesis

import (
	"strings"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
)

// Loop is the durable state of the generate/verify/repair cycle. It is plain
// data so the workflow can hold it in its state and resume mid-loop.
type Loop struct {
	State           models.LoopState           `json:"state"`
	MaxIterations   int                        `json:"maxIterations"`
	Synthesis       *models.SynthesisResult    `json:"synthesis,omitempty"`
	Verification    *models.VerificationReport `json:"verification,omitempty"`
	FeedbackApplied []string                   `json:"feedbackApplied"`
	TokensUsed      int                        `json:"tokensUsed"`
}

// NewLoop starts at iteration 1 in the generate phase.
func NewLoop(maxIterations int) *Loop {
	if maxIterations <= 0 {
		maxIterations = models.DefaultMaxIterations
	}
	return &Loop{
		State:           models.LoopState{Iteration: 1, Phase: models.PhaseGenerate},
		MaxIterations:   maxIterations,
		FeedbackApplied: []string{},
	}
}

// Done reports whether the loop reached its terminal phase.
func (l *Loop) Done() bool { return l.State.Phase == models.PhaseDone }

// Generated records a GENERATE result and moves to VERIFY.
func (l *Loop) Generated(s *models.SynthesisResult) {
	l.Synthesis = s
	l.TokensUsed += s.TokensUsed
	l.State.Phase = models.PhaseVerify
}

// Verified records a VERIFY result and decides the next phase: another
// GENERATE carrying the critical feedback, or DONE when there is no critical
// vulnerability or the iteration budget is spent.
func (l *Loop) Verified(r *models.VerificationReport) {
	l.Verification = r
	l.TokensUsed += r.TokensUsed

	feedback, ids := CriticalFeedback(r)
	if len(ids) == 0 || l.State.Iteration >= l.MaxIterations {
		l.State.Phase = models.PhaseDone
		l.State.Feedback = ""
		return
	}
	l.FeedbackApplied = append(l.FeedbackApplied, ids...)
	l.State = models.LoopState{
		Iteration: l.State.Iteration + 1,
		Phase:     models.PhaseGenerate,
		Feedback:  feedback,
	}
}

// Skip finishes after a single GENERATE with a pass-through verification.
func (l *Loop) Skip() {
	r := SkippedReport(l.Synthesis)
	l.Verification = r
	l.State.Phase = models.PhaseDone
}

// Result returns the final synthesis stamped with loop accounting and the
// last verification report.
func (l *Loop) Result() (*models.SynthesisResult, *models.VerificationReport) {
	if l.Synthesis == nil {
		return nil, l.Verification
	}
	s := *l.Synthesis
	s.IterationsUsed = l.State.Iteration
	s.TokensUsed = l.TokensUsed
	s.FeedbackApplied = append([]string{}, l.FeedbackApplied...)
	return &s, l.Verification
}

// CriticalFeedback renders every critical vulnerability as "CRITICAL: ...\nFix: ..."
// joined by blank lines, and returns their ids.
func CriticalFeedback(r *models.VerificationReport) (string, []string) {
	if r == nil {
		return "", nil
	}
	var parts []string
	var ids []string
	for _, v := range r.Vulnerabilities {
		if v.Severity != models.SeverityCritical {
			continue
		}
		parts = append(parts, "CRITICAL: "+v.Finding+"\nFix: "+v.SuggestedFix)
		ids = append(ids, v.ID)
	}
	return strings.Join(parts, "\n\n"), ids
}
