// Package synthesis implements L3: report generation, adversarial verification
// and the bounded repair loop state machine.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/llm"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/util"
)

const (
	generateMaxTokens    = 16000
	verifyMaxTokens      = 8000
	verifyThinkingBudget = 5000
	verifyFindingSample  = 10

	defaultThemeConfidence     = 0.7
	defaultSynthesisConfidence = 0.7
	degradedConfidence         = 0.5
)

// Synthesizer issues the generate and verify model calls.
type Synthesizer struct {
	llm    llm.Completer
	logger *zap.Logger
}

// New creates a synthesizer over the reasoning model.
func New(completer llm.Completer, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{llm: completer, logger: logger}
}

type rawSynthesis struct {
	ExecutiveSummary string `json:"executive_summary"`
	DetailedAnalysis string `json:"detailed_analysis"`
	Themes           []struct {
		Name               string   `json:"name"`
		Description        string   `json:"description"`
		SupportingFindings []string `json:"supporting_findings"`
		Confidence         float64  `json:"confidence"`
	} `json:"themes"`
	Contradictions []struct {
		ClaimA     string `json:"claim_a"`
		ClaimB     string `json:"claim_b"`
		SourceA    string `json:"source_a"`
		SourceB    string `json:"source_b"`
		Resolution string `json:"resolution"`
	} `json:"contradictions"`
	OpenQuestions []struct {
		Question       string `json:"question"`
		Reason         string `json:"reason"`
		ResearchNeeded *bool  `json:"research_needed"`
	} `json:"open_questions"`
	Confidence float64 `json:"confidence"`
}

type rawVerification struct {
	Verdict         string `json:"verdict"`
	Vulnerabilities []struct {
		ID           string `json:"id"`
		Severity     string `json:"severity"`
		Strategy     string `json:"strategy"`
		Finding      string `json:"finding"`
		Evidence     string `json:"evidence"`
		Impact       string `json:"impact"`
		SuggestedFix string `json:"suggested_fix"`
	} `json:"vulnerabilities"`
	OriginalConfidence     float64           `json:"original_confidence"`
	AdjustedConfidence     float64           `json:"adjusted_confidence"`
	ConfidenceReason       string            `json:"confidence_reason"`
	SteelManAssessment     string            `json:"steel_man_assessment"`
	AlternativeConclusions []string          `json:"alternative_conclusions"`
	Recommendations        map[string]string `json:"recommendations"`
}

// Generate produces one synthesis. feedback, when non-empty, is appended as
// must-address items from the previous verification. Unparseable output
// degrades into a summary-only synthesis.
func (s *Synthesizer) Generate(ctx context.Context, findings []models.Finding, goal, feedback string, thinkingBudget int) (*models.SynthesisResult, error) {
	if thinkingBudget <= 0 {
		thinkingBudget = models.DefaultThinkingBudget
	}
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:         BuildSynthesisPrompt(findings, goal, feedback),
		MaxTokens:      generateMaxTokens,
		ThinkingBudget: thinkingBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis model call: %w", err)
	}

	result, ok := parseSynthesis(resp.Text)
	if !ok {
		metrics.ParseDegradations.WithLabelValues("synthesis").Inc()
		s.logger.Warn("Synthesis response unparseable; using raw text as summary",
			zap.String("preview", util.TruncateString(resp.Text, 200, true)))
	}
	result.TokensUsed = resp.TotalTokens()
	return result, nil
}

// Verify attacks synth with the seven strategies. Unparseable output degrades
// into a CONDITIONAL_PASS with no vulnerabilities.
func (s *Synthesizer) Verify(ctx context.Context, synth *models.SynthesisResult, findings []models.Finding) (*models.VerificationReport, error) {
	if synth == nil {
		return nil, fmt.Errorf("verify: nil synthesis")
	}
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:         BuildVerificationPrompt(synth, findings),
		MaxTokens:      verifyMaxTokens,
		ThinkingBudget: verifyThinkingBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("verification model call: %w", err)
	}

	report, ok := parseVerification(resp.Text, synth.Confidence)
	if !ok {
		metrics.ParseDegradations.WithLabelValues("verification").Inc()
		s.logger.Warn("Verification response unparseable; treating as conditional pass",
			zap.String("preview", util.TruncateString(resp.Text, 200, true)))
	}
	report.TokensUsed = resp.TotalTokens()
	metrics.VerificationVerdicts.WithLabelValues(string(report.Verdict)).Inc()
	return report, nil
}

// BuildSynthesisPrompt renders the generate request.
func BuildSynthesisPrompt(findings []models.Finding, goal, feedback string) string {
	parts := make([]string, len(findings))
	for i, f := range findings {
		parts[i] = fmt.Sprintf("[%s] %s\nEvidence: %s\nSource: %s (confidence: %s)",
			f.ID, f.Claim, f.Evidence, f.Source, formatFloat(f.Confidence))
	}

	var b strings.Builder
	b.WriteString(synthesisPrompt)
	b.WriteString("\n\n## Research Goal\n")
	b.WriteString(goal)
	b.WriteString("\n\n## Findings\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	b.WriteString("\n\nRespond with JSON only.")
	if feedback != "" {
		b.WriteString("\n\n## Previous Verification Feedback (MUST ADDRESS)\n")
		b.WriteString(feedback)
	}
	return b.String()
}

// BuildVerificationPrompt renders the verify request over the synthesis and
// the first ten findings.
func BuildVerificationPrompt(synth *models.SynthesisResult, findings []models.Finding) string {
	themes := make([]string, len(synth.Themes))
	for i, t := range synth.Themes {
		themes[i] = fmt.Sprintf("- %s: %s", t.Name, t.Description)
	}
	contradictions := make([]string, len(synth.Contradictions))
	for i, c := range synth.Contradictions {
		contradictions[i] = fmt.Sprintf("- %s vs %s", c.ClaimA, c.ClaimB)
	}
	sample := findings
	if len(sample) > verifyFindingSample {
		sample = sample[:verifyFindingSample]
	}
	cited := make([]string, len(sample))
	for i, f := range sample {
		cited[i] = fmt.Sprintf("[%s] %s", f.ID, f.Claim)
	}

	var b strings.Builder
	b.WriteString(verificationPrompt)
	b.WriteString("\n\n## Synthesis to Verify\n")
	fmt.Fprintf(&b, "Executive Summary: %s\n\n", synth.ExecutiveSummary)
	fmt.Fprintf(&b, "Themes: %s\n\n", strings.Join(themes, "\n"))
	fmt.Fprintf(&b, "Contradictions: %s\n\n", strings.Join(contradictions, "\n"))
	fmt.Fprintf(&b, "Confidence: %s\n", formatFloat(synth.Confidence))
	fmt.Fprintf(&b, "\n## Original Findings (%d total)\n", len(findings))
	b.WriteString(strings.Join(cited, "\n"))
	b.WriteString("\n\nRespond with JSON only.")
	return b.String()
}

func parseSynthesis(text string) (*models.SynthesisResult, bool) {
	var raw rawSynthesis
	if err := json.Unmarshal([]byte(llm.ExtractJSON(text)), &raw); err != nil {
		return &models.SynthesisResult{
			ExecutiveSummary: strings.TrimSpace(text),
			Themes:           []models.Theme{},
			Contradictions:   []models.Contradiction{},
			OpenQuestions:    []models.OpenQuestion{},
			Confidence:       degradedConfidence,
			FeedbackApplied:  []string{},
		}, false
	}

	out := &models.SynthesisResult{
		ExecutiveSummary: raw.ExecutiveSummary,
		DetailedAnalysis: raw.DetailedAnalysis,
		Themes:           make([]models.Theme, 0, len(raw.Themes)),
		Contradictions:   make([]models.Contradiction, 0, len(raw.Contradictions)),
		OpenQuestions:    make([]models.OpenQuestion, 0, len(raw.OpenQuestions)),
		Confidence:       unitOr(raw.Confidence, defaultSynthesisConfidence),
		FeedbackApplied:  []string{},
	}
	for _, t := range raw.Themes {
		supporting := t.SupportingFindings
		if supporting == nil {
			supporting = []string{}
		}
		out.Themes = append(out.Themes, models.Theme{
			Name:               t.Name,
			Description:        t.Description,
			SupportingFindings: supporting,
			Confidence:         unitOr(t.Confidence, defaultThemeConfidence),
		})
	}
	for _, c := range raw.Contradictions {
		out.Contradictions = append(out.Contradictions, models.Contradiction{
			ClaimA: c.ClaimA, ClaimB: c.ClaimB,
			SourceA: c.SourceA, SourceB: c.SourceB,
			Resolution: c.Resolution,
		})
	}
	for _, q := range raw.OpenQuestions {
		needed := true
		if q.ResearchNeeded != nil {
			needed = *q.ResearchNeeded
		}
		out.OpenQuestions = append(out.OpenQuestions, models.OpenQuestion{
			Question: q.Question, Reason: q.Reason, ResearchNeeded: needed,
		})
	}
	return out, true
}

func parseVerification(text string, synthConfidence float64) (*models.VerificationReport, bool) {
	var raw rawVerification
	if err := json.Unmarshal([]byte(llm.ExtractJSON(text)), &raw); err != nil {
		return &models.VerificationReport{
			Verdict:                models.VerdictConditionalPass,
			Vulnerabilities:        []models.Vulnerability{},
			OriginalConfidence:     synthConfidence,
			AdjustedConfidence:     synthConfidence,
			ConfidenceReason:       "verifier response could not be parsed; confidence unchanged",
			AlternativeConclusions: []string{},
			Recommendations:        map[string]string{},
		}, false
	}

	out := &models.VerificationReport{
		Verdict:                normalizeVerdict(raw.Verdict),
		Vulnerabilities:        make([]models.Vulnerability, 0, len(raw.Vulnerabilities)),
		OriginalConfidence:     unitOr(raw.OriginalConfidence, synthConfidence),
		AdjustedConfidence:     unitOr(raw.AdjustedConfidence, synthConfidence),
		ConfidenceReason:       raw.ConfidenceReason,
		SteelManAssessment:     raw.SteelManAssessment,
		AlternativeConclusions: raw.AlternativeConclusions,
		Recommendations:        raw.Recommendations,
	}
	if out.AlternativeConclusions == nil {
		out.AlternativeConclusions = []string{}
	}
	if out.Recommendations == nil {
		out.Recommendations = map[string]string{}
	}
	for i, v := range raw.Vulnerabilities {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			id = fmt.Sprintf("v%d", i+1)
		}
		out.Vulnerabilities = append(out.Vulnerabilities, models.Vulnerability{
			ID:           id,
			Severity:     normalizeSeverity(v.Severity),
			Strategy:     models.AttackStrategy(strings.ToLower(strings.TrimSpace(v.Strategy))),
			Finding:      v.Finding,
			Evidence:     v.Evidence,
			Impact:       v.Impact,
			SuggestedFix: v.SuggestedFix,
		})
	}
	return out, true
}

// SkippedReport stands in for verification when the caller opted out of it.
func SkippedReport(synth *models.SynthesisResult) *models.VerificationReport {
	return &models.VerificationReport{
		Verdict:                models.VerdictPass,
		Vulnerabilities:        []models.Vulnerability{},
		OriginalConfidence:     synth.Confidence,
		AdjustedConfidence:     synth.Confidence,
		ConfidenceReason:       "verification skipped",
		AlternativeConclusions: []string{},
		Recommendations:        map[string]string{},
	}
}

func normalizeVerdict(v string) models.Verdict {
	switch models.Verdict(strings.ToUpper(strings.TrimSpace(v))) {
	case models.VerdictConditionalPass:
		return models.VerdictConditionalPass
	case models.VerdictFail:
		return models.VerdictFail
	default:
		return models.VerdictPass
	}
}

func normalizeSeverity(s string) models.Severity {
	switch sev := models.Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
		return sev
	default:
		return models.SeverityMedium
	}
}

// unitOr returns v clamped to [0,1], or def when v is missing or zero.
func unitOr(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	if v > 1 {
		return 1
	}
	return v
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
