// Package discovery runs one persona-framed search agent and turns its answer
// into findings. Fan-out across agents is owned by the research workflow.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/llm"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/personas"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/util"
)

const (
	DefaultMaxTokens = 4000
	searchTemp       = 0.7

	defaultScore          = 0.7
	fallbackScore         = 0.6
	fallbackSource        = "Grok Analysis"
	unknownSource         = "Unknown"
	fallbackClaimLen      = 500
	reportConfidence      = 0.8
	emptyReportConfidence = 0.3
)

const userPromptTemplate = `Research the following query and provide detailed findings with sources.

Query: %s

Respond with a JSON array of findings:
[
  {
    "claim": "Main finding or claim",
    "evidence": "Supporting evidence or details",
    "source": "Source name",
    "source_url": "https://...",
    "confidence": 0.85,
    "relevance": 0.9
  }
]

Include 3-7 findings. Be specific and cite sources.`

// Agent executes discovery agents against the search model.
type Agent struct {
	search    llm.Completer
	catalog   *personas.Catalog
	maxTokens int
	logger    *zap.Logger
}

// New creates an agent runner. maxTokens <= 0 uses DefaultMaxTokens.
func New(search llm.Completer, catalog *personas.Catalog, maxTokens int, logger *zap.Logger) *Agent {
	if catalog == nil {
		catalog = personas.Default()
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{search: search, catalog: catalog, maxTokens: maxTokens, logger: logger}
}

// Run issues one search call for cfg. Transport and status errors are returned;
// malformed content degrades into a single low-confidence finding.
func (a *Agent) Run(ctx context.Context, cfg models.AgentConfig) (*models.FieldReport, error) {
	start := time.Now()
	logger := a.logger.With(zap.String("agent_id", cfg.ID), zap.String("persona", string(cfg.Persona)))

	resp, err := a.search.Complete(ctx, llm.CompletionRequest{
		System:      a.catalog.SystemPrompt(cfg.Persona),
		Prompt:      fmt.Sprintf(userPromptTemplate, cfg.Query),
		MaxTokens:   a.maxTokens,
		Temperature: llm.Float32(searchTemp),
	})
	if err != nil {
		outcome := "error"
		if ctx.Err() != nil {
			outcome = "cancelled"
		}
		metrics.DiscoveryAgents.WithLabelValues(string(cfg.Persona), outcome).Inc()
		return nil, fmt.Errorf("agent %s: %w", cfg.ID, err)
	}

	findings, degraded := ParseFindings(cfg.ID, resp.Text)
	if degraded {
		metrics.ParseDegradations.WithLabelValues("discovery").Inc()
		logger.Warn("Agent response was not a findings array; kept as one finding",
			zap.String("preview", util.TruncateString(resp.Text, 120, true)))
	}

	confidence := emptyReportConfidence
	if len(findings) > 0 {
		confidence = reportConfidence
	}
	report := &models.FieldReport{
		AgentID:    cfg.ID,
		AgentName:  "Grok " + string(cfg.Persona),
		Persona:    cfg.Persona,
		Findings:   findings,
		Gaps:       []string{},
		Confidence: confidence,
		TokensUsed: resp.TotalTokens(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	metrics.DiscoveryAgents.WithLabelValues(string(cfg.Persona), "success").Inc()
	metrics.DiscoveryFindings.WithLabelValues(string(cfg.Persona)).Observe(float64(len(findings)))
	logger.Info("Agent finished",
		zap.Int("findings", len(findings)),
		zap.Int("tokens", report.TokensUsed),
		zap.Int64("duration_ms", report.DurationMs),
	)
	return report, nil
}

type rawFinding struct {
	Claim      string  `json:"claim"`
	Evidence   string  `json:"evidence"`
	Source     string  `json:"source"`
	SourceURL  string  `json:"source_url"`
	Confidence float64 `json:"confidence"`
	Relevance  float64 `json:"relevance"`
}

// ParseFindings converts a search answer into findings with ids "<agentID>_<idx>".
// An array is taken as-is; an object carrying a "findings" array is unwrapped;
// any other valid JSON yields no findings. Text that is not JSON becomes one
// fallback finding and degraded is true.
func ParseFindings(agentID, content string) (findings []models.Finding, degraded bool) {
	if strings.TrimSpace(content) == "" {
		content = "[]"
	}

	trimmed := strings.TrimSpace(content)
	extracted := llm.ExtractJSON(content)
	carved := extracted != trimmed && !strings.HasPrefix(trimmed, "```")

	var doc any
	if err := json.Unmarshal([]byte(extracted), &doc); err != nil {
		return fallbackFinding(agentID, content), true
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		items, _ = v["findings"].([]any)
	}

	findings = make([]models.Finding, 0, len(items))
	for idx, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		raw := decodeFinding(obj)
		source := strings.TrimSpace(raw.Source)
		if source == "" {
			source = unknownSource
		}
		findings = append(findings, models.Finding{
			ID:         fmt.Sprintf("%s_%d", agentID, idx),
			Claim:      raw.Claim,
			Evidence:   raw.Evidence,
			Source:     source,
			SourceURL:  raw.SourceURL,
			Confidence: score(raw.Confidence),
			Relevance:  score(raw.Relevance),
		})
	}
	// A bracketed fragment cut out of prose ("see [1]") is not an answer.
	if len(findings) == 0 && carved {
		return fallbackFinding(agentID, content), true
	}
	return findings, false
}

func fallbackFinding(agentID, content string) []models.Finding {
	return []models.Finding{{
		ID:         agentID + "_0",
		Claim:      util.Truncate(content, fallbackClaimLen),
		Evidence:   content,
		Source:     fallbackSource,
		Confidence: fallbackScore,
		Relevance:  fallbackScore,
	}}
}

// decodeFinding reads one item leniently: fields with the wrong JSON type are
// left zero instead of failing the whole array.
func decodeFinding(obj map[string]any) rawFinding {
	var f rawFinding
	f.Claim, _ = obj["claim"].(string)
	f.Evidence, _ = obj["evidence"].(string)
	f.Source, _ = obj["source"].(string)
	f.SourceURL, _ = obj["source_url"].(string)
	f.Confidence, _ = obj["confidence"].(float64)
	f.Relevance, _ = obj["relevance"].(float64)
	return f
}

// score defaults missing or zero scores and clamps into [0,1].
func score(v float64) float64 {
	if v <= 0 {
		return defaultScore
	}
	if v > 1 {
		return 1
	}
	return v
}
