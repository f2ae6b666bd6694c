// Package planner clarifies a research query and assigns the discovery team.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/llm"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/util"
)

const (
	planMaxTokens       = 16000
	defaultClarityScore = 7
	autoAgentPriority   = 5
)

const plannerPrompt = `You are a research planning expert. Your task is to:

1. CLARIFY the user's query - make it specific and actionable
2. PLAN the research strategy - assign discovery agents with specific queries

## Output Format (JSON)
{
  "clarified_query": "The refined, specific query",
  "goal_objective": "Clear objective statement",
  "clarity_score": 8,
  "grok_agents": [
    {"id": "tech_1", "persona": "tech", "query": "Specific technical query for this agent", "priority": 1}
  ],
  "search_queries": {
    "tech": ["query1", "query2"],
    "news": ["query1"],
    "contrarian": ["query1"],
    "academic": ["query1"],
    "practical": ["query1"]
  }
}

clarity_score is 1-10, how clear the original query is.

## Personas (use ALL 5 for comprehensive research)
- tech: Technical implementation, architecture, code
- news: Recent developments, announcements, trends
- contrarian: Alternative viewpoints, criticisms, risks
- academic: Research papers, theoretical foundations
- practical: Real-world applications, case studies

## Rules
- Always use all 5 personas for comprehensive coverage
- Each agent gets a specialized query tailored to their perspective
- Priority 1 = most important, 5 = least important`

// PlanningError means the model answer could not be turned into a plan.
type PlanningError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return "planning failed: " + e.Reason
}

func (e *PlanningError) Unwrap() error { return e.Err }

// Planner runs L0.
type Planner struct {
	llm    llm.Completer
	logger *zap.Logger
}

// New creates a planner over the reasoning model.
func New(completer llm.Completer, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{llm: completer, logger: logger}
}

type rawAgent struct {
	ID       string `json:"id"`
	Persona  string `json:"persona"`
	Query    string `json:"query"`
	Priority int    `json:"priority"`
}

type rawPlan struct {
	ClarifiedQuery string              `json:"clarified_query"`
	GoalObjective  string              `json:"goal_objective"`
	ClarityScore   float64             `json:"clarity_score"`
	Agents         []rawAgent          `json:"grok_agents"`
	SearchQueries  map[string][]string `json:"search_queries"`
}

// PlanQuery makes one model call and returns a plan that covers every required
// persona exactly once. thinkingBudget <= 0 uses the default.
func (p *Planner) PlanQuery(ctx context.Context, query string, thinkingBudget int) (*models.ResearchPlan, error) {
	query, err := models.ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	if thinkingBudget <= 0 {
		thinkingBudget = models.DefaultThinkingBudget
	}

	resp, err := p.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:         plannerPrompt + "\n\n## User Query\n" + query + "\n\nRespond with JSON only, no markdown.",
		MaxTokens:      planMaxTokens,
		ThinkingBudget: thinkingBudget,
	})
	if err != nil {
		return nil, fmt.Errorf("planner model call: %w", err)
	}

	plan, err := parsePlan(query, resp.Text)
	if err != nil {
		p.logger.Warn("Planner response unparseable",
			zap.String("preview", util.TruncateString(resp.Text, 200, true)),
			zap.Error(err),
		)
		return nil, err
	}
	plan.TokensUsed = resp.TotalTokens()

	p.logger.Info("Research plan ready",
		zap.String("goal_hash", plan.GoalHash),
		zap.Int("clarity_score", plan.ClarityScore),
		zap.Int("agents", len(plan.Agents)),
	)
	return plan, nil
}

func parsePlan(query, text string) (*models.ResearchPlan, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &PlanningError{Reason: "empty model response"}
	}
	var raw rawPlan
	if err := json.Unmarshal([]byte(llm.ExtractJSON(text)), &raw); err != nil {
		return nil, &PlanningError{Reason: "response is not a plan object", Raw: text, Err: err}
	}

	clarified := strings.TrimSpace(raw.ClarifiedQuery)
	if clarified == "" {
		clarified = query
	}
	goal := strings.TrimSpace(raw.GoalObjective)
	if goal == "" {
		goal = query
	}
	clarity := int(raw.ClarityScore)
	if clarity <= 0 {
		clarity = defaultClarityScore
	}
	if clarity > 10 {
		clarity = 10
	}

	return &models.ResearchPlan{
		ClarifiedQuery: clarified,
		GoalObjective:  goal,
		GoalHash:       GoalHash(clarified),
		ClarityScore:   clarity,
		Agents:         ensurePersonas(clarified, raw.Agents),
		SearchQueries:  searchQueries(raw.SearchQueries),
	}, nil
}

// GoalHash is the first 16 hex chars of the SHA-256 of the clarified query.
// It correlates runs of the same question; it is not a cache key.
func GoalHash(clarified string) string {
	sum := sha256.Sum256([]byte(clarified))
	return hex.EncodeToString(sum[:])[:16]
}

// ensurePersonas normalizes the model's agents: unknown personas and repeats
// are dropped, and any required persona left uncovered gets a synthesized agent.
// Model agents keep their order; synthesized agents follow in persona order.
func ensurePersonas(clarified string, agents []rawAgent) []models.AgentConfig {
	seen := make(map[models.Persona]bool, len(models.RequiredPersonas))
	out := make([]models.AgentConfig, 0, len(models.RequiredPersonas))

	for _, a := range agents {
		persona := models.Persona(strings.ToLower(strings.TrimSpace(a.Persona)))
		if !persona.IsValid() || seen[persona] {
			continue
		}
		seen[persona] = true

		id := strings.TrimSpace(a.ID)
		if id == "" {
			id = string(persona) + "_1"
		}
		q := strings.TrimSpace(a.Query)
		if q == "" {
			q = autoQuery(clarified, persona)
		}
		priority := a.Priority
		if priority < 1 || priority > autoAgentPriority {
			priority = autoAgentPriority
		}
		out = append(out, models.AgentConfig{ID: id, Persona: persona, Query: q, Priority: priority})
	}

	for _, persona := range models.RequiredPersonas {
		if seen[persona] {
			continue
		}
		out = append(out, models.AgentConfig{
			ID:       string(persona) + "_auto",
			Persona:  persona,
			Query:    autoQuery(clarified, persona),
			Priority: autoAgentPriority,
		})
	}
	return out
}

func autoQuery(clarified string, persona models.Persona) string {
	return fmt.Sprintf("%s - %s perspective", clarified, persona)
}

func searchQueries(in map[string][]string) map[models.Persona][]string {
	out := make(map[models.Persona][]string, len(in))
	for k, v := range in {
		persona := models.Persona(strings.ToLower(strings.TrimSpace(k)))
		if persona.IsValid() && len(v) > 0 {
			out[persona] = v
		}
	}
	return out
}
