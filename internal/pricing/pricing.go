// Package pricing estimates provider spend from token usage.
package pricing

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	pmetrics "github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
)

// ModelPrice is USD per 1K tokens. CombinedPer1K is used when the split is unknown.
type ModelPrice struct {
	InputPer1K    float64 `yaml:"input_per_1k"`
	OutputPer1K   float64 `yaml:"output_per_1k"`
	CombinedPer1K float64 `yaml:"combined_per_1k"`
}

// Config structure for the pricing section of a models file
type config struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
		Models map[string]map[string]ModelPrice `yaml:"models"`
	} `yaml:"pricing"`
}

const fallbackCombinedPer1K = 0.002

// builtin covers the providers the pipeline ships with; a file only needs the
// models it adds or changes.
var builtin = map[string]ModelPrice{
	"claude-sonnet-4-20250514":   {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-7-sonnet-20250219": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-haiku-20241022":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
	"grok-beta":                  {InputPer1K: 0.005, OutputPer1K: 0.015},
	"grok-3":                     {InputPer1K: 0.003, OutputPer1K: 0.015},
	"gpt-4o":                     {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":                {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"text-embedding-3-small":     {CombinedPer1K: 0.00002},
	"voyage-3-lite":              {CombinedPer1K: 0.00002},
}

type table struct {
	defaultPer1K float64
	models       map[string]ModelPrice
}

var (
	mu     sync.RWMutex
	loaded *table
	source string
)

func builtinTable() *table {
	t := &table{defaultPer1K: fallbackCombinedPer1K, models: make(map[string]ModelPrice, len(builtin))}
	for k, v := range builtin {
		t.models[k] = v
	}
	return t
}

func parse(data []byte) (*table, error) {
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	t := builtinTable()
	if d := cfg.Pricing.Defaults.CombinedPer1K; d < 0 {
		return nil, fmt.Errorf("pricing.defaults.combined_per_1k must be >= 0")
	} else if d > 0 {
		t.defaultPer1K = d
	}
	for provider, models := range cfg.Pricing.Models {
		for name, p := range models {
			if p.InputPer1K < 0 || p.OutputPer1K < 0 || p.CombinedPer1K < 0 {
				return nil, fmt.Errorf("negative price for %s:%s", provider, name)
			}
			t.models[strings.ToLower(name)] = p
		}
	}
	return t, nil
}

// Load replaces the price table with the built-ins overlaid by path. An empty
// path or a missing file keeps the built-ins.
func Load(path string) error {
	t := builtinTable()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return fmt.Errorf("read pricing: %w", err)
		default:
			if t, err = parse(data); err != nil {
				return fmt.Errorf("parse pricing %s: %w", path, err)
			}
		}
	}
	mu.Lock()
	loaded = t
	source = path
	mu.Unlock()
	return nil
}

// Reload re-reads the last loaded file.
func Reload() error {
	mu.RLock()
	path := source
	mu.RUnlock()
	return Load(path)
}

func get() *table {
	mu.RLock()
	if loaded != nil {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	// Double-check after acquiring write lock
	if loaded == nil {
		loaded = builtinTable()
	}
	return loaded
}

// DefaultPerToken returns default combined price per token
func DefaultPerToken() float64 {
	return get().defaultPer1K / 1000.0
}

// PricePerTokenForModel returns combined price per token for a model if available
func PricePerTokenForModel(model string) (float64, bool) {
	if model == "" {
		return 0, false
	}
	m, ok := get().models[strings.ToLower(model)]
	if !ok {
		return 0, false
	}
	if m.CombinedPer1K > 0 {
		return m.CombinedPer1K / 1000.0, true
	}
	if m.InputPer1K > 0 && m.OutputPer1K > 0 {
		return ((m.InputPer1K + m.OutputPer1K) / 2.0) / 1000.0, true
	}
	return 0, false
}

// CostForSplit computes cost using input/output token split when available.
// Falls back to combined pricing or default if model not found.
func CostForSplit(model string, inputTokens, outputTokens int) float64 {
	inputTokens = max(inputTokens, 0)
	outputTokens = max(outputTokens, 0)

	if m, ok := get().models[strings.ToLower(model)]; ok && model != "" {
		if m.InputPer1K > 0 && m.OutputPer1K > 0 {
			return (float64(inputTokens)/1000.0)*m.InputPer1K + (float64(outputTokens)/1000.0)*m.OutputPer1K
		}
		if m.CombinedPer1K > 0 {
			return (float64(inputTokens+outputTokens) / 1000.0) * m.CombinedPer1K
		}
	}
	if model == "" {
		pmetrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
	} else {
		pmetrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	}
	return float64(inputTokens+outputTokens) * DefaultPerToken()
}
