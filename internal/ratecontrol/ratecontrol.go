package ratecontrol

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// RateLimit is a provider budget in requests and tokens per minute. Zero means unlimited.
type RateLimit struct {
	RPM int `yaml:"rpm"`
	TPM int `yaml:"tpm"`
}

type fileConfig struct {
	RateLimits struct {
		DefaultRPM        int                  `yaml:"default_rpm"`
		DefaultTPM        int                  `yaml:"default_tpm"`
		ProviderOverrides map[string]RateLimit `yaml:"provider_overrides"`
	} `yaml:"rate_limits"`
}

var builtInProviderLimits = map[string]RateLimit{
	"anthropic": {RPM: 20, TPM: 40000},
	"xai":       {RPM: 60, TPM: 120000},
	"openai":    {RPM: 30, TPM: 60000},
	"voyage":    {RPM: 300, TPM: 1000000},
	"ollama":    {},
}

// Limits resolves the budget for each provider.
type Limits struct {
	defaults  RateLimit
	overrides map[string]RateLimit
}

// DefaultLimits returns the built-in provider budgets.
func DefaultLimits() Limits {
	return Limits{overrides: map[string]RateLimit{}}
}

// LoadLimits reads rate_limits from a YAML file. A missing file yields the built-ins.
func LoadLimits(path string) (Limits, error) {
	l := DefaultLimits()
	if path == "" {
		return l, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return l, fmt.Errorf("read rate limits: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return l, fmt.Errorf("parse rate limits %s: %w", path, err)
	}
	l.defaults = RateLimit{RPM: cfg.RateLimits.DefaultRPM, TPM: cfg.RateLimits.DefaultTPM}
	for k, v := range cfg.RateLimits.ProviderOverrides {
		l.overrides[normalize(k)] = v
	}
	return l, nil
}

// ForProvider returns the override, then the built-in, then the file default.
func (l Limits) ForProvider(provider string) RateLimit {
	p := normalize(provider)
	if v, ok := l.overrides[p]; ok {
		return v
	}
	if v, ok := builtInProviderLimits[p]; ok {
		return v
	}
	return l.defaults
}

// Limiter paces calls per provider with token buckets sized from RateLimit.
type Limiter struct {
	limits Limits

	mu       sync.Mutex
	requests map[string]*rate.Limiter
	tokens   map[string]*rate.Limiter
}

// NewLimiter creates a limiter over limits.
func NewLimiter(limits Limits) *Limiter {
	return &Limiter{
		limits:   limits,
		requests: make(map[string]*rate.Limiter),
		tokens:   make(map[string]*rate.Limiter),
	}
}

// Wait blocks until one request of estimatedTokens may be sent to provider, or ctx ends.
func (l *Limiter) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	if l == nil {
		return nil
	}
	req, tok := l.get(normalize(provider))
	if req != nil {
		if err := req.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait for %s: %w", provider, err)
		}
	}
	if tok != nil && estimatedTokens > 0 {
		n := estimatedTokens
		if b := tok.Burst(); n > b {
			n = b
		}
		if err := tok.WaitN(ctx, n); err != nil {
			return fmt.Errorf("token budget wait for %s: %w", provider, err)
		}
	}
	return nil
}

func (l *Limiter) get(provider string) (*rate.Limiter, *rate.Limiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.requests[provider]; ok {
		return r, l.tokens[provider]
	}
	limit := l.limits.ForProvider(provider)
	var r, t *rate.Limiter
	if limit.RPM > 0 {
		r = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), max(1, limit.RPM/10))
	}
	if limit.TPM > 0 {
		t = rate.NewLimiter(rate.Limit(float64(limit.TPM)/60.0), limit.TPM)
	}
	l.requests[provider] = r
	l.tokens[provider] = t
	return r, t
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
