package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/circuitbreaker"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/interceptors"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/pricing"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/ratecontrol"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/tracing"
)

const (
	DefaultXAIURL         = "https://api.x.ai/v1"
	DefaultXAIModel       = "grok-beta"
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"

	minThinkingBudget = 1024
)

// ChatConfig selects and configures an eino chat model.
type ChatConfig struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// NewChatModel creates an eino chat model for the configured provider. xAI is
// served through the OpenAI-compatible client pointed at the xAI endpoint.
func NewChatModel(ctx context.Context, cfg ChatConfig) (model.BaseChatModel, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = DetectProvider(cfg.Model)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: interceptors.NewWorkflowHTTPRoundTripper(nil),
	}

	switch provider {
	case ProviderXAI, ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: %w", provider, ErrNotConfigured)
		}
		baseURL := cfg.BaseURL
		if baseURL == "" && provider == ProviderXAI {
			baseURL = DefaultXAIURL
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    baseURL,
			Model:      cfg.Model,
			HTTPClient: httpClient,
		})

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic: %w", ErrNotConfigured)
		}
		maxTokens := cfg.MaxTokens
		if maxTokens == 0 {
			maxTokens = 8000
		}
		modelName := cfg.Model
		if modelName == "" {
			modelName = DefaultAnthropicModel
		}
		cc := &claude.Config{
			APIKey:     cfg.APIKey,
			Model:      modelName,
			MaxTokens:  maxTokens,
			HTTPClient: httpClient,
		}
		if cfg.BaseURL != "" {
			cc.BaseURL = &cfg.BaseURL
		}
		return claude.NewChatModel(ctx, cc)

	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})

	default:
		return nil, fmt.Errorf("unsupported chat provider: %s (supported: xai, openai, anthropic, ollama)", provider)
	}
}

// EinoCompleter adapts an eino chat model to Completer. It backs both the
// reasoning model and the discovery search model.
type EinoCompleter struct {
	chat      model.BaseChatModel
	provider  string
	modelName string
	cb        *circuitbreaker.CircuitBreaker
	limiter   *ratecontrol.Limiter
	logger    *zap.Logger
}

// NewEinoCompleter wraps chat; provider and modelName label metrics and rate limits.
func NewEinoCompleter(chat model.BaseChatModel, provider, modelName string, limiter *ratecontrol.Limiter, logger *zap.Logger) *EinoCompleter {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := circuitbreaker.NewCircuitBreaker(provider, circuitbreaker.LLMSettings().ToConfig(), logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker(provider, "llm", cb)
	return &EinoCompleter{
		chat:      chat,
		provider:  provider,
		modelName: modelName,
		cb:        cb,
		limiter:   limiter,
		logger:    logger,
	}
}

// Complete sends system and user messages and returns the assistant text.
// ThinkingBudget enables extended thinking on Anthropic models; other providers
// have no equivalent and ignore it.
func (e *EinoCompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	msgs := make([]*schema.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, schema.SystemMessage(req.System))
	}
	msgs = append(msgs, schema.UserMessage(req.Prompt))

	var opts []model.Option
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	budget := 0
	if e.provider == ProviderAnthropic {
		budget = clampThinkingBudget(req.ThinkingBudget, req.MaxTokens)
	}
	if budget > 0 {
		// temperature must stay unset while thinking is enabled
		opts = append(opts, claude.WithThinking(&claude.Thinking{Enable: true, BudgetTokens: budget}))
	} else if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}

	if err := e.limiter.Wait(ctx, e.provider, req.MaxTokens); err != nil {
		return Completion{}, err
	}

	ctx, span := tracing.StartProviderSpan(ctx, e.provider, "generate", e.modelName)
	start := time.Now()
	msg, err := circuitbreaker.Call(ctx, e.cb, func() (*schema.Message, error) {
		return e.chat.Generate(ctx, msgs, opts...)
	})
	tracing.EndSpan(span, err)

	out := Completion{Provider: e.provider, Model: e.modelName}
	if err == nil && msg != nil {
		out.Text = msg.Content
		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
			out.InputTokens = msg.ResponseMeta.Usage.PromptTokens
			out.OutputTokens = msg.ResponseMeta.Usage.CompletionTokens
		}
	}

	status := "success"
	if err != nil {
		status = "error"
		e.logger.Warn("Chat model request failed",
			zap.String("provider", e.provider),
			zap.String("model", e.modelName),
			zap.Error(err),
		)
	}
	metrics.RecordLLMMetrics(e.provider, e.modelName, status, time.Since(start).Seconds(), out.InputTokens, out.OutputTokens)

	if err != nil {
		return Completion{}, fmt.Errorf("%s generate: %w", e.provider, asStatusError(e.provider, err))
	}
	metrics.RecordLLMCost(e.provider, e.modelName, pricing.CostForSplit(e.modelName, out.InputTokens, out.OutputTokens))
	return out, nil
}

// asStatusError surfaces a provider's HTTP status so callers can tell a
// rejected request from a transient failure.
func asStatusError(provider string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &StatusError{Provider: provider, Code: apiErr.StatusCode, Body: apiErr.Error()}
	}
	return err
}

// clampThinkingBudget keeps the budget inside the provider's accepted range:
// at least 1024 tokens and strictly below max_tokens.
func clampThinkingBudget(budget, maxTokens int) int {
	if budget <= 0 {
		return 0
	}
	if budget < minThinkingBudget {
		budget = minThinkingBudget
	}
	if budget >= maxTokens {
		budget = maxTokens - 1
	}
	if budget < minThinkingBudget {
		return 0
	}
	return budget
}
