package llm

import "strings"

// Provider names used in config, metrics and rate limits.
const (
	ProviderAnthropic = "anthropic"
	ProviderXAI       = "xai"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderVoyage    = "voyage"
	ProviderUnknown   = "unknown"
)

// DetectProvider infers the provider from a model name when config does not name one.
func DetectProvider(model string) string {
	ml := strings.ToLower(strings.TrimSpace(model))
	switch {
	case ml == "":
		return ProviderUnknown
	case strings.Contains(ml, "claude") || strings.Contains(ml, "sonnet") ||
		strings.Contains(ml, "opus") || strings.Contains(ml, "haiku"):
		return ProviderAnthropic
	case strings.Contains(ml, "grok"):
		return ProviderXAI
	case strings.HasPrefix(ml, "voyage"):
		return ProviderVoyage
	case strings.HasPrefix(ml, "gpt-") || strings.HasPrefix(ml, "o1") || strings.HasPrefix(ml, "o3") ||
		strings.HasPrefix(ml, "o4") || strings.HasPrefix(ml, "text-embedding"):
		return ProviderOpenAI
	case strings.Contains(ml, "llama") || strings.Contains(ml, "mistral") || strings.Contains(ml, "mixtral") ||
		strings.Contains(ml, "qwen") || strings.Contains(ml, "gemma") || strings.Contains(ml, "nomic") ||
		strings.Contains(ml, "deepseek"):
		return ProviderOllama
	}
	return ProviderUnknown
}
