package embeddings

import "time"

// Config controls the embedding service behavior
type Config struct {
	// Provider selects the embedder: voyage, openai or ollama. Empty disables the
	// provider and callers fall back to local embeddings.
	Provider string
	// Model is the embedding model (voyage-3-lite, text-embedding-3-small, nomic-embed-text)
	Model string
	// APIKey for hosted providers
	APIKey string
	// BaseURL overrides the provider endpoint
	BaseURL string
	// Timeout for outbound HTTP calls
	Timeout time.Duration
	// CacheTTL sets TTL for Redis cache entries
	CacheTTL time.Duration
	// MaxLRU controls in-process LRU size
	MaxLRU int
	// BatchSize caps texts per provider request
	BatchSize int
	// Concurrency caps in-flight provider requests for one Embed call
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.MaxLRU == 0 {
		c.MaxLRU = 2048
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	return c
}
