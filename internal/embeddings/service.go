package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	ollamaEmbed "github.com/cloudwego/eino-ext/components/embedding/ollama"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ometrics "github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/ratecontrol"
)

// ErrNoProvider means no embedding provider is configured.
var ErrNoProvider = errors.New("no embedding provider configured")

const (
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultOllamaURL   = "http://localhost:11434"

	lruTTL = 30 * time.Minute
)

// NewEmbedder builds the configured provider embedder. An empty provider returns
// ErrNoProvider so callers can degrade to local embeddings.
func NewEmbedder(ctx context.Context, cfg Config, logger *zap.Logger) (embedding.Embedder, error) {
	cfg = cfg.withDefaults()
	switch cfg.Provider {
	case "":
		return nil, ErrNoProvider
	case "voyage":
		return NewVoyageEmbedder(ctx, &VoyageConfig{
			APIKey:  cfg.APIKey,
			URL:     cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, logger)
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai: %w", ErrNoProvider)
		}
		model := cfg.Model
		if model == "" {
			model = DefaultOpenAIModel
		}
		return openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
			Model:   model,
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		model := cfg.Model
		if model == "" {
			model = DefaultOllamaModel
		}
		return ollamaEmbed.NewEmbedder(ctx, &ollamaEmbed.EmbeddingConfig{
			BaseURL: baseURL,
			Model:   model,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (supported: voyage, openai, ollama)", cfg.Provider)
	}
}

// Service provides batched embedding generation with a two-tier cache.
type Service struct {
	cfg      Config
	embedder embedding.Embedder
	cache    EmbeddingCache
	lru      *LocalLRU
	limiter  *ratecontrol.Limiter
	logger   *zap.Logger
}

// NewService wraps embedder. cache and limiter may be nil.
func NewService(cfg Config, embedder embedding.Embedder, cache EmbeddingCache, limiter *ratecontrol.Limiter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:      cfg,
		embedder: embedder,
		cache:    cache,
		lru:      NewLocalLRU(cfg.MaxLRU),
		limiter:  limiter,
		logger:   logger,
	}
}

// Model returns the model label used for cache keys and metrics.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return s.cfg.Provider
}

// Embed returns one vector per text, in order. Cached vectors are served first;
// the remainder are sent to the provider in batches of BatchSize.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if s == nil || s.embedder == nil {
		return nil, ErrNoProvider
	}
	if len(texts) == 0 {
		return [][]float64{}, nil
	}
	m := s.Model()

	results := make([][]float64, len(texts))
	var uncached []int
	for i, text := range texts {
		key := MakeKey(m, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			ometrics.EmbeddingCacheHits.WithLabelValues("lru").Inc()
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, lruTTL)
				ometrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
				continue
			}
		}
		ometrics.EmbeddingCacheMisses.Inc()
		uncached = append(uncached, i)
	}
	if len(uncached) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for start := 0; start < len(uncached); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(uncached))
		batch := uncached[start:end]
		g.Go(func() error {
			return s.embedBatch(gctx, m, texts, batch, results)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedBatch fills results at the given indices. Each goroutine writes a
// disjoint set of indices.
func (s *Service) embedBatch(ctx context.Context, model string, texts []string, idx []int, results [][]float64) error {
	batch := make([]string, len(idx))
	estimated := 0
	for i, j := range idx {
		batch[i] = texts[j]
		estimated += len(texts[j]) / 4
	}
	if err := s.limiter.Wait(ctx, s.cfg.Provider, estimated); err != nil {
		return err
	}

	start := time.Now()
	vecs, err := s.embedder.EmbedStrings(ctx, batch)
	if err != nil {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return fmt.Errorf("embed batch of %d: %w", len(batch), err)
	}
	if len(vecs) != len(batch) {
		ometrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
	}
	ometrics.RecordEmbeddingMetrics(model, "ok", time.Since(start).Seconds())

	for i, j := range idx {
		results[j] = vecs[i]
		key := MakeKey(model, batch[i])
		s.lru.Set(ctx, key, vecs[i], lruTTL)
		if s.cache != nil {
			s.cache.Set(ctx, key, vecs[i], s.cfg.CacheTTL)
		}
	}
	return nil
}
