// Package aggregation deduplicates discovery findings by embedding similarity
// and bounds the kept set.
package aggregation

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/util"
)

// Embedding sources reported in AggregationResult.EmbeddingSource.
const (
	SourceProvider = "provider"
	SourceFallback = "fallback"
	SourceNone     = "none"
)

// Embedder is the provider contract. *embeddings.Service satisfies it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Options bound one aggregation.
type Options struct {
	Threshold   float64
	MaxFindings int
}

// Engine runs L2.
type Engine struct {
	embedder Embedder
	logger   *zap.Logger
}

// New creates an engine. A nil embedder always uses the local fallback.
func New(embedder Embedder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{embedder: embedder, logger: logger}
}

// Aggregate embeds every finding in one batch, drops any finding whose cosine
// similarity to an already kept finding is >= threshold (input order decides
// the representative), truncates to MaxFindings by confidence with ties kept in
// input order, and strips embeddings from the result. The input is not modified.
func (e *Engine) Aggregate(ctx context.Context, findings []models.Finding, opts Options) (*models.AggregationResult, error) {
	start := time.Now()
	if opts.Threshold <= 0 {
		opts.Threshold = models.DefaultDedupThreshold
	}
	if opts.MaxFindings <= 0 {
		opts.MaxFindings = models.DefaultMaxFindings
	}

	if len(findings) == 0 {
		metrics.AggregationEmbeddingSource.WithLabelValues(SourceNone).Inc()
		return &models.AggregationResult{Findings: []models.Finding{}, EmbeddingSource: SourceNone}, nil
	}

	texts := make([]string, len(findings))
	for i, f := range findings {
		texts[i] = util.Truncate(f.Claim+" "+f.Evidence, maxTextLen)
	}
	vecs, source, err := e.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	kept := Dedup(vecs, opts.Threshold)
	out := make([]models.Finding, len(kept))
	for i, idx := range kept {
		out[i] = findings[idx]
		out[i].Embedding = nil
	}
	if len(out) > opts.MaxFindings {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
		out = out[:opts.MaxFindings]
	}

	removed := len(findings) - len(kept)
	metrics.AggregationDuplicatesRemoved.Observe(float64(removed))
	metrics.AggregationEmbeddingSource.WithLabelValues(source).Inc()

	result := &models.AggregationResult{
		OriginalCount:     len(findings),
		DeduplicatedCount: len(out),
		Findings:          out,
		DuplicatesRemoved: removed,
		ProcessingTimeMs:  time.Since(start).Milliseconds(),
		EmbeddingSource:   source,
	}
	e.logger.Info("Findings aggregated",
		zap.Int("original", result.OriginalCount),
		zap.Int("kept", result.DeduplicatedCount),
		zap.Int("duplicates", removed),
		zap.String("embedding_source", source),
	)
	return result, nil
}

// embed asks the provider and degrades to the local fallback on absence, error
// or a malformed answer. Only context cancellation is returned as an error.
func (e *Engine) embed(ctx context.Context, texts []string) ([][]float64, string, error) {
	if e.embedder != nil {
		vecs, err := e.embedder.Embed(ctx, texts)
		switch {
		case err == nil && len(vecs) == len(texts):
			return vecs, SourceProvider, nil
		case ctx.Err() != nil:
			return nil, "", ctx.Err()
		case err != nil && errors.Is(err, context.Canceled):
			return nil, "", err
		default:
			e.logger.Warn("Embedding provider unavailable, using local embeddings",
				zap.Int("texts", len(texts)),
				zap.Int("vectors", len(vecs)),
				zap.Error(err),
			)
		}
	}
	return FallbackEmbeddings(texts), SourceFallback, nil
}

// Dedup returns the indices kept by greedy sequential clustering: vector i is
// kept unless its similarity with a previously kept vector is >= threshold.
func Dedup(vecs [][]float64, threshold float64) []int {
	kept := make([]int, 0, len(vecs))
	for i, v := range vecs {
		dup := false
		for _, k := range kept {
			if CosineSimilarity(v, vecs[k]) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, i)
		}
	}
	return kept
}
