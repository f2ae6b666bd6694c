package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/circuitbreaker"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/interceptors"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/tracing"
)

const (
	DefaultVoyageURL   = "https://api.voyageai.com/v1/embeddings"
	DefaultVoyageModel = "voyage-3-lite"
)

var _ embedding.Embedder = (*VoyageEmbedder)(nil)

// VoyageConfig holds configuration for the Voyage embedder.
type VoyageConfig struct {
	APIKey string
	// URL is the full embeddings endpoint
	URL   string
	Model string
	// InputType is sent as input_type (default "document")
	InputType string
	Timeout   time.Duration
}

// VoyageEmbedder implements the eino embedding.Embedder interface for Voyage AI.
type VoyageEmbedder struct {
	url       string
	apiKey    string
	model     string
	inputType string
	http      *circuitbreaker.HTTPWrapper
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewVoyageEmbedder creates a Voyage embedder. An API key is required.
func NewVoyageEmbedder(_ context.Context, cfg *VoyageConfig, logger *zap.Logger) (*VoyageEmbedder, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("voyage: %w", ErrNoProvider)
	}
	url := cfg.URL
	if url == "" {
		url = DefaultVoyageURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultVoyageModel
	}
	inputType := cfg.InputType
	if inputType == "" {
		inputType = "document"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: interceptors.NewWorkflowHTTPRoundTripper(nil),
	}
	return &VoyageEmbedder{
		url:       url,
		apiKey:    cfg.APIKey,
		model:     model,
		inputType: inputType,
		http:      circuitbreaker.NewHTTPWrapper(client, "voyage", "embeddings", logger),
	}, nil
}

// EmbedStrings implements embedding.Embedder. Vectors come back in input order.
func (v *VoyageEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(voyageRequest{Input: texts, Model: v.model, InputType: v.inputType})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, v.url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)
	tracing.InjectTraceparent(ctx, req)

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voyage request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("voyage returned status %d: %s", resp.StatusCode, string(b))
	}

	var vr voyageResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(vr.Data) != len(texts) {
		return nil, fmt.Errorf("voyage returned %d embeddings for %d texts", len(vr.Data), len(texts))
	}

	out := make([][]float64, len(texts))
	for i, d := range vr.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = d.Embedding
	}
	return out, nil
}
