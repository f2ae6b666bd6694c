package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Research run metrics
	ResearchRunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rdengine_research_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	ResearchRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_research_runs_completed_total",
			Help: "Total number of research runs finished, by terminal status",
		},
		[]string{"status"},
	)

	ResearchRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rdengine_research_run_duration_seconds",
			Help:    "End-to-end research run duration in seconds",
			Buckets: []float64{10, 30, 60, 120, 240, 480, 600},
		},
	)

	ResearchTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rdengine_research_tokens_used",
			Help:    "Tokens used per research run across all stages",
			Buckets: []float64{1000, 5000, 10000, 25000, 50000, 100000, 200000},
		},
	)

	// Stage metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rdengine_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_stage_failures_total",
			Help: "Stage attempts that returned an error",
		},
		[]string{"stage"},
	)

	// Discovery metrics
	DiscoveryAgents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_discovery_agents_total",
			Help: "Discovery agent outcomes by persona",
		},
		[]string{"persona", "outcome"},
	)

	DiscoveryFindings = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rdengine_discovery_findings",
			Help:    "Findings returned per discovery agent",
			Buckets: []float64{0, 1, 3, 5, 7, 10},
		},
		[]string{"persona"},
	)

	// Aggregation metrics
	AggregationDuplicatesRemoved = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rdengine_aggregation_duplicates_removed",
			Help:    "Duplicate findings removed per run",
			Buckets: []float64{0, 1, 2, 5, 10, 20},
		},
	)

	AggregationEmbeddingSource = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_aggregation_embedding_source_total",
			Help: "Which embedding source served aggregation (provider, fallback, none)",
		},
		[]string{"source"},
	)

	// Synthesis metrics
	SynthesisIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rdengine_synthesis_iterations",
			Help:    "Generate/verify cycles used per run",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	VerificationVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_verification_verdicts_total",
			Help: "Verification verdicts",
		},
		[]string{"verdict"},
	)

	ParseDegradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_parse_degradations_total",
			Help: "Model responses that failed to parse and were degraded locally",
		},
		[]string{"component"},
	)

	// Provider metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_llm_requests_total",
			Help: "Total number of LLM provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rdengine_llm_latency_seconds",
			Help:    "LLM provider request latency in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 240},
		},
		[]string{"provider", "model"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_llm_tokens_total",
			Help: "Tokens reported by LLM providers",
		},
		[]string{"provider", "direction"},
	)

	LLMCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_llm_cost_usd_total",
			Help: "Estimated provider spend in USD",
		},
		[]string{"provider", "model"},
	)

	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_pricing_fallback_total",
			Help: "Cost estimates that used the default price (missing_model, unknown_model)",
		},
		[]string{"reason"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rdengine_embedding_latency_seconds",
			Help:    "Embedding request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_embedding_cache_hits_total",
			Help: "Embedding cache hits by tier",
		},
		[]string{"tier"},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rdengine_embedding_cache_misses_total",
			Help: "Embedding cache misses",
		},
	)

	// Session metrics
	SessionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_session_operations_total",
			Help: "Session store operations",
		},
		[]string{"operation", "status"},
	)

	SessionWriteConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rdengine_session_write_conflicts_total",
			Help: "Optimistic commit conflicts retried by the session store",
		},
	)

	SessionActors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rdengine_session_actors",
			Help: "Per-session writer goroutines currently alive",
		},
	)

	// Checkpoint metrics
	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdengine_checkpoint_writes_total",
			Help: "Checkpoint commits by outcome (committed, duplicate, error)",
		},
		[]string{"stage", "outcome"},
	)
)

// RecordRunMetrics records metrics for a finished research run
func RecordRunMetrics(status string, durationSeconds float64, tokensUsed int) {
	ResearchRunsCompleted.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		ResearchRunDuration.Observe(durationSeconds)
	}
	if tokensUsed > 0 {
		ResearchTokensUsed.Observe(float64(tokensUsed))
	}
}

// RecordStage records a stage attempt
func RecordStage(stage string, durationSeconds float64, err error) {
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if err != nil {
		StageFailures.WithLabelValues(stage).Inc()
	}
}

// RecordLLMMetrics records one provider round trip
func RecordLLMMetrics(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	LLMRequests.WithLabelValues(provider, model, status).Inc()
	if durationSeconds > 0 {
		LLMLatency.WithLabelValues(provider, model).Observe(durationSeconds)
	}
	if inputTokens > 0 {
		LLMTokens.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		LLMTokens.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// RecordLLMCost adds an estimated spend for one provider round trip
func RecordLLMCost(provider, model string, usd float64) {
	if usd > 0 {
		LLMCost.WithLabelValues(provider, model).Add(usd)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordSessionOp records a session store operation
func RecordSessionOp(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	SessionOperations.WithLabelValues(operation, status).Inc()
}
