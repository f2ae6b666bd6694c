package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/activities"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/aggregation"
	authpkg "github.com/Kocoro-lab/rdengine/go/orchestrator/internal/auth"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/circuitbreaker"
	cfg "github.com/Kocoro-lab/rdengine/go/orchestrator/internal/config"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/db"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/discovery"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/embeddings"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/health"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/httpapi"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/llm"
	_ "github.com/Kocoro-lab/rdengine/go/orchestrator/internal/metrics" // Import for side effects
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/personas"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/planner"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/pricing"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/ratecontrol"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/registry"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/server"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/session"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/synthesis"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/temporal"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	level := zap.NewAtomicLevel()
	logger, err := newLogger(os.Getenv("LOG_FORMAT"), level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	configMgr, err := cfg.NewManager(cfg.ConfigPath(), logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	conf := configMgr.Current()
	if err := level.UnmarshalText([]byte(conf.Logging.Level)); err != nil {
		logger.Warn("Invalid log level, keeping info", zap.String("level", conf.Logging.Level))
	}
	configMgr.OnChange(func(ev cfg.ChangeEvent) {
		if ev.New.Logging.Level == ev.Old.Logging.Level {
			return
		}
		if err := level.UnmarshalText([]byte(ev.New.Logging.Level)); err != nil {
			logger.Warn("Ignoring invalid log level", zap.String("level", ev.New.Logging.Level))
			return
		}
		logger.Info("Log level changed", zap.String("level", ev.New.Logging.Level))
	})
	configMgr.Watch()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	circuitbreaker.StartMetricsCollection(ctx)

	shutdownTracing, err := tracing.Initialize(conf.Tracing, logger)
	if err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// ------------------------------------------------------------------
	// Health manager comes up first so probes answer while dependencies
	// are still connecting.
	// ------------------------------------------------------------------
	hm := health.NewManager(logger)

	// Optional Redis: session backend and embedding cache
	var redisWrapper *circuitbreaker.RedisWrapper
	if conf.Redis.Enabled {
		rc := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		redisWrapper = circuitbreaker.NewRedisWrapper(rc, "redis", logger)
		_ = hm.RegisterChecker(health.NewRedisHealthChecker(redisWrapper, conf.Session.Backend == "redis", logger))
	}

	// Optional checkpoint store
	var dbClient *db.Client
	if conf.Database.Enabled {
		dbClient, err = db.NewClient(ctx, conf.Database.ToDB(), logger)
		if err != nil {
			logger.Fatal("Failed to initialize checkpoint store", zap.Error(err))
		}
		defer dbClient.Close()
		_ = hm.RegisterChecker(health.NewDatabaseHealthChecker(dbClient.Wrapper(), logger))
	}

	sessions, err := newSessionStore(conf, redisWrapper, logger)
	if err != nil {
		logger.Fatal("Failed to initialize session store", zap.Error(err))
	}

	limits, err := ratecontrol.LoadLimits(conf.RateLimits.File)
	if err != nil {
		logger.Warn("Failed to load rate limits, using built-ins", zap.Error(err))
	}
	limiter := ratecontrol.NewLimiter(limits)

	if err := pricing.Load(conf.Pricing.File); err != nil {
		logger.Warn("Failed to load pricing, using built-ins", zap.Error(err))
	}

	catalog, err := personas.Load(conf.Personas.File)
	if err != nil {
		logger.Fatal("Failed to load persona catalog", zap.Error(err))
	}

	reasoning, err := newReasoningCompleter(ctx, conf.LLM.Reasoning, limiter, logger)
	if err != nil {
		logger.Fatal("Failed to initialize reasoning model", zap.Error(err))
	}
	search, err := newSearchCompleter(ctx, conf.LLM.Search, conf.Pipeline.DiscoveryMaxTokens, limiter, logger)
	if err != nil {
		logger.Fatal("Failed to initialize search model", zap.Error(err))
	}
	_ = hm.RegisterChecker(health.NewProviderHealthChecker("reasoning", conf.LLM.Reasoning.Provider, conf.LLM.Reasoning.Model, reasoning != nil, true))
	_ = hm.RegisterChecker(health.NewProviderHealthChecker("search", conf.LLM.Search.Provider, conf.LLM.Search.Model, search != nil, true))

	embedder := newEmbedder(ctx, conf.Embeddings, redisWrapper, limiter, logger)

	deps := activities.Deps{
		Planner:     planner.New(reasoning, logger),
		Discovery:   discovery.New(search, catalog, conf.Pipeline.DiscoveryMaxTokens, logger),
		Aggregation: aggregation.New(embedder, logger),
		Synthesis:   synthesis.New(reasoning, logger),
		Sessions:    sessions,
	}
	var runs server.RunStore
	if dbClient != nil {
		deps.Checkpoints = dbClient
		runs = dbClient
	}
	acts := activities.NewActivities(deps, logger)

	// ------------------------------------------------------------------
	// Temporal client and worker
	// ------------------------------------------------------------------
	tClient, err := dialTemporal(ctx, conf.Temporal, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer tClient.Close()
	_ = hm.RegisterChecker(health.NewTemporalHealthChecker(tClient))

	orchestratorRegistry := registry.NewOrchestratorRegistry(logger, acts)
	w := worker.New(tClient, conf.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACT", 10),
		MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WF", 10),
	})
	if err := orchestratorRegistry.RegisterWorkflows(w); err != nil {
		logger.Fatal("Failed to register workflows", zap.Error(err))
	}
	if err := orchestratorRegistry.RegisterActivities(w); err != nil {
		logger.Fatal("Failed to register activities", zap.Error(err))
	}

	// ------------------------------------------------------------------
	// HTTP surfaces
	// ------------------------------------------------------------------
	service := server.NewResearchService(tClient, runs, conf.Temporal.TaskQueue, func() cfg.PipelineConfig {
		return configMgr.Current().Pipeline
	}, logger)

	var jwtManager *authpkg.JWTManager
	if conf.Auth.Enabled {
		jwtManager = authpkg.NewJWTManager(conf.Auth.JWTSecret, conf.Auth.Issuer, 0)
	}
	authMiddleware := authpkg.NewMiddleware(jwtManager, !conf.Auth.Enabled, logger)
	logger.Info("Auth middleware initialized", zap.Bool("skip_auth", !conf.Auth.Enabled))

	apiMux := http.NewServeMux()
	httpapi.NewResearchHandler(service, logger).RegisterRoutes(apiMux, authMiddleware)
	httpapi.NewSessionHandler(sessions, logger).RegisterRoutes(apiMux, authMiddleware)
	apiServer := &http.Server{
		Addr:              ":" + strconv.Itoa(conf.Service.APIPort),
		Handler:           apiMux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	servers := []*http.Server{apiServer}
	if conf.Service.MetricsPort == conf.Service.HealthPort {
		servers = append(servers, health.NewHealthServer(hm, conf.Service.HealthPort, logger, map[string]http.Handler{
			"GET /metrics": promhttp.Handler(),
		}))
	} else {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		servers = append(servers,
			health.NewHealthServer(hm, conf.Service.HealthPort, logger, nil),
			&http.Server{
				Addr:              ":" + strconv.Itoa(conf.Service.MetricsPort),
				Handler:           metricsMux,
				ReadHeaderTimeout: 10 * time.Second,
			},
		)
	}

	if err := hm.Start(ctx); err != nil {
		logger.Warn("Health manager failed to start", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("HTTP server listening", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := w.Start(); err != nil {
			return fmt.Errorf("temporal worker: %w", err)
		}
		logger.Info("Temporal worker started",
			zap.String("queue", conf.Temporal.TaskQueue),
			zap.String("namespace", conf.Temporal.Namespace),
		)
		<-gctx.Done()
		w.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down research orchestrator")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown failed", zap.String("address", srv.Addr), zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Orchestrator exited with error", zap.Error(err))
	}

	_ = hm.Stop()
	if err := sessions.Close(); err != nil {
		logger.Error("Failed to close session store", zap.Error(err))
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownTracing != nil {
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
}

func newLogger(format string, level zap.AtomicLevel) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = level
	return zc.Build()
}

func newSessionStore(conf *cfg.Config, rw *circuitbreaker.RedisWrapper, logger *zap.Logger) (*session.Store, error) {
	var backend session.Backend = session.NewMemoryBackend()
	if conf.Session.Backend == "redis" {
		if rw == nil {
			return nil, errors.New("session backend redis requires redis.enabled")
		}
		backend = session.NewRedisBackend(rw, conf.Session.TTL, logger)
	}
	logger.Info("Session store initialized",
		zap.String("backend", conf.Session.Backend),
		zap.Duration("ttl", conf.Session.TTL),
	)
	return session.NewStore(backend, logger, session.WithIdleTimeout(conf.Session.IdleTimeout)), nil
}

// newReasoningCompleter builds the planning and synthesis model. Anthropic models
// receive the per-call thinking budget through the eino claude adapter.
func newReasoningCompleter(ctx context.Context, mc cfg.ModelConfig, limiter *ratecontrol.Limiter, logger *zap.Logger) (llm.Completer, error) {
	provider := mc.Provider
	if provider == "" {
		provider = llm.DetectProvider(mc.Model)
	}
	return newEinoCompleter(ctx, provider, mc, 0, limiter, logger)
}

func newSearchCompleter(ctx context.Context, mc cfg.ModelConfig, maxTokens int, limiter *ratecontrol.Limiter, logger *zap.Logger) (llm.Completer, error) {
	provider := mc.Provider
	if provider == "" {
		provider = llm.DetectProvider(mc.Model)
	}
	return newEinoCompleter(ctx, provider, mc, maxTokens, limiter, logger)
}

func newEinoCompleter(ctx context.Context, provider string, mc cfg.ModelConfig, maxTokens int, limiter *ratecontrol.Limiter, logger *zap.Logger) (llm.Completer, error) {
	chat, err := llm.NewChatModel(ctx, llm.ChatConfig{
		Provider:  provider,
		Model:     mc.Model,
		APIKey:    mc.APIKey,
		BaseURL:   mc.BaseURL,
		MaxTokens: maxTokens,
		Timeout:   mc.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return llm.NewEinoCompleter(chat, provider, mc.Model, limiter, logger), nil
}

// newEmbedder returns nil when no provider is configured; aggregation then
// uses local embeddings.
func newEmbedder(ctx context.Context, ec cfg.EmbeddingsConfig, rw *circuitbreaker.RedisWrapper, limiter *ratecontrol.Limiter, logger *zap.Logger) aggregation.Embedder {
	econf := ec.ToEmbeddings()
	provider, err := embeddings.NewEmbedder(ctx, econf, logger)
	if err != nil {
		if errors.Is(err, embeddings.ErrNoProvider) {
			logger.Info("No embedding provider configured, aggregation uses local embeddings")
		} else {
			logger.Warn("Embedding provider init failed, aggregation uses local embeddings", zap.Error(err))
		}
		return nil
	}
	var cache embeddings.EmbeddingCache
	if rw != nil {
		cache = embeddings.NewRedisCache(rw)
	}
	return embeddings.NewService(econf, provider, cache, limiter, logger)
}

// dialTemporal waits for the frontend to accept TCP, then dials the SDK with
// capped linear backoff until ctx is done.
func dialTemporal(ctx context.Context, tc cfg.TemporalConfig, logger *zap.Logger) (client.Client, error) {
	for i := 1; i <= 60; i++ {
		c, err := net.DialTimeout("tcp", tc.Host, 2*time.Second)
		if err == nil {
			_ = c.Close()
			break
		}
		logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", tc.Host), zap.Int("attempt", i))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	for attempt := 1; ; attempt++ {
		tClient, err := client.Dial(client.Options{
			HostPort:  tc.Host,
			Namespace: tc.Namespace,
			Logger:    temporal.NewZapAdapter(logger),
		})
		if err == nil {
			return tClient, nil
		}
		delay := time.Duration(min(attempt, 15)) * time.Second
		logger.Warn("Temporal not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("host", tc.Host),
			zap.Duration("sleep", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
