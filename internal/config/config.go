package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/db"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/embeddings"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/tracing"
)

const (
	envPrefix         = "RDE"
	defaultConfigPath = "/app/config/research.yaml"
)

// Config is the daemon configuration. Only Pipeline and Logging.Level are
// hot-reloadable; everything else is read once at startup.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Session    SessionConfig    `mapstructure:"session"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Tracing    tracing.Config   `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Personas   PersonasConfig   `mapstructure:"personas"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
}

type ServiceConfig struct {
	APIPort     int `mapstructure:"api_port" validate:"min=1,max=65535"`
	HealthPort  int `mapstructure:"health_port" validate:"min=1,max=65535"`
	MetricsPort int `mapstructure:"metrics_port" validate:"min=1,max=65535"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host" validate:"required"`
	Namespace string `mapstructure:"namespace" validate:"required"`
	TaskQueue string `mapstructure:"task_queue" validate:"required"`
}

// PipelineConfig holds the per-run defaults applied at submission.
type PipelineConfig struct {
	DedupThreshold     float64       `mapstructure:"dedup_threshold" validate:"gt=0,lte=1"`
	MaxFindings        int           `mapstructure:"max_findings" validate:"min=1,max=200"`
	MaxIterations      int           `mapstructure:"max_iterations" validate:"min=1,max=5"`
	ThinkingBudget     int           `mapstructure:"thinking_budget" validate:"min=1024,max=64000"`
	Deadline           time.Duration `mapstructure:"deadline" validate:"min=1m"`
	DiscoveryMaxTokens int           `mapstructure:"discovery_max_tokens" validate:"min=256"`
}

// Options converts the pipeline defaults into request options.
func (p PipelineConfig) Options() models.ResearchOptions {
	return models.ResearchOptions{
		MaxFindings:    p.MaxFindings,
		DedupThreshold: p.DedupThreshold,
		ThinkingBudget: p.ThinkingBudget,
		MaxIterations:  p.MaxIterations,
	}
}

// ApplyDefaults fills zero-valued request options from the pipeline defaults.
func (p PipelineConfig) ApplyDefaults(o models.ResearchOptions) models.ResearchOptions {
	d := p.Options()
	if o.MaxFindings <= 0 {
		o.MaxFindings = d.MaxFindings
	}
	if o.DedupThreshold <= 0 {
		o.DedupThreshold = d.DedupThreshold
	}
	if o.ThinkingBudget <= 0 {
		o.ThinkingBudget = d.ThinkingBudget
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	return o.WithDefaults()
}

// ModelConfig selects one provider endpoint.
type ModelConfig struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	Reasoning ModelConfig `mapstructure:"reasoning"`
	Search    ModelConfig `mapstructure:"search"`
}

type EmbeddingsConfig struct {
	Provider    string        `mapstructure:"provider" validate:"omitempty,oneof=voyage openai ollama"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	MaxLRU      int           `mapstructure:"max_lru" validate:"min=0"`
	BatchSize   int           `mapstructure:"batch_size" validate:"min=0"`
	Concurrency int           `mapstructure:"concurrency" validate:"min=0"`
}

// ToEmbeddings converts to the embeddings package config.
func (e EmbeddingsConfig) ToEmbeddings() embeddings.Config {
	return embeddings.Config{
		Provider:    e.Provider,
		Model:       e.Model,
		APIKey:      e.APIKey,
		BaseURL:     e.BaseURL,
		Timeout:     e.Timeout,
		CacheTTL:    e.CacheTTL,
		MaxLRU:      e.MaxLRU,
		BatchSize:   e.BatchSize,
		Concurrency: e.Concurrency,
	}
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}

type SessionConfig struct {
	Backend     string        `mapstructure:"backend" validate:"oneof=memory redis"`
	TTL         time.Duration `mapstructure:"ttl" validate:"min=0"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Driver   string `mapstructure:"driver" validate:"oneof=postgres sqlite3"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// ToDB converts to the checkpoint store config.
func (d DatabaseConfig) ToDB() *db.Config {
	return &db.Config{
		Driver:   d.Driver,
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: d.Database,
		SSLMode:  d.SSLMode,
		Path:     d.Path,
	}
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" validate:"required_if=Enabled true"`
	Issuer    string `mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type PersonasConfig struct {
	File string `mapstructure:"file"`
}

type RateLimitsConfig struct {
	File string `mapstructure:"file"`
}

type PricingConfig struct {
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.api_port", 8080)
	v.SetDefault("service.health_port", 8081)
	v.SetDefault("service.metrics_port", 2112)

	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "research-queue")

	v.SetDefault("pipeline.dedup_threshold", models.DefaultDedupThreshold)
	v.SetDefault("pipeline.max_findings", models.DefaultMaxFindings)
	v.SetDefault("pipeline.max_iterations", models.DefaultMaxIterations)
	v.SetDefault("pipeline.thinking_budget", models.DefaultThinkingBudget)
	v.SetDefault("pipeline.deadline", models.DefaultDeadline)
	v.SetDefault("pipeline.discovery_max_tokens", 4000)

	v.SetDefault("llm.reasoning.provider", "anthropic")
	v.SetDefault("llm.reasoning.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.reasoning.api_key", "")
	v.SetDefault("llm.reasoning.base_url", "")
	v.SetDefault("llm.reasoning.timeout", 5*time.Minute)
	v.SetDefault("llm.search.provider", "xai")
	v.SetDefault("llm.search.model", "grok-beta")
	v.SetDefault("llm.search.api_key", "")
	v.SetDefault("llm.search.base_url", "")
	v.SetDefault("llm.search.timeout", 2*time.Minute)

	v.SetDefault("embeddings.provider", "")
	v.SetDefault("embeddings.model", "")
	v.SetDefault("embeddings.api_key", "")
	v.SetDefault("embeddings.base_url", "")
	v.SetDefault("embeddings.timeout", 30*time.Second)
	v.SetDefault("embeddings.cache_ttl", 24*time.Hour)
	v.SetDefault("embeddings.max_lru", 2048)
	v.SetDefault("embeddings.batch_size", 64)
	v.SetDefault("embeddings.concurrency", 4)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.ttl", time.Duration(0))
	v.SetDefault("session.idle_timeout", 30*time.Second)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "rdengine")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "rdengine")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "rdengine")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "rdengine-orchestrator")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("personas.file", "")
	v.SetDefault("rate_limits.file", "")
	v.SetDefault("pricing.file", "")
}

// Unprefixed variables kept for deployment compatibility. The RDE_ form wins
// when both are set.
var legacyEnv = map[string]string{
	"service.api_port":       "API_PORT",
	"service.health_port":    "HEALTH_PORT",
	"service.metrics_port":   "METRICS_PORT",
	"temporal.host":          "TEMPORAL_HOST",
	"temporal.namespace":     "TEMPORAL_NAMESPACE",
	"temporal.task_queue":    "TEMPORAL_TASK_QUEUE",
	"llm.reasoning.api_key":  "ANTHROPIC_API_KEY",
	"llm.search.api_key":     "XAI_API_KEY",
	"embeddings.api_key":     "VOYAGE_API_KEY",
	"redis.addr":             "REDIS_ADDR",
	"redis.password":         "REDIS_PASSWORD",
	"database.password":      "POSTGRES_PASSWORD",
	"auth.jwt_secret":        "JWT_SECRET",
	"tracing.otlp_endpoint":  "OTEL_EXPORTER_OTLP_ENDPOINT",
	"logging.level":          "LOG_LEVEL",
	"logging.format":         "LOG_FORMAT",
	"personas.file":          "PERSONAS_CONFIG_PATH",
	"rate_limits.file":       "RATE_LIMITS_CONFIG_PATH",
	"pricing.file":           "MODELS_CONFIG_PATH",
	"embeddings.provider":    "EMBEDDINGS_PROVIDER",
	"database.enabled":       "CHECKPOINTS_ENABLED",
	"session.backend":        "SESSION_BACKEND",
	"pipeline.deadline":      "RESEARCH_DEADLINE",
	"llm.reasoning.base_url": "ANTHROPIC_BASE_URL",
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, legacy)
	}
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// ConfigPath returns CONFIG_PATH or the container default.
func ConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads path (if it exists), applies defaults and environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	v := newViper(path)
	cfg, err := read(v, path != "")
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(v *viper.Viper, hasFile bool) (*Config, error) {
	if hasFile {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := models.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
