package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	CacheBackendPostgres = "postgres"
	CacheBackendSQLite   = "sqlite"
	CacheBackendMemory   = "memory"

	EmbeddingProviderHTTP   = "http"
	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderNone   = "none"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"DW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DW_DB_MAX_CONNS" default:"8"`

	RulesFile string `envconfig:"RULES_FILE" default:""`

	MaxCandidateAge  time.Duration `envconfig:"MAX_CANDIDATE_AGE" default:"168h"`
	HistoricalCutoff time.Duration `envconfig:"HISTORICAL_CUTOFF" default:"17520h"`
	FutureSkew       time.Duration `envconfig:"FUTURE_SKEW" default:"1h"`

	FuzzyThreshold         float64       `envconfig:"FUZZY_THRESHOLD" default:"0.75"`
	EmbedMergeThreshold    float64       `envconfig:"EMBED_MERGE_THRESHOLD" default:"0.92"`
	EmbedEscalateThreshold float64       `envconfig:"EMBED_ESCALATE_THRESHOLD" default:"0.85"`
	DedupRadiusKm          float64       `envconfig:"DEDUP_RADIUS_KM" default:"50"`
	DedupWindow            time.Duration `envconfig:"DEDUP_WINDOW" default:"48h"`

	ConsolidationPrecision float64       `envconfig:"CONSOLIDATION_PRECISION" default:"0.01"`
	ConsolidationWindow    time.Duration `envconfig:"CONSOLIDATION_WINDOW" default:"6h"`

	CacheBackend    string        `envconfig:"CACHE_BACKEND" default:"postgres"`
	CacheSQLitePath string        `envconfig:"CACHE_SQLITE_PATH" default:"dronewatch-cache.db"`
	CacheRetention  time.Duration `envconfig:"CACHE_RETENTION" default:"720h"`
	CleanupSchedule string        `envconfig:"CLEANUP_SCHEDULE" default:"0 3 * * *"`

	PipelineWorkers   int           `envconfig:"PIPELINE_WORKERS" default:"4"`
	OracleConcurrency int           `envconfig:"ORACLE_CONCURRENCY" default:"4"`
	OracleTimeout     time.Duration `envconfig:"ORACLE_TIMEOUT" default:"20s"`

	EmbeddingProvider      string  `envconfig:"EMBEDDING_PROVIDER" default:"http"`
	EmbeddingEndpoint      string  `envconfig:"EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingModel         string  `envconfig:"EMBEDDING_MODEL" default:"bge-m3"`
	EmbeddingRatePerSecond float64 `envconfig:"EMBEDDING_RATE_PER_SECOND" default:"5"`
	EmbeddingBurst         int     `envconfig:"EMBEDDING_BURST" default:"2"`
	OpenAIAPIKey           string  `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL          string  `envconfig:"OPENAI_BASE_URL" default:""`

	AnthropicAPIKey      string  `envconfig:"ANTHROPIC_API_KEY" default:""`
	ArbiterModel         string  `envconfig:"ARBITER_MODEL" default:"claude-3-5-haiku-latest"`
	ArbiterMinConfidence float64 `envconfig:"ARBITER_MIN_CONFIDENCE" default:"0.5"`

	IntakeTokenHash string `envconfig:"INTAKE_TOKEN_HASH" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	cfg.EmbeddingProvider = strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DW_DB_MIN_CONNS (%d) cannot exceed DW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.MaxCandidateAge <= 0 {
		return fmt.Errorf("MAX_CANDIDATE_AGE must be > 0")
	}
	if c.HistoricalCutoff < c.MaxCandidateAge {
		return fmt.Errorf("HISTORICAL_CUTOFF (%s) cannot be shorter than MAX_CANDIDATE_AGE (%s)", c.HistoricalCutoff, c.MaxCandidateAge)
	}
	if c.FutureSkew < 0 {
		return fmt.Errorf("FUTURE_SKEW must be >= 0")
	}
	if c.FuzzyThreshold <= 0 || c.FuzzyThreshold > 1 {
		return fmt.Errorf("FUZZY_THRESHOLD must be in (0,1]")
	}
	if c.EmbedEscalateThreshold <= 0 || c.EmbedEscalateThreshold > 1 {
		return fmt.Errorf("EMBED_ESCALATE_THRESHOLD must be in (0,1]")
	}
	if c.EmbedMergeThreshold < c.EmbedEscalateThreshold || c.EmbedMergeThreshold > 1 {
		return fmt.Errorf("EMBED_MERGE_THRESHOLD must be in [EMBED_ESCALATE_THRESHOLD,1]")
	}
	if c.DedupRadiusKm <= 0 {
		return fmt.Errorf("DEDUP_RADIUS_KM must be > 0")
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("DEDUP_WINDOW must be > 0")
	}
	if c.ConsolidationPrecision <= 0 || c.ConsolidationPrecision > 1 {
		return fmt.Errorf("CONSOLIDATION_PRECISION must be in (0,1]")
	}
	if c.ConsolidationWindow <= 0 {
		return fmt.Errorf("CONSOLIDATION_WINDOW must be > 0")
	}
	switch c.CacheBackend {
	case CacheBackendPostgres, CacheBackendMemory:
	case CacheBackendSQLite:
		if strings.TrimSpace(c.CacheSQLitePath) == "" {
			return fmt.Errorf("CACHE_SQLITE_PATH is required when CACHE_BACKEND=sqlite")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be one of postgres, sqlite, memory")
	}
	if c.CacheRetention <= 0 {
		return fmt.Errorf("CACHE_RETENTION must be > 0")
	}
	if c.PipelineWorkers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be >= 1")
	}
	if c.OracleConcurrency < 1 {
		return fmt.Errorf("ORACLE_CONCURRENCY must be >= 1")
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be > 0")
	}
	switch c.EmbeddingProvider {
	case EmbeddingProviderHTTP, EmbeddingProviderOpenAI, EmbeddingProviderNone:
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of http, openai, none")
	}
	if c.EmbeddingRatePerSecond < 0 {
		return fmt.Errorf("EMBEDDING_RATE_PER_SECOND must be >= 0")
	}
	if c.ArbiterMinConfidence < 0 || c.ArbiterMinConfidence > 1 {
		return fmt.Errorf("ARBITER_MIN_CONFIDENCE must be in [0,1]")
	}
	return nil
}

// EmbeddingConfigured reports whether the embedding oracle has what it needs to be called.
func (c *Config) EmbeddingConfigured() bool {
	if c == nil {
		return false
	}
	switch c.EmbeddingProvider {
	case EmbeddingProviderHTTP:
		return strings.TrimSpace(c.EmbeddingEndpoint) != ""
	case EmbeddingProviderOpenAI:
		return strings.TrimSpace(c.OpenAIAPIKey) != ""
	default:
		return false
	}
}

func (c *Config) ArbiterConfigured() bool {
	return c != nil && strings.TrimSpace(c.AnthropicAPIKey) != ""
}
