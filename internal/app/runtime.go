package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/dronewatch/internal/arbiter"
	"horse.fit/dronewatch/internal/cache"
	"horse.fit/dronewatch/internal/config"
	"horse.fit/dronewatch/internal/db"
	"horse.fit/dronewatch/internal/embedding"
	"horse.fit/dronewatch/internal/logging"
	"horse.fit/dronewatch/internal/metrics"
	"horse.fit/dronewatch/internal/pipeline"
)

const dbConnectTimeout = 10 * time.Second

// runtime is everything a command needs after config and the database are up.
type runtime struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *db.Pool
	cache   *cache.Cache
	metrics *metrics.Metrics
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

func openRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	dbCtx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()

	pool, err := db.NewPool(dbCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	store, err := openCacheStore(cfg, pool)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		pool:    pool,
		cache:   cache.New(store, cfg.CacheRetention, logging.Component(logger, "cache")),
		metrics: metrics.New(),
	}, nil
}

func openCacheStore(cfg *config.Config, pool *db.Pool) (cache.Store, error) {
	switch cfg.CacheBackend {
	case config.CacheBackendPostgres:
		return db.NewCacheStore(pool), nil
	case config.CacheBackendSQLite:
		store, err := cache.OpenSQLite(cfg.CacheSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		return store, nil
	case config.CacheBackendMemory:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
	}
}

func (r *runtime) pipeline() (*pipeline.Service, error) {
	rules, err := config.LoadRules(r.cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	deps := pipeline.Deps{
		Store:    db.NewIncidentStore(r.pool),
		Cache:    r.cache,
		Rules:    rules,
		Embedder: embedding.New(r.cfg, logging.Component(r.logger, "embedding")),
		Metrics:  r.metrics,
		Logger:   r.logger,
	}
	if judge := newJudge(r.cfg, r.logger); judge != nil {
		deps.Judge = judge
	}
	return pipeline.NewService(deps, pipeline.OptionsFromConfig(r.cfg))
}

func newJudge(cfg *config.Config, logger zerolog.Logger) *arbiter.AnthropicJudge {
	if !cfg.ArbiterConfigured() {
		logger.Info().Msg("ANTHROPIC_API_KEY is empty, gray-band pairs will not be escalated")
		return nil
	}
	return arbiter.NewAnthropicJudge(arbiter.Options{
		APIKey:        cfg.AnthropicAPIKey,
		Model:         cfg.ArbiterModel,
		MinConfidence: cfg.ArbiterMinConfidence,
	}, logger)
}

func (r *runtime) Close() error {
	var errs []error
	if r.cache != nil {
		errs = append(errs, r.cache.Close())
	}
	if r.pool != nil {
		errs = append(errs, r.pool.Close())
	}
	return errors.Join(errs...)
}
