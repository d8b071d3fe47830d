// Package pipeline turns batches of candidate reports into persisted, deduplicated
// incidents: validation, the two filter layers, consolidation, the dedup tiers and the
// cache bookkeeping that makes reruns cheap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/dronewatch/internal/arbiter"
	"horse.fit/dronewatch/internal/cache"
	"horse.fit/dronewatch/internal/classify"
	"horse.fit/dronewatch/internal/config"
	"horse.fit/dronewatch/internal/consolidate"
	"horse.fit/dronewatch/internal/db"
	"horse.fit/dronewatch/internal/dedup"
	"horse.fit/dronewatch/internal/embedding"
	"horse.fit/dronewatch/internal/evidence"
	"horse.fit/dronewatch/internal/filter"
	"horse.fit/dronewatch/internal/fuzzy"
	"horse.fit/dronewatch/internal/globaltime"
	"horse.fit/dronewatch/internal/incident"
	"horse.fit/dronewatch/internal/metrics"
	"horse.fit/dronewatch/internal/textnorm"
)

const DefaultWorkers = 4

var (
	ErrNoStore = errors.New("pipeline: incident store is required")
	ErrNoRules = errors.New("pipeline: rules are required")
)

// IncidentStore is the storage collaborator. db.IncidentStore implements it.
type IncidentStore interface {
	FindByContentHash(ctx context.Context, hash string) (incident.Consolidated, error)
	FindNearby(ctx context.Context, query db.NearbyQuery) ([]incident.Consolidated, error)
	Upsert(ctx context.Context, c incident.Consolidated) (id int64, created bool, err error)
	Merge(ctx context.Context, id int64, fn func(existing incident.Consolidated) incident.Consolidated, audit db.MergeAudit) (incident.Consolidated, error)
	SaveEmbedding(ctx context.Context, id int64, vector []float64) error
}

type Deps struct {
	Store    IncidentStore
	Cache    *cache.Cache
	Rules    *config.Rules
	Embedder embedding.Embedder
	Judge    arbiter.Judge
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
}

type Options struct {
	Workers                int
	MaxAge                 time.Duration
	HistoricalCutoff       time.Duration
	FutureSkew             time.Duration
	FuzzyThreshold         float64
	EmbedMergeThreshold    float64
	EmbedEscalateThreshold float64
	OracleConcurrency      int
	OracleTimeout          time.Duration
	DedupRadiusKm          float64
	DedupWindow            time.Duration
	ConsolidationPrecision float64
	ConsolidationWindow    time.Duration
	// Now defaults to globaltime.UTC.
	Now func() time.Time
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:                cfg.PipelineWorkers,
		MaxAge:                 cfg.MaxCandidateAge,
		HistoricalCutoff:       cfg.HistoricalCutoff,
		FutureSkew:             cfg.FutureSkew,
		FuzzyThreshold:         cfg.FuzzyThreshold,
		EmbedMergeThreshold:    cfg.EmbedMergeThreshold,
		EmbedEscalateThreshold: cfg.EmbedEscalateThreshold,
		OracleConcurrency:      cfg.OracleConcurrency,
		OracleTimeout:          cfg.OracleTimeout,
		DedupRadiusKm:          cfg.DedupRadiusKm,
		DedupWindow:            cfg.DedupWindow,
		ConsolidationPrecision: cfg.ConsolidationPrecision,
		ConsolidationWindow:    cfg.ConsolidationWindow,
	}
}

type Service struct {
	store       IncidentStore
	cache       *cache.Cache
	rules       *config.Rules
	filter      *filter.Filter
	classifier  *classify.Classifier
	nonIncident *classify.NonIncidentFilter
	quotes      *evidence.QuoteDetector
	fuzzy       *fuzzy.Matcher
	dedup       *dedup.Deduplicator
	engine      *consolidate.Engine
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	opts        Options
}

func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil {
		return nil, ErrNoStore
	}
	if deps.Rules == nil {
		return nil, ErrNoRules
	}
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.DedupRadiusKm <= 0 {
		opts.DedupRadiusKm = dedup.DefaultRadiusKm
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = dedup.DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = globaltime.UTC
	}
	logger := deps.Logger.With().Str("component", "pipeline").Logger()

	classifier, err := classify.NewClassifier(deps.Rules.Classifier, deps.Rules.ForeignKeywords)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	nonIncident, err := classify.NewNonIncidentFilter(deps.Rules.NonIncident, deps.Rules.IncidentEvidence)
	if err != nil {
		return nil, fmt.Errorf("build non-incident filter: %w", err)
	}

	seen := deps.Cache
	if seen == nil {
		seen = cache.New(nil, cache.DefaultRetention, deps.Logger)
	}

	var embedder embedding.Embedder = embedding.Disabled{}
	if deps.Embedder != nil {
		embedder = instrumentedEmbedder{next: deps.Embedder, metrics: deps.Metrics}
	}
	var judge arbiter.Judge = arbiter.Unavailable{}
	if deps.Judge != nil {
		judge = instrumentedJudge{next: deps.Judge, metrics: deps.Metrics}
	}

	return &Service{
		store: deps.Store,
		cache: seen,
		rules: deps.Rules,
		filter: filter.New(filter.Options{
			MaxAge:           opts.MaxAge,
			HistoricalCutoff: opts.HistoricalCutoff,
			FutureSkew:       opts.FutureSkew,
			DroneKeywords:    deps.Rules.DroneKeywords,
			ForeignKeywords:  deps.Rules.ForeignKeywords,
			NordicBoxes:      deps.Rules.NordicBoxes,
		}),
		classifier:  classifier,
		nonIncident: nonIncident,
		quotes:      evidence.NewQuoteDetector(deps.Rules.QuotePhrases),
		fuzzy:       fuzzy.NewMatcher(textnorm.NewSynonymTable(deps.Rules.Synonyms), opts.FuzzyThreshold),
		dedup: dedup.New(embedder, judge, dedup.Options{
			MergeThreshold:    opts.EmbedMergeThreshold,
			EscalateThreshold: opts.EmbedEscalateThreshold,
			Concurrency:       opts.OracleConcurrency,
			Timeout:           opts.OracleTimeout,
		}, deps.Logger),
		engine:  consolidate.NewEngine(opts.ConsolidationPrecision, opts.ConsolidationWindow, evidence.Score),
		metrics: deps.Metrics,
		logger:  logger,
		opts:    opts,
	}, nil
}

// Run processes one batch. Only cancellation aborts it; a candidate or incident that
// fails on its own is counted in the result and skipped.
func (s *Service) Run(ctx context.Context, candidates []incident.Candidate) (Result, error) {
	started := time.Now()
	result := newResult(len(candidates))
	logger := s.logger.With().Str("run_id", result.RunID).Logger()

	release := s.cache.BeginBatch()
	defer release()
	if err := s.cache.Load(ctx); err != nil {
		return result, fmt.Errorf("load dedup cache: %w", err)
	}

	screened, err := s.screenAll(ctx, candidates)
	if err != nil {
		return result, err
	}

	var accepted []consolidate.Scored
	for _, item := range screened {
		result.record(item)
		s.metrics.Candidate(string(item.outcome))
		switch item.outcome {
		case outcomeAccepted:
			accepted = append(accepted, item.scored)
		case outcomeRejected, outcomeMalformed:
			s.metrics.Rejected(item.stage)
			logger.Debug().
				Int("index", item.index).
				Str("title", item.title).
				Str("stage", item.stage).
				Str("reason", item.reason).
				Msg("candidate rejected")
		}
	}

	incidents, err := s.engine.Consolidate(ctx, accepted)
	if err != nil {
		return result, err
	}
	incidents = s.foldBatch(incidents)
	result.Consolidated = len(incidents)

	outcomes, err := s.persistAll(ctx, incidents)
	if err != nil {
		return result, err
	}

	byHash := make(map[string][]consolidate.Scored, len(accepted))
	for _, item := range accepted {
		byHash[item.Hash] = append(byHash[item.Hash], item)
	}
	for i, outcome := range outcomes {
		result.recordOutcome(outcome)
		if outcome.Error != "" {
			continue
		}
		if err := s.remember(ctx, incidents[i], byHash); err != nil {
			return result, err
		}
	}

	elapsed := time.Since(started)
	s.metrics.ObserveBatch(elapsed)
	s.metrics.SetCache(s.cache.Len(), s.cache.Degraded())
	logger.Info().
		Int("received", result.Received).
		Int("accepted", result.Accepted).
		Int("cached", result.Cached).
		Int("consolidated", result.Consolidated).
		Int("created", result.Created).
		Int("merged", result.MergedTotal()).
		Int("unchanged", result.Unchanged).
		Int("failed", result.Failed).
		Int("fail_open", result.FailOpen).
		Dur("elapsed", elapsed).
		Msg("batch processed")
	return result, nil
}

// screenAll runs the per-candidate checks on a bounded worker group and returns the
// results in input order.
func (s *Service) screenAll(ctx context.Context, candidates []incident.Candidate) ([]screened, error) {
	out := make([]screened, len(candidates))
	now := s.opts.Now()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.Workers)
	for i := range candidates {
		if err := groupCtx.Err(); err != nil {
			break
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			out[i] = s.screen(i, candidates[i], now)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("screen candidates: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("screen candidates: %w", err)
	}
	return out, nil
}

// remember records a report key for every source of every member candidate of a
// persisted incident so the next batch skips the same reports.
func (s *Service) remember(ctx context.Context, c incident.Consolidated, byHash map[string][]consolidate.Scored) error {
	for _, hash := range c.MemberHashes {
		for _, item := range byHash[hash] {
			for _, source := range item.Candidate.Sources {
				key := incident.ReportKey(hash, source)
				if err := s.cache.Add(ctx, key, item.Candidate.Title, item.Candidate.OccurredAt, source.Name); err != nil {
					return fmt.Errorf("record processed report: %w", err)
				}
			}
		}
	}
	return nil
}

func newRunID() string {
	return uuid.NewString()
}
