// Package dedup decides whether a consolidated incident duplicates a persisted one using
// the embedding oracle and, for gray-band similarities, the LLM arbiter. Oracle problems
// never block ingestion: they produce a "new incident" decision flagged as fail-open.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"horse.fit/dronewatch/internal/arbiter"
	"horse.fit/dronewatch/internal/embedding"
	"horse.fit/dronewatch/internal/incident"
)

// ErrOracleUnavailable wraps every fail-open reason so callers can tell them apart from
// ordinary "no duplicate" outcomes.
var ErrOracleUnavailable = errors.New("dedup oracle unavailable")

const (
	DefaultMergeThreshold    = 0.92
	DefaultEscalateThreshold = 0.85
	DefaultConcurrency       = 4
	DefaultTimeout           = 20 * time.Second
	DefaultRadiusKm          = 50.0
	DefaultWindow            = 48 * time.Hour

	TierEmbedding = "embedding"
	TierLLM       = "llm"
)

type Kind string

const (
	KindNew   Kind = "new"
	KindMerge Kind = "merge"
)

type Neighbor struct {
	ID       int64
	Incident incident.Consolidated
}

type Decision struct {
	Kind       Kind
	MatchID    int64
	Tier       string
	Similarity float64
	Escalated  bool
	Verdict    *arbiter.Verdict
	FailOpen   bool
	Reason     string
	// Err wraps ErrOracleUnavailable when the decision failed open.
	Err error
	// Embedding is the incident's vector when one was computed or reused.
	Embedding []float64
	// NeighborEmbeddings holds vectors computed on demand for neighbors that had none,
	// keyed by neighbor ID, so the caller can persist them.
	NeighborEmbeddings map[int64][]float64
}

type Options struct {
	MergeThreshold    float64
	EscalateThreshold float64
	Concurrency       int
	Timeout           time.Duration
	JudgeTimeout      time.Duration
}

type Deduplicator struct {
	embedder embedding.Embedder
	judge    arbiter.Judge
	sem      *semaphore.Weighted
	opts     Options
	logger   zerolog.Logger
}

func New(embedder embedding.Embedder, judge arbiter.Judge, opts Options, logger zerolog.Logger) *Deduplicator {
	if embedder == nil {
		embedder = embedding.Disabled{}
	}
	if judge == nil {
		judge = arbiter.Unavailable{}
	}
	if opts.MergeThreshold <= 0 || opts.MergeThreshold > 1 {
		opts.MergeThreshold = DefaultMergeThreshold
	}
	if opts.EscalateThreshold <= 0 || opts.EscalateThreshold > opts.MergeThreshold {
		opts.EscalateThreshold = min(DefaultEscalateThreshold, opts.MergeThreshold)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.JudgeTimeout <= 0 {
		opts.JudgeTimeout = 3 * opts.Timeout
	}
	return &Deduplicator{
		embedder: embedder,
		judge:    judge,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		opts:     opts,
		logger:   logger.With().Str("component", "dedup").Logger(),
	}
}

// Available reports whether tier 2 can run at all.
func (d *Deduplicator) Available() bool {
	return d != nil && d.embedder.Available()
}

// Find compares c against neighbors already filtered to the dedup radius and window.
// The only error returned is cancellation of ctx; every oracle failure fails open.
func (d *Deduplicator) Find(ctx context.Context, c incident.Consolidated, neighbors []Neighbor) (Decision, error) {
	if len(neighbors) == 0 {
		return Decision{Kind: KindNew, Reason: "no neighbors in scope", Embedding: c.Embedding}, nil
	}
	if !d.Available() {
		return d.failOpen(Decision{}, "embedding oracle not configured", nil), nil
	}

	decision := Decision{Kind: KindNew, Embedding: c.Embedding}
	if err := d.embedMissing(ctx, c, neighbors, &decision); err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		return d.failOpen(decision, "embedding failed", err), nil
	}

	best, bestScore := -1, -1.0
	for i, neighbor := range neighbors {
		vector := neighbor.Incident.Embedding
		if computed, ok := decision.NeighborEmbeddings[neighbor.ID]; ok {
			vector = computed
		}
		score := embedding.Cosine(decision.Embedding, vector)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	decision.Similarity = bestScore

	switch {
	case bestScore >= d.opts.MergeThreshold:
		decision.Kind = KindMerge
		decision.MatchID = neighbors[best].ID
		decision.Tier = TierEmbedding
		decision.Reason = fmt.Sprintf("cosine %.3f >= %.2f", bestScore, d.opts.MergeThreshold)
		return decision, nil
	case bestScore >= d.opts.EscalateThreshold:
		return d.escalate(ctx, c, neighbors[best], decision)
	default:
		decision.Reason = fmt.Sprintf("best cosine %.3f below %.2f", bestScore, d.opts.EscalateThreshold)
		return decision, nil
	}
}

func (d *Deduplicator) escalate(ctx context.Context, c incident.Consolidated, neighbor Neighbor, decision Decision) (Decision, error) {
	decision.Escalated = true
	if !d.judge.Available() {
		return d.failOpen(decision, "arbiter not configured", nil), nil
	}

	var verdict arbiter.Verdict
	err := d.call(ctx, d.opts.JudgeTimeout, func(callCtx context.Context) error {
		var err error
		verdict, err = d.judge.Judge(callCtx, neighbor.Incident, c)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		return d.failOpen(decision, "arbiter failed", err), nil
	}

	decision.Verdict = &verdict
	if verdict.IsDuplicate {
		decision.Kind = KindMerge
		decision.MatchID = neighbor.ID
		decision.Tier = TierLLM
		decision.Reason = fmt.Sprintf("arbiter duplicate (confidence %.2f)", verdict.Confidence)
		return decision, nil
	}
	decision.Reason = fmt.Sprintf("arbiter not duplicate (confidence %.2f)", verdict.Confidence)
	return decision, nil
}

// embedMissing embeds the incident (unless it already has a vector) and every neighbor
// lacking one in a single oracle call.
func (d *Deduplicator) embedMissing(ctx context.Context, c incident.Consolidated, neighbors []Neighbor, decision *Decision) error {
	var texts []string
	var owners []int64
	const self = int64(-1)

	if len(c.Embedding) == 0 {
		texts = append(texts, embedding.IncidentText(c.Title, c.Narrative, c.Location, c.Country))
		owners = append(owners, self)
	}
	for _, neighbor := range neighbors {
		if len(neighbor.Incident.Embedding) > 0 {
			continue
		}
		texts = append(texts, embedding.IncidentText(neighbor.Incident.Title, neighbor.Incident.Narrative, neighbor.Incident.Location, neighbor.Incident.Country))
		owners = append(owners, neighbor.ID)
	}
	if len(texts) == 0 {
		return nil
	}

	var vectors [][]float64
	err := d.call(ctx, d.opts.Timeout, func(callCtx context.Context) error {
		var err error
		vectors, err = d.embedder.Embed(callCtx, texts)
		return err
	})
	if err != nil {
		return err
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", len(texts), len(vectors))
	}

	for i, owner := range owners {
		if owner == self {
			decision.Embedding = vectors[i]
			continue
		}
		if decision.NeighborEmbeddings == nil {
			decision.NeighborEmbeddings = make(map[int64][]float64)
		}
		decision.NeighborEmbeddings[owner] = vectors[i]
	}
	return nil
}

// call bounds outstanding oracle calls across goroutines and applies the per-call timeout.
func (d *Deduplicator) call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire oracle slot: %w", err)
	}
	defer d.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

func (d *Deduplicator) failOpen(decision Decision, reason string, err error) Decision {
	decision.Kind = KindNew
	decision.MatchID = 0
	decision.Tier = ""
	decision.FailOpen = true
	if err != nil {
		decision.Err = fmt.Errorf("%w: %s: %w", ErrOracleUnavailable, reason, err)
	} else {
		decision.Err = fmt.Errorf("%w: %s", ErrOracleUnavailable, reason)
	}
	decision.Reason = decision.Err.Error()
	d.logger.Warn().Err(err).Str("reason", reason).Msg("dedup failing open")
	return decision
}
