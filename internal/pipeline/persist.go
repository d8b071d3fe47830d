package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"horse.fit/dronewatch/internal/arbiter"
	"horse.fit/dronewatch/internal/consolidate"
	"horse.fit/dronewatch/internal/db"
	"horse.fit/dronewatch/internal/dedup"
	"horse.fit/dronewatch/internal/evidence"
	"horse.fit/dronewatch/internal/incident"
)

const (
	TierExact = "exact"
	TierFuzzy = "fuzzy"

	ActionCreated   = "created"
	ActionMerged    = "merged"
	ActionUnchanged = "unchanged"
)

// foldBatch merges incidents of one batch that the fuzzy tier would merge once stored:
// same scope and a matching title, split only by a grid or window boundary. Later
// incidents fold into the earlier one they match best.
func (s *Service) foldBatch(incidents []incident.Consolidated) []incident.Consolidated {
	kept := make([]incident.Consolidated, 0, len(incidents))
	for _, c := range incidents {
		var (
			titles []string
			index  []int
		)
		for i, k := range kept {
			if dedup.WithinScope(c, k, s.opts.DedupRadiusKm, s.opts.DedupWindow) {
				titles = append(titles, k.Title)
				index = append(index, i)
			}
		}
		if match, ok := s.fuzzy.FindBestMatch(c.Title, titles); ok {
			target := index[match.Index]
			s.logger.Debug().
				Str("content_hash", c.ContentHash).
				Str("into", kept[target].ContentHash).
				Float64("similarity", match.Score).
				Msg("folded near-duplicate within batch")
			kept[target] = consolidate.MergeInto(kept[target], c, evidence.Score)
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// persistAll writes every consolidated incident on a bounded worker group. Outcomes
// line up with incidents by index.
func (s *Service) persistAll(ctx context.Context, incidents []incident.Consolidated) ([]Outcome, error) {
	outcomes := make([]Outcome, len(incidents))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.Workers)
	for i := range incidents {
		group.Go(func() error {
			outcome, err := s.persist(groupCtx, incidents[i])
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("persist incidents: %w", err)
	}
	return outcomes, nil
}

// persist runs the dedup tiers for one incident and writes it. The returned error is
// only ever a context error; storage failures are reported in the outcome.
func (s *Service) persist(ctx context.Context, c incident.Consolidated) (Outcome, error) {
	outcome := Outcome{
		ContentHash:   c.ContentHash,
		Title:         c.Title,
		EvidenceScore: c.EvidenceScore,
		MergedFrom:    c.MergedFrom,
	}
	fail := func(op string, err error) (Outcome, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, ctxErr
		}
		s.logger.Error().Err(err).Str("content_hash", c.ContentHash).Str("op", op).Msg("persist incident failed")
		outcome.Error = fmt.Sprintf("%s: %v", op, err)
		return outcome, nil
	}

	existing, found, err := s.findExact(ctx, c)
	if err != nil {
		return fail("find by content hash", err)
	}
	if found {
		return s.mergeExact(ctx, outcome, existing, c, "")
	}

	neighbors, err := s.neighbors(ctx, c)
	if err != nil {
		return fail("find neighbors", err)
	}

	if len(neighbors) > 0 {
		titles := make([]string, len(neighbors))
		for i, neighbor := range neighbors {
			titles[i] = neighbor.Title
		}
		if match, ok := s.fuzzy.FindBestMatch(c.Title, titles); ok {
			similarity := match.Score
			audit := db.MergeAudit{
				Tier:       TierFuzzy,
				Similarity: &similarity,
				Reasoning:  fmt.Sprintf("title ratio %.3f", match.Score),
			}
			return s.merge(ctx, outcome, neighbors[match.Index].ID, c, audit, nil)
		}
	}

	if len(neighbors) > 0 && s.dedup.Available() {
		candidates := make([]dedup.Neighbor, len(neighbors))
		for i, neighbor := range neighbors {
			candidates[i] = dedup.Neighbor{ID: neighbor.ID, Incident: neighbor}
		}
		decision, err := s.dedup.Find(ctx, c, candidates)
		if err != nil {
			return outcome, err
		}
		s.saveNeighborEmbeddings(ctx, decision.NeighborEmbeddings)
		if len(decision.Embedding) > 0 {
			c.Embedding = decision.Embedding
		}
		if decision.Escalated {
			outcome.Escalated = true
			s.metrics.Escalated()
		}
		if decision.FailOpen {
			outcome.FailOpen = true
			s.metrics.FailOpen()
		}
		if decision.Kind == dedup.KindMerge {
			similarity := decision.Similarity
			audit := db.MergeAudit{
				Tier:       decision.Tier,
				Similarity: &similarity,
				Reasoning:  decision.Reason,
			}
			if decision.Verdict != nil {
				confidence := decision.Verdict.Confidence
				audit.Confidence = &confidence
				if reasoning := strings.TrimSpace(decision.Verdict.Reasoning); reasoning != "" {
					audit.Reasoning = reasoning
				}
			}
			return s.merge(ctx, outcome, decision.MatchID, c, audit, decision.Verdict)
		}
	}

	return s.create(ctx, outcome, c, true)
}

// findExact looks the incident up by its own hash and then by every member hash.
func (s *Service) findExact(ctx context.Context, c incident.Consolidated) (incident.Consolidated, bool, error) {
	hashes := append([]string{c.ContentHash}, c.MemberHashes...)
	seen := make(map[string]struct{}, len(hashes))
	for _, hash := range hashes {
		if hash == "" {
			continue
		}
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}

		existing, err := s.store.FindByContentHash(ctx, hash)
		switch {
		case err == nil:
			return existing, true, nil
		case errors.Is(err, db.ErrNoRows):
		default:
			return incident.Consolidated{}, false, err
		}
	}
	return incident.Consolidated{}, false, nil
}

// neighbors returns persisted incidents within the dedup radius and window.
func (s *Service) neighbors(ctx context.Context, c incident.Consolidated) ([]incident.Consolidated, error) {
	found, err := s.store.FindNearby(ctx, db.NearbyQuery{
		Location:   c.Location,
		Country:    c.Country,
		OccurredAt: c.OccurredAt,
		RadiusKm:   s.opts.DedupRadiusKm,
		Window:     s.opts.DedupWindow,
		Limit:      db.DefaultNearbyLimit,
	})
	if err != nil {
		return nil, err
	}
	out := found[:0]
	for _, neighbor := range found {
		if dedup.WithinScope(c, neighbor, s.opts.DedupRadiusKm, s.opts.DedupWindow) {
			out = append(out, neighbor)
		}
	}
	return out, nil
}

// create inserts c. When the insert loses a race on the content hash the incident is
// merged into the winner instead, unless mergeOnConflict is false.
func (s *Service) create(ctx context.Context, outcome Outcome, c incident.Consolidated, mergeOnConflict bool) (Outcome, error) {
	id, created, err := s.store.Upsert(ctx, c)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, ctxErr
		}
		if !errors.Is(err, db.ErrConflict) {
			s.logger.Error().Err(err).Str("content_hash", c.ContentHash).Msg("create incident failed")
			outcome.Error = fmt.Sprintf("create incident: %v", err)
			return outcome, nil
		}
		existing, lookupErr := s.store.FindByContentHash(ctx, c.ContentHash)
		if lookupErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return outcome, ctxErr
			}
			outcome.Error = fmt.Sprintf("create incident: %v", err)
			return outcome, nil
		}
		id, created = existing.ID, false
	}
	if !created {
		if !mergeOnConflict {
			outcome.Error = fmt.Sprintf("create incident: %v", db.ErrConflict)
			return outcome, nil
		}
		existing, err := s.store.FindByContentHash(ctx, c.ContentHash)
		if err != nil {
			existing = incident.Consolidated{ID: id}
		}
		return s.mergeExact(ctx, outcome, existing, c, "content hash conflict on create")
	}

	outcome.IncidentID = id
	outcome.Action = ActionCreated
	s.metrics.Created()
	s.logger.Debug().Int64("incident_id", id).Str("content_hash", c.ContentHash).Int("evidence_score", c.EvidenceScore).Msg("incident created")
	return outcome, nil
}

// mergeExact folds c into the incident that already carries its hash. When that
// incident holds every report of c already, nothing is written.
func (s *Service) mergeExact(ctx context.Context, outcome Outcome, existing, c incident.Consolidated, reason string) (Outcome, error) {
	if existing.ContentHash != "" && consolidate.Covers(existing, c) {
		outcome.IncidentID = existing.ID
		outcome.Action = ActionUnchanged
		outcome.EvidenceScore = existing.EvidenceScore
		outcome.MergedFrom = existing.MergedFrom
		s.logger.Debug().Int64("incident_id", existing.ID).Str("content_hash", c.ContentHash).Msg("incident already holds these reports")
		return outcome, nil
	}
	return s.merge(ctx, outcome, existing.ID, c, db.MergeAudit{Tier: TierExact, Reasoning: reason}, nil)
}

func (s *Service) merge(ctx context.Context, outcome Outcome, id int64, incoming incident.Consolidated, audit db.MergeAudit, verdict *arbiter.Verdict) (Outcome, error) {
	audit.MergedContentHash = incoming.ContentHash
	merged, err := s.store.Merge(ctx, id, func(existing incident.Consolidated) incident.Consolidated {
		out := consolidate.MergeInto(existing, incoming, evidence.Score)
		if verdict != nil {
			if title := strings.TrimSpace(derefString(verdict.MergedTitle)); title != "" {
				out.Title = title
			}
			if narrative := strings.TrimSpace(derefString(verdict.MergedNarrative)); narrative != "" {
				out.Narrative = narrative
			}
		}
		return out
	}, audit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, ctxErr
		}
		if errors.Is(err, db.ErrNoRows) {
			// The target vanished after the lookup; keep the report as its own incident.
			return s.create(ctx, outcome, incoming, false)
		}
		s.logger.Error().Err(err).Int64("incident_id", id).Str("tier", audit.Tier).Msg("merge incident failed")
		outcome.Error = fmt.Sprintf("merge into %d: %v", id, err)
		return outcome, nil
	}

	outcome.IncidentID = merged.ID
	outcome.Action = ActionMerged
	outcome.Tier = audit.Tier
	outcome.EvidenceScore = merged.EvidenceScore
	outcome.MergedFrom = merged.MergedFrom
	s.metrics.Merged(audit.Tier)
	s.logger.Debug().
		Int64("incident_id", merged.ID).
		Str("tier", audit.Tier).
		Str("content_hash", incoming.ContentHash).
		Int("evidence_score", merged.EvidenceScore).
		Msg("incident merged")
	return outcome, nil
}

// saveNeighborEmbeddings stores vectors computed for neighbors that had none. Failures
// only cost a recomputation next time.
func (s *Service) saveNeighborEmbeddings(ctx context.Context, vectors map[int64][]float64) {
	for id, vector := range vectors {
		if err := s.store.SaveEmbedding(ctx, id, vector); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Int64("incident_id", id).Msg("save neighbor embedding failed")
		}
	}
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
