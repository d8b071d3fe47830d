package pipeline

import (
	"strings"
	"time"

	"horse.fit/dronewatch/internal/classify"
	"horse.fit/dronewatch/internal/consolidate"
	"horse.fit/dronewatch/internal/filter"
	"horse.fit/dronewatch/internal/incident"
	"horse.fit/dronewatch/internal/textnorm"
)

type outcome string

const (
	outcomeAccepted  outcome = "accepted"
	outcomeRejected  outcome = "rejected"
	outcomeMalformed outcome = "malformed"
	outcomeCached    outcome = "cached"

	StageMalformed = "malformed"
	ReasonCached   = "already processed"
)

type screened struct {
	index   int
	title   string
	outcome outcome
	stage   string
	reason  string
	scored  consolidate.Scored
}

// screen runs everything that only needs the candidate itself: validation, the trust
// table, both filter layers, hashing, the cache lookup and attribution detection.
func (s *Service) screen(index int, c incident.Candidate, now time.Time) screened {
	item := screened{index: index, title: strings.TrimSpace(c.Title)}

	if err := c.Validate(); err != nil {
		item.outcome, item.stage, item.reason = outcomeMalformed, StageMalformed, err.Error()
		return item
	}

	c.Title = strings.TrimSpace(c.Title)
	c.Narrative = textnorm.Sanitize(c.Narrative)
	c.Country = strings.ToUpper(strings.TrimSpace(c.Country))
	c.Sources = s.applyTrust(c.Sources)

	if verdict := s.filter.Check(filter.InputFromCandidate(c), now); !verdict.Pass {
		item.outcome, item.stage, item.reason = outcomeRejected, verdict.Stage, verdict.Reason
		return item
	}

	classification := s.classifier.Classify(c.Title, c.Narrative)
	nonIncident := s.nonIncident.Score(c.Title, c.Narrative)
	if !classify.Accept(classification, nonIncident) {
		stage, reason := classify.Rejection(classification, nonIncident)
		item.outcome, item.stage, item.reason = outcomeRejected, stage, reason
		return item
	}

	hash := incident.ContentHash(c, s.engine.Precision(), s.engine.Window())
	if s.seenAll(hash, c.Sources) {
		item.outcome, item.reason = outcomeCached, ReasonCached
		return item
	}

	item.outcome = outcomeAccepted
	item.scored = consolidate.Scored{
		Candidate:        c,
		Hash:             hash,
		HasOfficialQuote: s.quotes.HasOfficialQuote(c.Narrative, c.Sources),
	}
	return item
}

// seenAll reports whether every source's report of hash was already processed. A known
// event from a new outlet still goes through so the stored incident gains the source.
func (s *Service) seenAll(hash string, sources []incident.Source) bool {
	if len(sources) == 0 {
		return false
	}
	for _, source := range sources {
		if !s.cache.Contains(incident.ReportKey(hash, source)) {
			return false
		}
	}
	return true
}

// applyTrust overrides connector-supplied weights, names and types for sources whose
// domain is in the trust table. The input slice is not modified.
func (s *Service) applyTrust(sources []incident.Source) []incident.Source {
	out := make([]incident.Source, len(sources))
	copy(out, sources)
	for i := range out {
		trusted, ok := s.rules.TrustFor(out[i].Host())
		if !ok {
			continue
		}
		if trusted.TrustWeight >= incident.MinTrustWeight && trusted.TrustWeight <= incident.MaxTrustWeight {
			out[i].TrustWeight = trusted.TrustWeight
		}
		if name := strings.TrimSpace(trusted.Name); name != "" {
			out[i].Name = name
		}
		if kind := incident.SourceType(strings.ToLower(strings.TrimSpace(trusted.Type))); kind.Valid() {
			out[i].Type = kind
		}
	}
	return out
}
