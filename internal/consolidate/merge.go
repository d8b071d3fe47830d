package consolidate

import (
	"unicode/utf8"

	"horse.fit/dronewatch/internal/evidence"
	"horse.fit/dronewatch/internal/incident"
)

// MergeInto folds incoming into an already persisted incident. The persisted identity
// (ID, UUID, content hash) is kept, sources are unioned and the score is recomputed and
// never lowered. Manually set verification states survive the merge.
func MergeInto(existing, incoming incident.Consolidated, score ScoreFunc) incident.Consolidated {
	if score == nil {
		score = evidence.Score
	}

	merged := existing
	merged.Sources = MergeSources(append(append([]incident.Source(nil), existing.Sources...), incoming.Sources...))
	merged.HasOfficialQuote = existing.HasOfficialQuote || incoming.HasOfficialQuote
	merged.EvidenceScore = max(score(merged.Sources, merged.HasOfficialQuote), existing.EvidenceScore, incoming.EvidenceScore)
	merged.MergedFrom = max(existing.MergedFrom, 1) + reportsAdded(existing, incoming)

	if prefersIncoming(existing, incoming) {
		merged.Title = incoming.Title
		merged.Narrative = incoming.Narrative
		merged.Embedding = incoming.Embedding
	}
	if merged.Location == nil && incoming.Location != nil {
		copied := *incoming.Location
		merged.Location = &copied
	}
	if !incoming.OccurredAt.IsZero() && (merged.OccurredAt.IsZero() || incoming.OccurredAt.Before(merged.OccurredAt)) {
		merged.OccurredAt = incoming.OccurredAt
	}
	if merged.AssetType == "" || merged.AssetType == incident.AssetOther {
		if incoming.AssetType != "" {
			merged.AssetType = incoming.AssetType
		}
	}
	if merged.Country == "" {
		merged.Country = incoming.Country
	}

	merged.MemberHashes = unionHashes(existing, incoming)

	switch existing.VerificationStatus {
	case incident.StatusVerified, incident.StatusRejected:
	default:
		merged.VerificationStatus = incident.StatusForScore(merged.EvidenceScore)
	}
	return merged
}

func prefersIncoming(existing, incoming incident.Consolidated) bool {
	if te, ti := incident.MaxTrust(existing.Sources), incident.MaxTrust(incoming.Sources); te != ti {
		return ti > te
	}
	return utf8.RuneCountInString(incoming.Narrative) > utf8.RuneCountInString(existing.Narrative)
}

func unionHashes(existing, incoming incident.Consolidated) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, list := range [][]string{{existing.ContentHash}, existing.MemberHashes, {incoming.ContentHash}, incoming.MemberHashes} {
		for _, hash := range list {
			if hash == "" {
				continue
			}
			if _, ok := seen[hash]; ok {
				continue
			}
			seen[hash] = struct{}{}
			out = append(out, hash)
		}
	}
	return out
}

// Covers reports whether existing already holds every report in incoming: each member
// hash and each source. Merging a covered incident changes nothing.
func Covers(existing, incoming incident.Consolidated) bool {
	hashes, sources := novelty(existing, incoming)
	return hashes == 0 && sources == 0
}

// reportsAdded is how many candidates incoming contributes to merged_from. Only hashes
// existing has not seen count; a known hash from a new source counts once.
func reportsAdded(existing, incoming incident.Consolidated) int {
	hashes, sources := novelty(existing, incoming)
	switch {
	case hashes > 0 && hashes == len(hashSet(incoming)):
		return max(incoming.MergedFrom, 1)
	case hashes > 0:
		return hashes
	case sources > 0:
		return 1
	default:
		return 0
	}
}

func novelty(existing, incoming incident.Consolidated) (hashes, sources int) {
	known := hashSet(existing)
	for hash := range hashSet(incoming) {
		if _, ok := known[hash]; !ok {
			hashes++
		}
	}

	keys := make(map[string]struct{}, len(existing.Sources))
	for _, source := range existing.Sources {
		keys[source.Key()] = struct{}{}
	}
	for _, source := range incoming.Sources {
		if _, ok := keys[source.Key()]; !ok {
			keys[source.Key()] = struct{}{}
			sources++
		}
	}
	return hashes, sources
}

func hashSet(c incident.Consolidated) map[string]struct{} {
	out := make(map[string]struct{}, len(c.MemberHashes)+1)
	for _, hash := range append([]string{c.ContentHash}, c.MemberHashes...) {
		if hash != "" {
			out[hash] = struct{}{}
		}
	}
	return out
}
