// Package evidence maps a source set to the 1-4 evidence tier and detects official
// attribution in incident text.
package evidence

import "horse.fit/dronewatch/internal/incident"

const (
	ScoreUnconfirmed  = 1
	ScoreReported     = 2
	ScoreCorroborated = 3
	ScoreOfficial     = 4
)

// Score is a pure function of the source set and the official-quote flag. Sources that
// share a (name, type) key count once, so one outlet listed twice is not corroboration.
func Score(sources []incident.Source, hasOfficialQuote bool) int {
	best := map[string]int{}
	for _, source := range sources {
		key := source.Key()
		if source.TrustWeight > best[key] {
			best[key] = source.TrustWeight
		}
	}

	credible, reported := 0, false
	for _, trust := range best {
		switch {
		case trust >= incident.MaxTrustWeight:
			return ScoreOfficial
		case trust == 3:
			credible++
		case trust == 2:
			reported = true
		}
	}

	switch {
	case credible >= 2:
		return ScoreCorroborated
	case credible == 1 && hasOfficialQuote:
		return ScoreCorroborated
	case credible == 1, reported:
		return ScoreReported
	default:
		return ScoreUnconfirmed
	}
}
