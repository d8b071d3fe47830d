// Package fuzzy is the first, in-process duplicate tier: synonym-aware title
// normalization and a Ratcliff/Obershelp similarity ratio.
package fuzzy

import (
	"strings"

	"horse.fit/dronewatch/internal/textnorm"
)

const DefaultThreshold = 0.75

type Matcher struct {
	synonyms  *textnorm.SynonymTable
	threshold float64
}

type Match struct {
	Index     int
	Candidate string
	Score     float64
}

func NewMatcher(synonyms *textnorm.SynonymTable, threshold float64) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{synonyms: synonyms, threshold: threshold}
}

func (m *Matcher) Threshold() float64 { return m.threshold }

// Normalize lowercases, strips punctuation, appends synonyms of every token, drops
// repeated tokens keeping the first and joins with single spaces. Applying it twice
// gives the same result as applying it once.
func (m *Matcher) Normalize(title string) string {
	tokens := textnorm.Tokens(textnorm.Basic(title))
	return strings.Join(m.synonyms.Expand(tokens), " ")
}

// Similarity compares two raw titles after normalization.
func (m *Matcher) Similarity(a, b string) float64 {
	return Ratio(m.Normalize(a), m.Normalize(b))
}

func (m *Matcher) IsMatch(a, b string) bool {
	return m.Similarity(a, b) >= m.threshold
}

// FindBestMatch scans candidates linearly and returns the highest scoring one at or
// above the threshold. The first candidate wins ties.
func (m *Matcher) FindBestMatch(query string, candidates []string) (Match, bool) {
	normalizedQuery := m.Normalize(query)
	best := Match{Index: -1}
	for i, candidate := range candidates {
		score := Ratio(normalizedQuery, m.Normalize(candidate))
		if score < m.threshold || (best.Index >= 0 && score <= best.Score) {
			continue
		}
		best = Match{Index: i, Candidate: candidate, Score: score}
	}
	return best, best.Index >= 0
}
