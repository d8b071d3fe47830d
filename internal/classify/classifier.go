// Package classify holds the second rejection layer: a weighted category classifier and
// an independent non-incident confidence filter. A candidate survives only when both
// agree it describes an incident.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"horse.fit/dronewatch/internal/config"
	"horse.fit/dronewatch/internal/textnorm"
)

type Category string

const (
	CategoryIncident Category = "incident"
	CategoryPolicy   Category = "policy"
	CategoryDefense  Category = "defense-deployment"
	CategoryDrill    Category = "drill"
	CategoryOpinion  Category = "opinion"
)

// nonIncidentOrder fixes tie-breaking between non-incident categories.
var nonIncidentOrder = []Category{CategoryPolicy, CategoryDefense, CategoryDrill, CategoryOpinion}

func (c Category) Valid() bool {
	switch c {
	case CategoryIncident, CategoryPolicy, CategoryDefense, CategoryDrill, CategoryOpinion:
		return true
	default:
		return false
	}
}

const (
	// DefaultForeignPenalty is subtracted from the incident score per distinct foreign
	// place named in the text.
	DefaultForeignPenalty = 0.5

	StageClassifier  = "classifier"
	StageNonIncident = "non_incident"
)

type Classification struct {
	Category Category
	Scores   map[Category]float64
	Signals  []string
}

type Classifier struct {
	rules          map[Category][]compiledRule
	foreign        textnorm.Keywords
	foreignPenalty float64
}

// NewClassifier compiles the per-category rules. Unknown category names are an error so
// a typo in the rules file cannot silently disable a category.
func NewClassifier(rules map[string][]config.PatternRule, foreignKeywords []string) (*Classifier, error) {
	compiled := make(map[Category][]compiledRule, len(rules))
	for name, list := range rules {
		category := Category(strings.ToLower(strings.TrimSpace(name)))
		if !category.Valid() {
			return nil, fmt.Errorf("unknown classifier category %q", name)
		}
		set, err := compileRules("classifier."+string(category), list)
		if err != nil {
			return nil, err
		}
		compiled[category] = set
	}
	return &Classifier{
		rules:          compiled,
		foreign:        textnorm.NewKeywords(foreignKeywords),
		foreignPenalty: DefaultForeignPenalty,
	}, nil
}

// Classify scores every category and picks the highest. Incident wins ties as long as it
// scored at all; with no signal the candidate stays an incident because the keyword gate
// already established drone relevance.
func (c *Classifier) Classify(title, narrative string) Classification {
	text := strings.TrimSpace(textnorm.Basic(title) + " " + textnorm.Basic(narrative))
	result := Classification{Scores: make(map[Category]float64, len(c.rules)+1)}

	categories := append([]Category{CategoryIncident}, nonIncidentOrder...)
	for _, category := range categories {
		for _, rule := range c.rules[category] {
			if rule.pattern.MatchString(text) {
				result.Scores[category] += rule.weight
				result.Signals = append(result.Signals, string(category)+":"+rule.label)
			}
		}
	}

	if mentions := c.foreign.All(text); len(mentions) > 0 {
		penalty := c.foreignPenalty * float64(len(mentions))
		result.Scores[CategoryIncident] -= penalty
		if result.Scores[CategoryIncident] < 0 {
			result.Scores[CategoryIncident] = 0
		}
		for _, mention := range mentions {
			result.Signals = append(result.Signals, "foreign:"+mention)
		}
	}

	result.Category = pick(result.Scores)
	return result
}

func pick(scores map[Category]float64) Category {
	incident := scores[CategoryIncident]
	best, bestScore := CategoryIncident, incident
	for _, category := range nonIncidentOrder {
		if scores[category] > bestScore {
			best, bestScore = category, scores[category]
		}
	}
	return best
}

// SortedSignals returns a copy of the signals in lexical order, for stable logging.
func (c Classification) SortedSignals() []string {
	out := append([]string(nil), c.Signals...)
	sort.Strings(out)
	return out
}
