package classify

import (
	"math"
	"strings"

	"horse.fit/dronewatch/internal/config"
	"horse.fit/dronewatch/internal/textnorm"
)

// AcceptThreshold is the non-incident confidence at or above which a candidate is
// rejected regardless of its category.
const AcceptThreshold = 0.5

type NonIncidentResult struct {
	Confidence float64
	Reasons    []string
	// Discount is the multiplier applied for concrete incident language, 1 when none.
	Discount float64
}

type NonIncidentFilter struct {
	patterns []compiledRule
	evidence []compiledRule
}

func NewNonIncidentFilter(patterns, incidentEvidence []config.PatternRule) (*NonIncidentFilter, error) {
	compiled, err := compileRules("non_incident", patterns)
	if err != nil {
		return nil, err
	}
	evidence, err := compileRules("incident_evidence", incidentEvidence)
	if err != nil {
		return nil, err
	}
	return &NonIncidentFilter{patterns: compiled, evidence: evidence}, nil
}

// Score combines matched pattern weights as a probabilistic OR, then multiplies the
// result once by the strongest incident-evidence discount found in the text.
func (f *NonIncidentFilter) Score(title, narrative string) NonIncidentResult {
	text := strings.TrimSpace(textnorm.Basic(title) + " " + textnorm.Basic(narrative))
	result := NonIncidentResult{Discount: 1}

	miss := 1.0
	for _, rule := range f.patterns {
		if !rule.pattern.MatchString(text) {
			continue
		}
		weight := math.Min(math.Max(rule.weight, 0), 1)
		miss *= 1 - weight
		result.Reasons = append(result.Reasons, rule.label)
	}
	if len(result.Reasons) == 0 {
		return result
	}

	for _, rule := range f.evidence {
		if rule.pattern.MatchString(text) && rule.weight < result.Discount {
			result.Discount = rule.weight
		}
	}
	result.Confidence = math.Min(1, (1-miss)*result.Discount)
	return result
}

// Accept reports whether a candidate passes the second layer: classified as an incident
// and not confidently flagged as something else.
func Accept(classification Classification, nonIncident NonIncidentResult) bool {
	return classification.Category == CategoryIncident && nonIncident.Confidence < AcceptThreshold
}

// Rejection names the stage and reason for a candidate Accept refused. When both filters
// fire, a confident non-incident verdict is reported over the category.
func Rejection(classification Classification, nonIncident NonIncidentResult) (stage, reason string) {
	if nonIncident.Confidence >= AcceptThreshold {
		return StageNonIncident, "non-incident: " + strings.Join(nonIncident.Reasons, ", ")
	}
	return StageClassifier, "category " + string(classification.Category)
}
