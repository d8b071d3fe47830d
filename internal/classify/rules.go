package classify

import (
	"fmt"
	"regexp"

	"horse.fit/dronewatch/internal/config"
)

// compiledRule pairs a pattern with its weight and the label reported as a signal.
type compiledRule struct {
	label   string
	pattern *regexp.Regexp
	weight  float64
}

func compileRules(section string, rules []config.PatternRule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		pattern, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %s[%d] (%s): %w", section, i, rule.Label, err)
		}
		label := rule.Label
		if label == "" {
			label = fmt.Sprintf("%s_%d", section, i)
		}
		compiled = append(compiled, compiledRule{label: label, pattern: pattern, weight: rule.Weight})
	}
	return compiled, nil
}
