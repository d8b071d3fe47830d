package arbiter

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")
	objectPattern    = regexp.MustCompile(`(?s)\{.*\}`)
)

// parseVerdict decodes the oracle answer, tolerating code fences and prose around the
// JSON object.
func parseVerdict(text string) (Verdict, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Verdict{}, fmt.Errorf("empty arbiter response")
	}

	candidates := []string{trimmed}
	if match := codeFencePattern.FindStringSubmatch(trimmed); len(match) == 2 {
		candidates = append(candidates, strings.TrimSpace(match[1]))
	}
	if match := objectPattern.FindString(trimmed); match != "" {
		candidates = append(candidates, match)
	}

	var lastErr error
	for _, candidate := range candidates {
		var verdict Verdict
		if err := json.Unmarshal([]byte(candidate), &verdict); err != nil {
			lastErr = err
			continue
		}
		if verdict.Confidence < 0 || verdict.Confidence > 1 {
			return Verdict{}, fmt.Errorf("invalid confidence score: %.2f (must be 0.0-1.0)", verdict.Confidence)
		}
		return verdict, nil
	}
	return Verdict{}, fmt.Errorf("decode arbiter response: %w (response: %s)", lastErr, truncate(trimmed, 200))
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
