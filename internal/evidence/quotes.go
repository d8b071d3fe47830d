package evidence

import (
	"sort"
	"strings"

	"horse.fit/dronewatch/internal/incident"
	"horse.fit/dronewatch/internal/langdetect"
	"horse.fit/dronewatch/internal/textnorm"
)

const fallbackLanguage = "en"

// QuoteDetector looks for police or authority attribution ("politiet oplyser",
// "according to police") in a narrative and its source quotes.
type QuoteDetector struct {
	phrases map[string][]string
	order   []string
	detect  func(string) string
}

// NewQuoteDetector normalizes the configured phrase lists. Keys are language codes.
func NewQuoteDetector(phrases map[string][]string) *QuoteDetector {
	d := &QuoteDetector{
		phrases: make(map[string][]string, len(phrases)),
		detect:  langdetect.DetectISO6391,
	}
	for rawCode, list := range phrases {
		code := langdetect.NormalizeCode(rawCode)
		if code == "" {
			continue
		}
		for _, phrase := range list {
			if normalized := textnorm.Basic(phrase); normalized != "" {
				d.phrases[code] = append(d.phrases[code], normalized)
			}
		}
	}
	for code := range d.phrases {
		d.order = append(d.order, code)
	}
	sort.Strings(d.order)
	return d
}

// HasOfficialQuote reports whether the candidate carries official attribution. A verbatim
// quote from a police or official source counts on its own; otherwise the text is
// scanned with the phrase lists for its detected language family plus English, or with
// every list when the language cannot be determined.
func (d *QuoteDetector) HasOfficialQuote(narrative string, sources []incident.Source) bool {
	parts := []string{narrative}
	for _, source := range sources {
		if source.Quote == nil || strings.TrimSpace(*source.Quote) == "" {
			continue
		}
		if source.Type == incident.SourcePolice || source.Type == incident.SourceOfficial {
			return true
		}
		parts = append(parts, *source.Quote)
	}

	text := textnorm.Basic(strings.Join(parts, " "))
	if text == "" || d == nil {
		return false
	}
	padded := " " + text + " "
	for _, code := range d.languagesFor(text) {
		for _, phrase := range d.phrases[code] {
			if strings.Contains(padded, " "+phrase+" ") {
				return true
			}
		}
	}
	return false
}

func (d *QuoteDetector) languagesFor(text string) []string {
	family := langdetect.Family(d.detect(text))
	if len(family) == 0 {
		return d.order
	}
	for _, code := range family {
		if code == fallbackLanguage {
			return family
		}
	}
	return append(family, fallbackLanguage)
}
