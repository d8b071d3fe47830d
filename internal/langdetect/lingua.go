// Package langdetect guesses the language of incident text so attribution phrases can be
// matched against the right phrase list.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minLetters below which detection is not attempted; short snippets are too noisy.
const minLetters = 6

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// supported is the set the ingestion core sees: Nordic newsrooms, English wire copy and
// German coverage of the Baltic region.
var supported = []lingua.Language{
	lingua.English,
	lingua.Danish,
	lingua.Swedish,
	lingua.Bokmal,
	lingua.Nynorsk,
	lingua.Finnish,
	lingua.Icelandic,
	lingua.German,
}

// DetectISO6391 returns the lowercase ISO 639-1 code of text, or "" when unsure.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(supported...).
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}

// NormalizeCode returns the primary language subtag (for example, "nb" from "nb_NO").
// The macro code "no" maps to "nb".
func NormalizeCode(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	trimmed = strings.ReplaceAll(trimmed, "_", "-")
	if dash := strings.IndexByte(trimmed, '-'); dash >= 0 {
		trimmed = trimmed[:dash]
	}
	if trimmed == "" || !isAlphaLower(trimmed) {
		return ""
	}
	if trimmed == "no" {
		return "nb"
	}
	return trimmed
}

// Family returns code plus the languages close enough that their attribution phrases are
// interchangeable. Danish and both written Norwegians read each other's newswire.
func Family(code string) []string {
	code = NormalizeCode(code)
	switch code {
	case "":
		return nil
	case "da", "nb", "nn":
		family := []string{code}
		for _, member := range []string{"da", "nb", "nn"} {
			if member != code {
				family = append(family, member)
			}
		}
		return family
	default:
		return []string{code}
	}
}

func isAlphaLower(value string) bool {
	for _, r := range value {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
