package textnorm

import "strings"

// Keywords matches normalized text against single words, prefix stems ("drone*") and
// multi-word phrases. Entries are normalized with Basic when the set is built.
type Keywords struct {
	words    map[string]string
	prefixes []string
	phrases  []string
}

func NewKeywords(keywords []string) Keywords {
	set := Keywords{words: map[string]string{}}
	for _, raw := range keywords {
		stem := strings.HasSuffix(strings.TrimSpace(raw), "*")
		normalized := Basic(strings.TrimSuffix(strings.TrimSpace(raw), "*"))
		if normalized == "" {
			continue
		}
		switch {
		case strings.Contains(normalized, " "):
			set.phrases = append(set.phrases, normalized)
		case stem:
			set.prefixes = append(set.prefixes, normalized)
		default:
			set.words[normalized] = normalized
		}
	}
	return set
}

func (k Keywords) Empty() bool {
	return len(k.words) == 0 && len(k.prefixes) == 0 && len(k.phrases) == 0
}

// First returns the first keyword found in normalized text, in text order for words and
// stems and list order for phrases.
func (k Keywords) First(normalized string) (string, bool) {
	if normalized == "" {
		return "", false
	}
	for _, token := range strings.Split(normalized, " ") {
		if keyword, ok := k.words[token]; ok {
			return keyword, true
		}
		for _, prefix := range k.prefixes {
			if strings.HasPrefix(token, prefix) {
				return prefix + "*", true
			}
		}
	}
	padded := " " + normalized + " "
	for _, phrase := range k.phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return phrase, true
		}
	}
	return "", false
}

// All returns every distinct keyword present in normalized text.
func (k Keywords) All(normalized string) []string {
	if normalized == "" {
		return nil
	}
	seen := map[string]struct{}{}
	var found []string
	add := func(keyword string) {
		if _, ok := seen[keyword]; ok {
			return
		}
		seen[keyword] = struct{}{}
		found = append(found, keyword)
	}
	for _, token := range strings.Split(normalized, " ") {
		if keyword, ok := k.words[token]; ok {
			add(keyword)
		}
		for _, prefix := range k.prefixes {
			if strings.HasPrefix(token, prefix) {
				add(prefix + "*")
			}
		}
	}
	padded := " " + normalized + " "
	for _, phrase := range k.phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			add(phrase)
		}
	}
	return found
}
