// Package textnorm holds the text normalization shared by the filters, the classifier
// and the fuzzy matcher.
package textnorm

import (
	"bytes"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"

	readability "codeberg.org/readeck/go-readability/v2"
)

var (
	htmlTagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	htmlMarkupPattern = regexp.MustCompile(`(?i)<(p|div|br|span|a|b|i|em|strong|article|section|html|body|ul|li|h[1-6])[\s/>]`)
	htmlEntityPattern = regexp.MustCompile(`&(nbsp|amp|lt|gt|quot|#39|#x27);`)
)

var htmlEntities = map[string]string{
	"&nbsp;": " ",
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": `"`,
	"&#39;":  "'",
	"&#x27;": "'",
}

// sanitizeBaseURL anchors relative links for readability; the URL is never fetched.
var sanitizeBaseURL = &url.URL{Scheme: "https", Host: "dronewatch.invalid", Path: "/"}

// Basic lowercases text, strips HTML tags and control characters, turns every rune that
// is not a letter or digit into a separator and collapses runs of separators into one
// space.
func Basic(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	stripped := htmlTagPattern.ReplaceAllString(text, " ")
	stripped = decodeEntities(stripped)
	return strings.Join(Tokens(stripped), " ")
}

// Tokens splits text into lowercase letter/digit runs.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Sanitize turns connector-supplied narrative into plain text. Markup goes through
// readability first; when that yields nothing the tags are stripped instead.
func Sanitize(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	if !htmlMarkupPattern.MatchString(trimmed) {
		return CleanText(removeControl(trimmed))
	}

	if article, err := readability.FromReader(strings.NewReader(trimmed), sanitizeBaseURL); err == nil {
		var rendered bytes.Buffer
		if err := article.RenderText(&rendered); err == nil {
			if clean := CleanText(removeControl(rendered.String())); clean != "" {
				return clean
			}
		}
	}

	stripped := htmlTagPattern.ReplaceAllString(trimmed, " ")
	return CleanText(removeControl(decodeEntities(stripped)))
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}
	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

func removeControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}

func decodeEntities(text string) string {
	return htmlEntityPattern.ReplaceAllStringFunc(text, func(entity string) string {
		if decoded, ok := htmlEntities[strings.ToLower(entity)]; ok {
			return decoded
		}
		return " "
	})
}

// SynonymTable maps each known token to its equivalence class. Overlapping groups are
// merged so that expansion is closed: expanding an expanded token list adds nothing.
type SynonymTable struct {
	classes map[string][]string
}

// NewSynonymTable builds the table from configured groups. Entries that normalize to
// more than one token are skipped because expansion works token by token.
func NewSynonymTable(groups [][]string) *SynonymTable {
	parent := map[string]string{}
	order := map[string]int{}
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if order[ra] <= order[rb] {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}

	for _, group := range groups {
		var first string
		for _, raw := range group {
			tokens := Tokens(raw)
			if len(tokens) != 1 {
				continue
			}
			token := tokens[0]
			if _, seen := parent[token]; !seen {
				parent[token] = token
				order[token] = len(order)
			}
			if first == "" {
				first = token
				continue
			}
			union(first, token)
		}
	}

	members := map[string][]string{}
	for token := range parent {
		root := find(token)
		members[root] = append(members[root], token)
	}
	classes := make(map[string][]string, len(parent))
	for _, list := range members {
		sort.Slice(list, func(i, j int) bool { return order[list[i]] < order[list[j]] })
		for _, token := range list {
			classes[token] = list
		}
	}
	return &SynonymTable{classes: classes}
}

// Synonyms returns the class of token including the token itself, or nil.
func (t *SynonymTable) Synonyms(token string) []string {
	if t == nil {
		return nil
	}
	return t.classes[token]
}

// Expand appends the synonyms of every token after it and drops repeated tokens,
// keeping the first occurrence.
func (t *SynonymTable) Expand(tokens []string) []string {
	out := make([]string, 0, len(tokens)*2)
	seen := make(map[string]struct{}, len(tokens)*2)
	add := func(token string) {
		if _, ok := seen[token]; ok {
			return
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	for _, token := range tokens {
		add(token)
		for _, synonym := range t.Synonyms(token) {
			add(synonym)
		}
	}
	return out
}

// Canonical maps a token to the first member of its class, or returns it unchanged.
func (t *SynonymTable) Canonical(token string) string {
	if class := t.Synonyms(token); len(class) > 0 {
		return class[0]
	}
	return token
}
