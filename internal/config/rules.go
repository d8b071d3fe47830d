package config

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"horse.fit/dronewatch/internal/incident"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rules holds the tables that drive filtering, classification, trust and quote
// detection. They live in YAML so operators can tune them without a release.
type Rules struct {
	Synonyms         [][]string               `yaml:"synonyms"`
	DroneKeywords    []string                 `yaml:"drone_keywords"`
	ForeignKeywords  []string                 `yaml:"foreign_keywords"`
	NordicBoxes      []incident.BoundingBox   `yaml:"nordic_boxes"`
	TrustedSources   []TrustedSource          `yaml:"trusted_sources"`
	QuotePhrases     map[string][]string      `yaml:"quote_phrases"`
	Classifier       map[string][]PatternRule `yaml:"classifier"`
	NonIncident      []PatternRule            `yaml:"non_incident"`
	IncidentEvidence []PatternRule            `yaml:"incident_evidence"`
}

type TrustedSource struct {
	Domain      string `yaml:"domain"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	TrustWeight int    `yaml:"trust_weight"`
}

// PatternRule is a case-insensitive regular expression evaluated against normalized text.
type PatternRule struct {
	Label   string  `yaml:"label"`
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

// LoadRules parses the YAML file at path, or the embedded defaults when path is empty.
func LoadRules(path string) (*Rules, error) {
	raw := defaultRulesYAML
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		data, err := os.ReadFile(trimmed)
		if err != nil {
			return nil, fmt.Errorf("read rules file %s: %w", trimmed, err)
		}
		raw = data
	}
	return ParseRules(raw)
}

func ParseRules(raw []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("decode rules yaml: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("rules validation failed: %w", err)
	}
	return &rules, nil
}

// DefaultRules returns the embedded rule set. It panics only if the embedded file is
// broken, which the package tests guard against.
func DefaultRules() *Rules {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rules.yaml is invalid: %v", err))
	}
	return rules
}

func (r *Rules) Validate() error {
	if r == nil {
		return fmt.Errorf("rules are nil")
	}
	if len(r.DroneKeywords) == 0 {
		return fmt.Errorf("drone_keywords must not be empty")
	}
	if len(r.NordicBoxes) == 0 {
		return fmt.Errorf("nordic_boxes must not be empty")
	}
	for i, box := range r.NordicBoxes {
		if box.MinLat >= box.MaxLat || box.MinLon >= box.MaxLon {
			return fmt.Errorf("nordic_boxes[%d] (%s) has inverted bounds", i, box.Name)
		}
	}
	for i, source := range r.TrustedSources {
		if strings.TrimSpace(source.Domain) == "" {
			return fmt.Errorf("trusted_sources[%d].domain must not be empty", i)
		}
		if source.TrustWeight < incident.MinTrustWeight || source.TrustWeight > incident.MaxTrustWeight {
			return fmt.Errorf("trusted_sources[%d].trust_weight must be in [1,4]", i)
		}
		if source.Type != "" && !incident.SourceType(source.Type).Valid() {
			return fmt.Errorf("trusted_sources[%d].type %q is not supported", i, source.Type)
		}
	}
	for category, patterns := range r.Classifier {
		if err := validatePatterns("classifier."+category, patterns); err != nil {
			return err
		}
	}
	if err := validatePatterns("non_incident", r.NonIncident); err != nil {
		return err
	}
	return validatePatterns("incident_evidence", r.IncidentEvidence)
}

func validatePatterns(section string, patterns []PatternRule) error {
	for i, rule := range patterns {
		if strings.TrimSpace(rule.Pattern) == "" {
			return fmt.Errorf("%s[%d].pattern must not be empty", section, i)
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("%s[%d].pattern: %w", section, i, err)
		}
		if rule.Weight < 0 {
			return fmt.Errorf("%s[%d].weight must be >= 0", section, i)
		}
	}
	return nil
}

// TrustFor looks up the configured entry for a source host. Subdomains match their parent.
func (r *Rules) TrustFor(host string) (TrustedSource, bool) {
	if r == nil {
		return TrustedSource{}, false
	}
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
	if host == "" {
		return TrustedSource{}, false
	}
	for _, source := range r.TrustedSources {
		domain := strings.ToLower(strings.TrimSpace(source.Domain))
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return source, true
		}
	}
	return TrustedSource{}, false
}
