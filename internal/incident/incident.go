package incident

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// ErrMalformed marks a candidate that is missing required fields or carries values
// outside their domain. Malformed candidates are dropped, never persisted.
var ErrMalformed = errors.New("malformed candidate")

type SourceType string

const (
	SourcePolice   SourceType = "police"
	SourceMedia    SourceType = "media"
	SourceSocial   SourceType = "social"
	SourceOfficial SourceType = "official"
)

func (t SourceType) Valid() bool {
	switch t {
	case SourcePolice, SourceMedia, SourceSocial, SourceOfficial:
		return true
	default:
		return false
	}
}

type AssetType string

const (
	AssetAirport  AssetType = "airport"
	AssetHarbor   AssetType = "harbor"
	AssetMilitary AssetType = "military"
	AssetOther    AssetType = "other"
)

func (t AssetType) Valid() bool {
	switch t {
	case AssetAirport, AssetHarbor, AssetMilitary, AssetOther:
		return true
	default:
		return false
	}
}

type VerificationStatus string

const (
	StatusPending      VerificationStatus = "pending"
	StatusAutoVerified VerificationStatus = "auto_verified"
	StatusVerified     VerificationStatus = "verified"
	StatusRejected     VerificationStatus = "rejected"
)

const (
	MinTrustWeight = 1
	MaxTrustWeight = 4
)

type Source struct {
	URL         string     `json:"url"`
	Name        string     `json:"name"`
	Type        SourceType `json:"type"`
	TrustWeight int        `json:"trust_weight"`
	Quote       *string    `json:"quote,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Key identifies a source for deduplication inside a merged incident.
func (s Source) Key() string {
	return strings.ToLower(strings.TrimSpace(s.Name)) + "|" + string(s.Type)
}

// Host returns the lowercase host of the source URL without a leading "www.".
func (s Source) Host() string {
	parsed, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (l Location) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lon) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// Candidate is one connector's report before classification and deduplication.
type Candidate struct {
	Title      string    `json:"title"`
	Narrative  string    `json:"narrative"`
	OccurredAt time.Time `json:"occurred_at"`
	Location   *Location `json:"location,omitempty"`
	AssetType  AssetType `json:"asset_type"`
	Country    string    `json:"country"`
	Sources    []Source  `json:"sources"`
}

func (c Candidate) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrMalformed)
	}
	if c.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurred_at is required", ErrMalformed)
	}
	if c.Location != nil && !c.Location.Valid() {
		return fmt.Errorf("%w: location out of range (%f,%f)", ErrMalformed, c.Location.Lat, c.Location.Lon)
	}
	if c.AssetType != "" && !c.AssetType.Valid() {
		return fmt.Errorf("%w: unknown asset_type %q", ErrMalformed, c.AssetType)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: at least one source is required", ErrMalformed)
	}
	for i, source := range c.Sources {
		if strings.TrimSpace(source.Name) == "" {
			return fmt.Errorf("%w: sources[%d].name must not be empty", ErrMalformed, i)
		}
		if !source.Type.Valid() {
			return fmt.Errorf("%w: sources[%d].type %q is not supported", ErrMalformed, i, source.Type)
		}
		if source.TrustWeight < MinTrustWeight || source.TrustWeight > MaxTrustWeight {
			return fmt.Errorf("%w: sources[%d].trust_weight %d outside [%d,%d]", ErrMalformed, i, source.TrustWeight, MinTrustWeight, MaxTrustWeight)
		}
	}
	return nil
}

// MaxTrust returns the highest trust weight among the candidate's sources.
func (c Candidate) MaxTrust() int {
	return MaxTrust(c.Sources)
}

func MaxTrust(sources []Source) int {
	best := 0
	for _, source := range sources {
		if source.TrustWeight > best {
			best = source.TrustWeight
		}
	}
	return best
}

// Consolidated is the merged record representing one real-world event.
type Consolidated struct {
	ID                 int64              `json:"id,omitempty"`
	UUID               string             `json:"uuid,omitempty"`
	Title              string             `json:"title"`
	Narrative          string             `json:"narrative"`
	Location           *Location          `json:"location,omitempty"`
	OccurredAt         time.Time          `json:"occurred_at"`
	AssetType          AssetType          `json:"asset_type"`
	Country            string             `json:"country"`
	EvidenceScore      int                `json:"evidence_score"`
	HasOfficialQuote   bool               `json:"has_official_quote"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	Sources            []Source           `json:"sources"`
	MergedFrom         int                `json:"merged_from"`
	ContentHash        string             `json:"content_hash"`
	MemberHashes       []string           `json:"member_hashes,omitempty"`
	Embedding          []float64          `json:"-"`
}

// StatusForScore maps an evidence score to the status a fresh or re-scored incident gets.
// Manual states (verified, rejected) are never produced here.
func StatusForScore(score int) VerificationStatus {
	if score >= MaxTrustWeight {
		return StatusAutoVerified
	}
	return StatusPending
}
