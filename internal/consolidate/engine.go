// Package consolidate folds same-batch candidates that share a quantized location and
// time cell into one incident and re-scores the merged source set.
package consolidate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"horse.fit/dronewatch/internal/evidence"
	"horse.fit/dronewatch/internal/incident"
)

const (
	DefaultPrecision = incident.DefaultGridPrecision
	DefaultWindow    = incident.DefaultHashWindow
)

// ScoreFunc computes an evidence score from a source set and the official-quote flag.
type ScoreFunc func(sources []incident.Source, hasOfficialQuote bool) int

// Scored is a candidate that passed both rejection layers, with its content hash and
// official-quote flag already computed.
type Scored struct {
	Candidate        incident.Candidate
	Hash             string
	HasOfficialQuote bool
}

type Engine struct {
	precision float64
	window    time.Duration
	score     ScoreFunc
	locks     *keyedMutex

	mu      sync.Mutex
	buckets map[string]*bucket
	order   []string
}

type bucket struct {
	members []Scored
	merged  incident.Consolidated
}

func NewEngine(precision float64, window time.Duration, score ScoreFunc) *Engine {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if score == nil {
		score = evidence.Score
	}
	return &Engine{
		precision: precision,
		window:    window,
		score:     score,
		locks:     newKeyedMutex(),
		buckets:   make(map[string]*bucket),
	}
}

func (e *Engine) Precision() float64 { return e.precision }

func (e *Engine) Window() time.Duration { return e.window }

// BucketKey returns the cell a candidate falls in: quantized coordinates and window
// start, or country and window start when the candidate has no location.
func (e *Engine) BucketKey(c incident.Candidate) string {
	windowStart := strconv.FormatInt(incident.WindowStart(c.OccurredAt, e.window).Unix(), 10)
	if c.Location == nil {
		return "country|" + strings.ToUpper(strings.TrimSpace(c.Country)) + "|" + windowStart
	}
	decimals := incident.GridDecimals(e.precision)
	lat := strconv.FormatFloat(incident.Quantize(c.Location.Lat, e.precision), 'f', decimals, 64)
	lon := strconv.FormatFloat(incident.Quantize(c.Location.Lon, e.precision), 'f', decimals, 64)
	return "geo|" + lat + "|" + lon + "|" + windowStart
}

// Consolidate merges a whole batch. Output order follows the first appearance of each
// bucket in the input. Cancellation is checked between candidates.
func (e *Engine) Consolidate(ctx context.Context, items []Scored) ([]incident.Consolidated, error) {
	batch := NewEngine(e.precision, e.window, e.score)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("consolidation cancelled: %w", err)
		}
		batch.Add(item)
	}
	return batch.Flush(), nil
}

// Add folds one candidate into its bucket. Safe for concurrent use; merges into the
// same bucket are serialized by the bucket key.
func (e *Engine) Add(item Scored) {
	key := e.BucketKey(item.Candidate)
	unlock := e.locks.Lock(key)
	defer unlock()

	e.mu.Lock()
	b, ok := e.buckets[key]
	if !ok {
		b = &bucket{}
		e.buckets[key] = b
		e.order = append(e.order, key)
	}
	e.mu.Unlock()

	b.members = append(b.members, item)
	b.merged = e.build(b.members)
}

// Flush returns the merged incidents in bucket creation order and resets the engine.
func (e *Engine) Flush() []incident.Consolidated {
	e.mu.Lock()
	buckets, order := e.buckets, e.order
	e.buckets, e.order = make(map[string]*bucket), nil
	e.mu.Unlock()

	out := make([]incident.Consolidated, 0, len(order))
	for _, key := range order {
		unlock := e.locks.Lock(key)
		out = append(out, buckets[key].merged)
		unlock()
	}
	return out
}

func (e *Engine) build(members []Scored) incident.Consolidated {
	primary := members[0]
	for _, member := range members[1:] {
		if outranks(member.Candidate, primary.Candidate) {
			primary = member
		}
	}

	var (
		sources    []incident.Source
		hashes     []string
		seenHashes = map[string]struct{}{}
		located    []incident.Location
		quote      bool
		bestMember int
		occurredAt = primary.Candidate.OccurredAt
	)
	for _, member := range members {
		sources = append(sources, member.Candidate.Sources...)
		quote = quote || member.HasOfficialQuote
		bestMember = max(bestMember, e.score(member.Candidate.Sources, member.HasOfficialQuote))
		if member.Candidate.OccurredAt.Before(occurredAt) {
			occurredAt = member.Candidate.OccurredAt
		}
		if member.Candidate.Location != nil {
			located = append(located, *member.Candidate.Location)
		}
		if _, ok := seenHashes[member.Hash]; !ok && member.Hash != "" {
			seenHashes[member.Hash] = struct{}{}
			hashes = append(hashes, member.Hash)
		}
	}

	merged := MergeSources(sources)
	score := max(e.score(merged, quote), bestMember)

	location := primary.Candidate.Location
	if location == nil {
		if centroid, ok := incident.Centroid(located); ok {
			location = &centroid
		}
	}
	if location != nil {
		copied := *location
		location = &copied
	}

	return incident.Consolidated{
		Title:              strings.TrimSpace(primary.Candidate.Title),
		Narrative:          primary.Candidate.Narrative,
		Location:           location,
		OccurredAt:         occurredAt,
		AssetType:          assetType(primary, members),
		Country:            country(primary, members),
		EvidenceScore:      score,
		HasOfficialQuote:   quote,
		VerificationStatus: incident.StatusForScore(score),
		Sources:            merged,
		MergedFrom:         len(members),
		ContentHash:        primary.Hash,
		MemberHashes:       hashes,
	}
}

// outranks reports whether a should replace b as the bucket's primary: higher single
// source trust, then longer narrative, then earlier occurred_at.
func outranks(a, b incident.Candidate) bool {
	if ta, tb := a.MaxTrust(), b.MaxTrust(); ta != tb {
		return ta > tb
	}
	if la, lb := utf8.RuneCountInString(a.Narrative), utf8.RuneCountInString(b.Narrative); la != lb {
		return la > lb
	}
	return a.OccurredAt.Before(b.OccurredAt)
}

func assetType(primary Scored, members []Scored) incident.AssetType {
	if t := primary.Candidate.AssetType; t != "" && t != incident.AssetOther {
		return t
	}
	for _, member := range members {
		if t := member.Candidate.AssetType; t != "" && t != incident.AssetOther {
			return t
		}
	}
	return incident.AssetOther
}

func country(primary Scored, members []Scored) string {
	if c := strings.TrimSpace(primary.Candidate.Country); c != "" {
		return strings.ToUpper(c)
	}
	for _, member := range members {
		if c := strings.TrimSpace(member.Candidate.Country); c != "" {
			return strings.ToUpper(c)
		}
	}
	return ""
}

// MergeSources dedupes by (name, type), keeping the highest trust entry and the first
// non-empty quote, and sorts by trust descending then name.
func MergeSources(sources []incident.Source) []incident.Source {
	index := make(map[string]int, len(sources))
	merged := make([]incident.Source, 0, len(sources))
	for _, source := range sources {
		key := source.Key()
		i, ok := index[key]
		if !ok {
			index[key] = len(merged)
			merged = append(merged, source)
			continue
		}
		existing := merged[i]
		if source.TrustWeight > existing.TrustWeight {
			if source.Quote == nil {
				source.Quote = existing.Quote
			}
			merged[i] = source
			continue
		}
		if existing.Quote == nil && source.Quote != nil {
			merged[i].Quote = source.Quote
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].TrustWeight != merged[j].TrustWeight {
			return merged[i].TrustWeight > merged[j].TrustWeight
		}
		return strings.ToLower(merged[i].Name) < strings.ToLower(merged[j].Name)
	})
	return merged
}
