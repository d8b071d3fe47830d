// Package filter implements the cheap first-layer gate that drops off-topic, stale and
// out-of-region candidates before any expensive work happens.
package filter

import (
	"fmt"
	"strings"
	"time"

	"horse.fit/dronewatch/internal/incident"
	"horse.fit/dronewatch/internal/textnorm"
)

const (
	DefaultMaxAge           = 7 * 24 * time.Hour
	DefaultHistoricalCutoff = 730 * 24 * time.Hour
	DefaultFutureSkew       = time.Hour

	StageKeyword    = "keyword"
	StageTemporal   = "temporal"
	StageGeographic = "geographic"

	ReasonNoKeywords    = "no drone keywords"
	ReasonFuture        = "future date"
	ReasonHistorical    = "historical article"
	ReasonOutsideNordic = "outside nordic region"

	// strongForeignMentions is how many distinct foreign places in the body outweigh
	// Nordic coordinates when the title itself names none.
	strongForeignMentions = 2
)

type Options struct {
	MaxAge           time.Duration
	HistoricalCutoff time.Duration
	FutureSkew       time.Duration
	DroneKeywords    []string
	ForeignKeywords  []string
	NordicBoxes      []incident.BoundingBox
}

type Input struct {
	Title      string
	Narrative  string
	OccurredAt time.Time
	Location   *incident.Location
}

func InputFromCandidate(c incident.Candidate) Input {
	return Input{
		Title:      c.Title,
		Narrative:  c.Narrative,
		OccurredAt: c.OccurredAt,
		Location:   c.Location,
	}
}

// Verdict is the gate outcome. Reason is for observability only.
type Verdict struct {
	Pass   bool
	Stage  string
	Reason string
}

func pass() Verdict { return Verdict{Pass: true} }

func reject(stage, reason string) Verdict {
	return Verdict{Stage: stage, Reason: reason}
}

type Filter struct {
	opts    Options
	drone   textnorm.Keywords
	foreign textnorm.Keywords
}

func New(opts Options) *Filter {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.HistoricalCutoff <= 0 {
		opts.HistoricalCutoff = DefaultHistoricalCutoff
	}
	if opts.HistoricalCutoff < opts.MaxAge {
		opts.HistoricalCutoff = opts.MaxAge
	}
	if opts.FutureSkew < 0 {
		opts.FutureSkew = 0
	}
	return &Filter{
		opts:    opts,
		drone:   textnorm.NewKeywords(opts.DroneKeywords),
		foreign: textnorm.NewKeywords(opts.ForeignKeywords),
	}
}

// Check runs the keyword, temporal and geographic gates in that order and stops at the
// first failure.
func (f *Filter) Check(in Input, now time.Time) Verdict {
	title := textnorm.Basic(in.Title)
	body := strings.TrimSpace(title + " " + textnorm.Basic(in.Narrative))

	if v := f.checkKeywords(body); !v.Pass {
		return v
	}
	if v := f.checkTemporal(in.OccurredAt, now); !v.Pass {
		return v
	}
	return f.checkGeographic(title, body, in.Location)
}

func (f *Filter) checkKeywords(body string) Verdict {
	if _, ok := f.drone.First(body); !ok {
		return reject(StageKeyword, ReasonNoKeywords)
	}
	return pass()
}

func (f *Filter) checkTemporal(occurredAt, now time.Time) Verdict {
	if occurredAt.IsZero() {
		return reject(StageTemporal, "missing occurred_at")
	}
	if occurredAt.After(now.Add(f.opts.FutureSkew)) {
		return reject(StageTemporal, ReasonFuture)
	}

	age := now.Sub(occurredAt)
	switch {
	case age >= f.opts.HistoricalCutoff:
		return reject(StageTemporal, ReasonHistorical)
	case age > f.opts.MaxAge:
		return reject(StageTemporal, fmt.Sprintf("too old: %d days ago", int(age/(24*time.Hour))))
	default:
		return pass()
	}
}

func (f *Filter) checkGeographic(title, body string, location *incident.Location) Verdict {
	mentions := f.foreign.All(body)

	if location == nil {
		if len(mentions) > 0 {
			return reject(StageGeographic, "foreign location: "+mentions[0])
		}
		return pass()
	}

	if keyword, inTitle := f.foreign.First(title); inTitle {
		return reject(StageGeographic, "foreign location: "+keyword)
	}
	if len(mentions) >= strongForeignMentions {
		return reject(StageGeographic, "foreign location: "+strings.Join(mentions, ", "))
	}
	if !f.InNordic(*location) {
		return reject(StageGeographic, ReasonOutsideNordic)
	}
	return pass()
}

// InNordic reports whether the location falls inside any configured box.
func (f *Filter) InNordic(location incident.Location) bool {
	for _, box := range f.opts.NordicBoxes {
		if box.Contains(location) {
			return true
		}
	}
	return false
}
