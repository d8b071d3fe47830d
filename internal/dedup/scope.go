package dedup

import (
	"strings"
	"time"

	"horse.fit/dronewatch/internal/incident"
)

// WithinScope reports whether b is close enough to a in space and time to be a duplicate
// candidate. Located pairs use the haversine distance; otherwise the countries must match.
func WithinScope(a, b incident.Consolidated, radiusKm float64, window time.Duration) bool {
	delta := a.OccurredAt.Sub(b.OccurredAt)
	if delta < 0 {
		delta = -delta
	}
	if delta > window {
		return false
	}
	if a.Location != nil && b.Location != nil {
		return incident.HaversineKm(*a.Location, *b.Location) <= radiusKm
	}
	return strings.EqualFold(strings.TrimSpace(a.Country), strings.TrimSpace(b.Country)) &&
		strings.TrimSpace(a.Country) != ""
}
