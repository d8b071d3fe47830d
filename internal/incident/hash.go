package incident

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	DefaultGridPrecision = 0.01
	DefaultHashWindow    = 6 * time.Hour

	hashSchemeVersion = "v1"
)

// ContentHash derives the canonical identity of a physical report: location snapped to
// the grid, occurred_at floored to the window, normalized title and country.
func ContentHash(c Candidate, grid float64, window time.Duration) string {
	if grid <= 0 {
		grid = DefaultGridPrecision
	}
	if window <= 0 {
		window = DefaultHashWindow
	}

	lat, lon := "-", "-"
	if c.Location != nil {
		decimals := GridDecimals(grid)
		lat = strconv.FormatFloat(Quantize(c.Location.Lat, grid), 'f', decimals, 64)
		lon = strconv.FormatFloat(Quantize(c.Location.Lon, grid), 'f', decimals, 64)
	}

	parts := []string{
		hashSchemeVersion,
		lat,
		lon,
		strconv.FormatInt(WindowStart(c.OccurredAt, window).Unix(), 10),
		hashTitle(c.Title),
		strings.ToUpper(strings.TrimSpace(c.Country)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ReportKey identifies one source's report of the physical event behind contentHash.
// A second outlet reporting the same event gets a different key.
func ReportKey(contentHash string, source Source) string {
	sum := sha256.Sum256([]byte(hashSchemeVersion + "|" + contentHash + "|" + source.Key()))
	return hex.EncodeToString(sum[:])
}

// Quantize snaps a coordinate to the nearest multiple of grid.
func Quantize(value, grid float64) float64 {
	if grid <= 0 {
		return value
	}
	q := math.Round(value/grid) * grid
	if q == 0 {
		return 0
	}
	return q
}

// GridDecimals returns how many decimals are needed to print a grid-snapped value.
func GridDecimals(grid float64) int {
	decimals := 0
	for scaled := grid; decimals < 8 && math.Abs(scaled-math.Round(scaled)) > 1e-9; decimals++ {
		scaled *= 10
	}
	return decimals
}

// WindowStart floors t (in UTC) to the start of its window.
func WindowStart(t time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return t.UTC()
	}
	return t.UTC().Truncate(window)
}

func hashTitle(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return strings.Join(fields, " ")
}
