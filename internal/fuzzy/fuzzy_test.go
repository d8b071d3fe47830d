package fuzzy

import (
	"math"
	"testing"

	"horse.fit/dronewatch/internal/config"
	"horse.fit/dronewatch/internal/textnorm"
)

func newTestMatcher() *Matcher {
	return NewMatcher(textnorm.NewSynonymTable(config.DefaultRules().Synonyms), DefaultThreshold)
}

func TestRatio_KnownValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"abc", "", 0},
		{"abcd", "bcde", 0.75},
		{"drone", "drone", 1},
		{"abc", "xyz", 0},
	}
	for _, tc := range cases {
		if got := Ratio(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Ratio(%q, %q) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	t.Parallel()

	m := newTestMatcher()
	titles := []string{
		"Drones spotted over Copenhagen Airport",
		"UAV sighted over Copenhagen airfield",
		"Droner set over Aalborg Lufthavn",
		"Flights halted at Oslo airport after drone sighting",
		"abab",
		"baba",
		"",
		"Police investigate drone over naval base",
	}
	for _, a := range titles {
		for _, b := range titles {
			if ab, ba := m.Similarity(a, b), m.Similarity(b, a); ab != ba {
				t.Fatalf("similarity not symmetric for %q / %q: %f vs %f", a, b, ab, ba)
			}
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	m := newTestMatcher()
	for _, title := range []string{
		"Drones SPOTTED over Copenhagen Airport!!",
		"Havnen i Aarhus lukket efter droneobservation",
		"UAV, UAV and more UAVs",
		"",
	} {
		once := m.Normalize(title)
		if twice := m.Normalize(once); twice != once {
			t.Fatalf("normalize not idempotent for %q: %q -> %q", title, once, twice)
		}
	}
}

func TestNormalize_ExpandsSynonyms(t *testing.T) {
	t.Parallel()

	m := NewMatcher(textnorm.NewSynonymTable([][]string{{"drone", "uav"}, {"airport", "airfield"}}), 0)
	if got := m.Normalize("UAV over the Airport, UAV!"); got != "uav drone over the airport airfield" {
		t.Fatalf("unexpected normalized title %q", got)
	}
	if m.Threshold() != DefaultThreshold {
		t.Fatalf("expected invalid threshold to fall back to default, got %f", m.Threshold())
	}
}

func TestIsMatch(t *testing.T) {
	t.Parallel()

	m := newTestMatcher()
	if !m.IsMatch("Drones spotted over Copenhagen Airport", "drones spotted over Copenhagen airport tonight") {
		t.Fatalf("expected near-identical titles to match")
	}
	if m.IsMatch("Drones spotted over Copenhagen Airport", "Minister presents budget for hospitals") {
		t.Fatalf("did not expect unrelated titles to match")
	}
}

func TestFindBestMatch(t *testing.T) {
	t.Parallel()

	m := newTestMatcher()
	candidates := []string{
		"Minister presents budget for hospitals",
		"Drones spotted over Copenhagen Airport tonight",
		"Drones spotted over Copenhagen Airport tonight",
		"Ferry traffic resumes in Helsingør",
	}

	match, ok := m.FindBestMatch("Drones spotted over Copenhagen Airport", candidates)
	if !ok {
		t.Fatalf("expected a match")
	}
	if match.Index != 1 {
		t.Fatalf("expected first of tied candidates to win, got index %d", match.Index)
	}
	if match.Score < m.Threshold() {
		t.Fatalf("expected score above threshold, got %f", match.Score)
	}

	if _, ok := m.FindBestMatch("Harbour strike in Gothenburg", candidates[:1]); ok {
		t.Fatalf("did not expect a match below threshold")
	}
	if _, ok := m.FindBestMatch("anything", nil); ok {
		t.Fatalf("did not expect a match in an empty list")
	}
}
