package evidence

import (
	"testing"

	"horse.fit/dronewatch/internal/config"
	"horse.fit/dronewatch/internal/incident"
)

func src(name string, trust int) incident.Source {
	return incident.Source{Name: name, Type: incident.SourceMedia, TrustWeight: trust}
}

func TestScore_Table(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		sources []incident.Source
		quote   bool
		want    int
	}{
		{name: "police without quote", sources: []incident.Source{src("Politi", 4)}, want: 4},
		{name: "police with quote", sources: []incident.Source{src("Politi", 4)}, quote: true, want: 4},
		{name: "police among low trust", sources: []incident.Source{src("X", 1), src("Politi", 4)}, want: 4},
		{name: "two credible", sources: []incident.Source{src("DR", 3), src("TV 2", 3)}, want: 3},
		{name: "single credible with quote", sources: []incident.Source{src("DR", 3)}, quote: true, want: 3},
		{name: "single credible without quote", sources: []incident.Source{src("DR", 3)}, want: 2},
		{name: "single credible plus tabloid", sources: []incident.Source{src("DR", 3), src("BT", 2)}, want: 2},
		{name: "tabloid without quote", sources: []incident.Source{src("BT", 2)}, want: 2},
		{name: "tabloid with quote", sources: []incident.Source{src("BT", 2)}, quote: true, want: 2},
		{name: "social only", sources: []incident.Source{src("X", 1), src("Reddit", 1)}, want: 1},
		{name: "social with quote", sources: []incident.Source{src("X", 1)}, quote: true, want: 1},
		{name: "none", want: 1},
		{name: "same outlet twice", sources: []incident.Source{src("DR", 3), src("dr", 3)}, want: 2},
	}

	for _, tc := range cases {
		if got := Score(tc.sources, tc.quote); got != tc.want {
			t.Fatalf("%s: Score() = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func newTestDetector(language string) *QuoteDetector {
	d := NewQuoteDetector(config.DefaultRules().QuotePhrases)
	d.detect = func(string) string { return language }
	return d
}

func TestHasOfficialQuote_UsesDetectedFamily(t *testing.T) {
	t.Parallel()

	danish := newTestDetector("da")
	if !danish.HasOfficialQuote("Det oplyser politiet, og vagtchef Jens Hansen bekræfter sagen.", nil) {
		t.Fatalf("expected danish attribution to be found")
	}
	if !danish.HasOfficialQuote("Ifølge politiet ble flyplassen stengt.", nil) {
		t.Fatalf("expected norwegian phrase to be shared across the family")
	}
	if danish.HasOfficialQuote("Poliisin mukaan lentoasema suljettiin.", nil) {
		t.Fatalf("did not expect finnish phrases while detected language is danish")
	}
	if !danish.HasOfficialQuote("Police said the airport closed briefly.", nil) {
		t.Fatalf("expected english phrases to always apply")
	}
}

func TestHasOfficialQuote_FallsBackToAllLists(t *testing.T) {
	t.Parallel()

	unknown := newTestDetector("")
	if !unknown.HasOfficialQuote("Poliisin mukaan lentoasema suljettiin.", nil) {
		t.Fatalf("expected every list to be scanned when detection fails")
	}
	if unknown.HasOfficialQuote("Drones were seen over the harbour.", nil) {
		t.Fatalf("did not expect attribution without a phrase")
	}
}

func TestHasOfficialQuote_Sources(t *testing.T) {
	t.Parallel()

	d := newTestDetector("en")
	quote := "We received several reports of drones."
	police := incident.Source{Name: "Politi", Type: incident.SourcePolice, TrustWeight: 4, Quote: &quote}
	if !d.HasOfficialQuote("", []incident.Source{police}) {
		t.Fatalf("expected police quote to count as official")
	}

	mediaQuote := "According to police, the runway was closed."
	media := incident.Source{Name: "DR", Type: incident.SourceMedia, TrustWeight: 3, Quote: &mediaQuote}
	if !d.HasOfficialQuote("", []incident.Source{media}) {
		t.Fatalf("expected attribution inside a media quote to be detected")
	}

	plain := "Drones everywhere tonight"
	social := incident.Source{Name: "X", Type: incident.SourceSocial, TrustWeight: 1, Quote: &plain}
	if d.HasOfficialQuote("", []incident.Source{social}) {
		t.Fatalf("did not expect a social quote without attribution to count")
	}
}
