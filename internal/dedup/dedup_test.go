package dedup

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/dronewatch/internal/arbiter"
	"horse.fit/dronewatch/internal/incident"
)

type stubEmbedder struct {
	available bool
	vectors   map[string][]float64
	err       error
	delay     time.Duration
	calls     atomic.Int32
	inFlight  atomic.Int32
	maxSeen   atomic.Int32
}

func (s *stubEmbedder) Available() bool { return s.available }

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	s.calls.Add(1)
	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if current <= seen || s.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		vector, ok := s.vectors[text]
		if !ok {
			vector = []float64{0, 0, 1}
		}
		out = append(out, vector)
	}
	return out, nil
}

type stubJudge struct {
	available bool
	verdict   arbiter.Verdict
	err       error
	calls     atomic.Int32
}

func (s *stubJudge) Available() bool { return s.available }

func (s *stubJudge) Judge(context.Context, incident.Consolidated, incident.Consolidated) (arbiter.Verdict, error) {
	s.calls.Add(1)
	return s.verdict, s.err
}

func withVector(title string, vector []float64) incident.Consolidated {
	return incident.Consolidated{Title: title, Embedding: vector}
}

// atCosine returns a unit vector whose cosine to (1,0,0) is cos.
func atCosine(cos float64) []float64 {
	return []float64{cos, math.Sqrt(1 - cos*cos), 0}
}

func TestFind_Bands(t *testing.T) {
	t.Parallel()

	incoming := withVector("incoming", []float64{1, 0, 0})
	cases := []struct {
		name     string
		cosine   float64
		judge    *stubJudge
		wantKind Kind
		wantTier string
		escalate bool
	}{
		{name: "high similarity merges", cosine: 0.95, judge: &stubJudge{available: true}, wantKind: KindMerge, wantTier: TierEmbedding},
		{name: "gray band duplicate", cosine: 0.88, judge: &stubJudge{available: true, verdict: arbiter.Verdict{IsDuplicate: true, Confidence: 0.9}}, wantKind: KindMerge, wantTier: TierLLM, escalate: true},
		{name: "gray band distinct", cosine: 0.86, judge: &stubJudge{available: true, verdict: arbiter.Verdict{IsDuplicate: false, Confidence: 0.8}}, wantKind: KindNew, escalate: true},
		{name: "low similarity", cosine: 0.5, judge: &stubJudge{available: true}, wantKind: KindNew},
	}

	for _, tc := range cases {
		d := New(&stubEmbedder{available: true}, tc.judge, Options{}, zerolog.Nop())
		neighbors := []Neighbor{{ID: 7, Incident: withVector("stored", atCosine(tc.cosine))}}

		decision, err := d.Find(context.Background(), incoming, neighbors)
		if err != nil {
			t.Fatalf("%s: Find returned error: %v", tc.name, err)
		}
		if decision.Kind != tc.wantKind || decision.Tier != tc.wantTier {
			t.Fatalf("%s: got kind=%s tier=%s (%s)", tc.name, decision.Kind, decision.Tier, decision.Reason)
		}
		if decision.Escalated != tc.escalate {
			t.Fatalf("%s: expected escalated=%v", tc.name, tc.escalate)
		}
		if decision.FailOpen {
			t.Fatalf("%s: did not expect fail-open", tc.name)
		}
		if tc.wantKind == KindMerge && decision.MatchID != 7 {
			t.Fatalf("%s: expected match id 7, got %d", tc.name, decision.MatchID)
		}
		if got := tc.judge.calls.Load(); (got == 1) != tc.escalate {
			t.Fatalf("%s: unexpected judge calls %d", tc.name, got)
		}
	}
}

func TestFind_FailsOpen(t *testing.T) {
	t.Parallel()

	incoming := withVector("incoming", []float64{1, 0, 0})
	gray := []Neighbor{{ID: 1, Incident: withVector("stored", atCosine(0.88))}}

	cases := []struct {
		name     string
		embedder *stubEmbedder
		judge    *stubJudge
		incident incident.Consolidated
	}{
		{name: "embedder not configured", embedder: &stubEmbedder{}, judge: &stubJudge{available: true}, incident: incoming},
		{name: "embedder error", embedder: &stubEmbedder{available: true, err: errors.New("status 503")}, judge: &stubJudge{available: true}, incident: incident.Consolidated{Title: "no vector"}},
		{name: "embedder timeout", embedder: &stubEmbedder{available: true, delay: time.Second}, judge: &stubJudge{available: true}, incident: incident.Consolidated{Title: "no vector"}},
		{name: "judge not configured", embedder: &stubEmbedder{available: true}, judge: &stubJudge{}, incident: incoming},
		{name: "judge error", embedder: &stubEmbedder{available: true}, judge: &stubJudge{available: true, err: arbiter.ErrCircuitOpen}, incident: incoming},
	}

	for _, tc := range cases {
		d := New(tc.embedder, tc.judge, Options{Timeout: 20 * time.Millisecond}, zerolog.Nop())
		decision, err := d.Find(context.Background(), tc.incident, gray)
		if err != nil {
			t.Fatalf("%s: expected no error, got %v", tc.name, err)
		}
		if decision.Kind != KindNew || !decision.FailOpen {
			t.Fatalf("%s: expected fail-open new decision, got %+v", tc.name, decision)
		}
		if !errors.Is(decision.Err, ErrOracleUnavailable) {
			t.Fatalf("%s: expected ErrOracleUnavailable, got %v", tc.name, decision.Err)
		}
	}
}

func TestFind_ThresholdsAreInclusive(t *testing.T) {
	t.Parallel()

	same := []Neighbor{{ID: 2, Incident: withVector("stored", []float64{0, 1})}}
	d := New(&stubEmbedder{available: true}, nil, Options{MergeThreshold: 1, EscalateThreshold: 0.5}, zerolog.Nop())
	decision, err := d.Find(context.Background(), withVector("incoming", []float64{0, 1}), same)
	if err != nil || decision.Kind != KindMerge {
		t.Fatalf("expected similarity equal to the merge threshold to merge, got %+v err=%v", decision, err)
	}
}

func TestFind_NoNeighbors(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{available: true}
	d := New(embedder, nil, Options{}, zerolog.Nop())
	decision, err := d.Find(context.Background(), incident.Consolidated{Title: "x"}, nil)
	if err != nil || decision.Kind != KindNew || decision.FailOpen {
		t.Fatalf("unexpected decision %+v err=%v", decision, err)
	}
	if embedder.calls.Load() != 0 {
		t.Fatalf("did not expect oracle calls without neighbors")
	}
}

func TestFind_EmbedsMissingVectorsOnce(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{available: true, vectors: map[string][]float64{
		"incoming": {1, 0, 0},
		"stored":   {1, 0, 0},
	}}
	d := New(embedder, nil, Options{}, zerolog.Nop())

	decision, err := d.Find(context.Background(), incident.Consolidated{Title: "incoming"}, []Neighbor{
		{ID: 3, Incident: incident.Consolidated{Title: "stored"}},
		{ID: 4, Incident: withVector("has vector", []float64{0, 1, 0})},
	})
	if err != nil {
		t.Fatalf("Find returned error: %v", err)
	}
	if embedder.calls.Load() != 1 {
		t.Fatalf("expected a single batched oracle call, got %d", embedder.calls.Load())
	}
	if decision.Kind != KindMerge || decision.MatchID != 3 {
		t.Fatalf("expected merge into neighbor 3, got %+v", decision)
	}
	if len(decision.Embedding) != 3 || len(decision.NeighborEmbeddings[3]) != 3 {
		t.Fatalf("expected computed vectors to be returned, got %+v", decision)
	}
	if _, ok := decision.NeighborEmbeddings[4]; ok {
		t.Fatalf("did not expect neighbor with a vector to be re-embedded")
	}
}

func TestFind_CancelledContextIsReturned(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(&stubEmbedder{available: true, delay: time.Second}, nil, Options{}, zerolog.Nop())
	_, err := d.Find(ctx, incident.Consolidated{Title: "x"}, []Neighbor{{ID: 1, Incident: incident.Consolidated{Title: "y"}}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFind_BoundsConcurrentOracleCalls(t *testing.T) {
	t.Parallel()

	embedder := &stubEmbedder{available: true, delay: 10 * time.Millisecond}
	d := New(embedder, nil, Options{Concurrency: 2}, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Find(context.Background(), incident.Consolidated{Title: "a"}, []Neighbor{{ID: 1, Incident: incident.Consolidated{Title: "b"}}})
		}()
	}
	wg.Wait()

	if got := embedder.maxSeen.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent oracle calls, saw %d", got)
	}
	if embedder.calls.Load() != 8 {
		t.Fatalf("expected 8 oracle calls, got %d", embedder.calls.Load())
	}
}

func TestWithinScope(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 9, 25, 20, 0, 0, 0, time.UTC)
	aalborg := incident.Consolidated{Location: &incident.Location{Lat: 57.0928, Lon: 9.8492}, OccurredAt: at, Country: "DK"}
	nearby := incident.Consolidated{Location: &incident.Location{Lat: 57.05, Lon: 9.92}, OccurredAt: at.Add(30 * time.Hour), Country: "DK"}
	copenhagen := incident.Consolidated{Location: &incident.Location{Lat: 55.618, Lon: 12.650}, OccurredAt: at, Country: "DK"}
	unlocated := incident.Consolidated{OccurredAt: at.Add(-time.Hour), Country: "dk"}

	if !WithinScope(aalborg, nearby, DefaultRadiusKm, DefaultWindow) {
		t.Fatalf("expected nearby report within scope")
	}
	if WithinScope(aalborg, copenhagen, DefaultRadiusKm, DefaultWindow) {
		t.Fatalf("did not expect Copenhagen within 50 km of Aalborg")
	}
	if WithinScope(aalborg, nearby, DefaultRadiusKm, 24*time.Hour) {
		t.Fatalf("did not expect a 30h gap within a 24h window")
	}
	if !WithinScope(aalborg, unlocated, DefaultRadiusKm, DefaultWindow) {
		t.Fatalf("expected same-country fallback when a location is missing")
	}
}
