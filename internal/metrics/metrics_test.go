package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New()
	m.Candidate("received")
	m.Candidate("received")
	m.Rejected("temporal")
	m.Merged("fuzzy")
	m.Created()
	m.FailOpen()
	m.Pruned(3)
	m.Pruned(-1)
	m.SetCache(12, true)
	m.ObserveOracle("embedding", 20*time.Millisecond, errors.New("timeout"))

	if got := testutil.ToFloat64(m.candidates.WithLabelValues("received")); got != 2 {
		t.Fatalf("expected 2 received, got %v", got)
	}
	if got := testutil.ToFloat64(m.merges.WithLabelValues("fuzzy")); got != 1 {
		t.Fatalf("expected 1 fuzzy merge, got %v", got)
	}
	if got := testutil.ToFloat64(m.incidents.WithLabelValues("merged")); got != 1 {
		t.Fatalf("expected merged incident count, got %v", got)
	}
	if got := testutil.ToFloat64(m.cleanupPruned); got != 3 {
		t.Fatalf("expected 3 pruned, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheDegraded); got != 1 {
		t.Fatalf("expected degraded gauge, got %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.Rejected("keyword")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `dronewatch_rejections_total{stage="keyword"} 1`) {
		t.Fatalf("expected rejection counter in exposition, got:\n%s", body)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Candidate("received")
	m.Rejected("keyword")
	m.Merged("llm")
	m.ObserveBatch(time.Second)
	m.SetCache(1, false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}
