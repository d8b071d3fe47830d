package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/dronewatch/internal/config"
	"horse.fit/dronewatch/internal/incident"
)

func TestCosine(t *testing.T) {
	t.Parallel()

	if got := Cosine([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected identical vectors to score 1, got %f", got)
	}
	if got := Cosine([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Fatalf("expected orthogonal vectors to score 0, got %f", got)
	}
	if got := Cosine([]float64{1, 2}, []float64{1}); got != 0 {
		t.Fatalf("expected mismatched lengths to score 0, got %f", got)
	}
	if got := Cosine([]float64{0, 0}, []float64{1, 1}); got != 0 {
		t.Fatalf("expected zero vector to score 0, got %f", got)
	}
}

func TestIncidentText(t *testing.T) {
	t.Parallel()

	got := IncidentText(" Drones over Aalborg ", "Police closed the airspace.", &incident.Location{Lat: 57.0928, Lon: 9.8492}, "dk")
	want := "Drones over Aalborg\n\nPolice closed the airspace.\n\nLocation: country DK, near 57.09,9.85"
	if got != want {
		t.Fatalf("unexpected incident text:\n%q\nwant\n%q", got, want)
	}
	if got := IncidentText("Title only", "", nil, ""); got != "Title only" {
		t.Fatalf("unexpected title-only text %q", got)
	}
}

func TestHTTPEmbedder_EmbedShape(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Texts) != 2 || req.MaxLength != DefaultMaxLength {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float64{{1, 0}, {0, 1}},
		})
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL})
	vectors, err := embedder.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vectors) != 2 || vectors[1][1] != 1 {
		t.Fatalf("unexpected vectors %v", vectors)
	}
}

func TestHTTPEmbedder_OpenAIShapeSortsByIndex(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 2 || len(req.Texts) != 0 || req.Model != "bge-m3" {
			t.Errorf("expected openai-style body, got %+v", req)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,2]},{"index":0,"embedding":[3,0]}]}`))
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL + "/v1/embeddings"})
	vectors, err := embedder.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if vectors[0][0] != 3 || vectors[1][1] != 2 {
		t.Fatalf("expected vectors ordered by index, got %v", vectors)
	}
}

func TestHTTPEmbedder_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"embeddings":[[1,1]]}`))
		}
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL})
	embedder.backoffs = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	if _, err := embedder.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL})
	embedder.backoffs = []time.Duration{time.Millisecond}

	_, err := embedder.Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected status 400 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestHTTPEmbedder_TimeoutFails(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	embedder := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL, RequestTimeout: 20 * time.Millisecond})
	embedder.backoffs = nil

	if _, err := embedder.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestHTTPEmbedder_CountMismatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1,1]]}`))
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(HTTPOptions{Endpoint: server.URL})
	if _, err := embedder.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected count mismatch error")
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected authorization %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[{"object":"embedding","index":0,"embedding":[0.5,0.5]}]}`))
	}))
	defer server.Close()

	embedder := NewOpenAIEmbedder(OpenAIOptions{APIKey: "sk-test", BaseURL: server.URL + "/v1"})
	vectors, err := embedder.Embed(context.Background(), []string{"drone over port"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vectors) != 1 || vectors[0][0] != 0.5 {
		t.Fatalf("unexpected vectors %v", vectors)
	}

	if NewOpenAIEmbedder(OpenAIOptions{}).Available() {
		t.Fatalf("expected embedder without key to be unavailable")
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	t.Parallel()

	logger := zerolog.Nop()
	if _, ok := New(&config.Config{EmbeddingProvider: config.EmbeddingProviderHTTP, EmbeddingEndpoint: "http://embed"}, logger).(*HTTPEmbedder); !ok {
		t.Fatalf("expected http embedder")
	}
	if _, ok := New(&config.Config{EmbeddingProvider: config.EmbeddingProviderOpenAI}, logger).(Disabled); !ok {
		t.Fatalf("expected openai without key to be disabled")
	}
	if _, ok := New(&config.Config{EmbeddingProvider: config.EmbeddingProviderOpenAI, OpenAIAPIKey: "k"}, logger).(*OpenAIEmbedder); !ok {
		t.Fatalf("expected openai embedder")
	}
	if _, ok := New(&config.Config{EmbeddingProvider: config.EmbeddingProviderNone}, logger).(Disabled); !ok {
		t.Fatalf("expected disabled embedder")
	}

	_, err := ForIncident(context.Background(), Disabled{}, incident.Consolidated{Title: "x"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
