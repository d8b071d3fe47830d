package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"horse.fit/dronewatch/internal/metrics"
	"horse.fit/dronewatch/internal/pipeline"
)

type stubIngester struct {
	mu       sync.Mutex
	payloads []json.RawMessage
	result   pipeline.Result
	err      error
}

func (s *stubIngester) RunJSON(_ context.Context, payloads []json.RawMessage) (pipeline.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payloads...)
	return s.result, s.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubCache struct{ degraded bool }

func (c stubCache) Degraded() bool { return c.degraded }

func newTestServer(ingester *stubIngester, deps Deps, tokenHash string) http.Handler {
	deps.Ingester = ingester
	deps.Logger = zerolog.Nop()
	return NewServer(deps, Options{TokenHash: tokenHash}).Handler()
}

func do(t *testing.T, handler http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, jsendResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp jsendResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestDecodeBatch(t *testing.T) {
	t.Parallel()

	payloads, err := decodeBatch([]byte(` [{"title":"a"},{"title":"b"}] `))
	if err != nil || len(payloads) != 2 {
		t.Fatalf("expected two payloads, got %d err=%v", len(payloads), err)
	}
	single, err := decodeBatch([]byte(`{"title":"a"}`))
	if err != nil || len(single) != 1 {
		t.Fatalf("expected a single payload, got %d err=%v", len(single), err)
	}

	for _, body := range []string{"", "[]", `"text"`, `{"title":`, `[{"title":"a"},`} {
		if _, err := decodeBatch([]byte(body)); err == nil {
			t.Fatalf("expected %q to be rejected", body)
		}
	}
}

func TestCandidates_RunsBatch(t *testing.T) {
	t.Parallel()

	ingester := &stubIngester{result: pipeline.Result{Received: 2, Created: 1}}
	handler := newTestServer(ingester, Deps{}, "")

	rec, resp := do(t, handler, http.MethodPost, "/api/v1/candidates", `[{"title":"a"},{"title":"b"}]`, "")
	if rec.Code != http.StatusOK || resp.Status != "success" {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if len(ingester.payloads) != 2 {
		t.Fatalf("expected both payloads to reach the pipeline, got %d", len(ingester.payloads))
	}
	data, _ := resp.Data.(map[string]any)
	if data["created"] != float64(1) {
		t.Fatalf("expected the pipeline result in the envelope, got %v", resp.Data)
	}
}

func TestCandidates_RejectsBadBody(t *testing.T) {
	t.Parallel()

	ingester := &stubIngester{}
	handler := newTestServer(ingester, Deps{}, "")

	rec, resp := do(t, handler, http.MethodPost, "/api/v1/candidates", `not json`, "")
	if rec.Code != http.StatusBadRequest || resp.Status != "fail" {
		t.Fatalf("expected a validation failure, got %d %s", rec.Code, rec.Body.String())
	}
	if len(ingester.payloads) != 0 {
		t.Fatalf("did not expect the pipeline to run")
	}
}

func TestCandidates_PipelineError(t *testing.T) {
	t.Parallel()

	ingester := &stubIngester{err: errors.New("context canceled")}
	handler := newTestServer(ingester, Deps{}, "")

	rec, resp := do(t, handler, http.MethodPost, "/api/v1/candidates", `{"title":"a"}`, "")
	if rec.Code != http.StatusInternalServerError || resp.Status != "error" {
		t.Fatalf("expected an error envelope, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCandidates_RequiresToken(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("intake-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}
	ingester := &stubIngester{}
	handler := newTestServer(ingester, Deps{}, string(hash))

	for _, token := range []string{"", "wrong"} {
		rec, resp := do(t, handler, http.MethodPost, "/api/v1/candidates", `{"title":"a"}`, token)
		if rec.Code != http.StatusUnauthorized || resp.Status != "fail" {
			t.Fatalf("token %q: expected 401, got %d %s", token, rec.Code, rec.Body.String())
		}
	}

	rec, _ := do(t, handler, http.MethodPost, "/api/v1/candidates", `{"title":"a"}`, "intake-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the right token to pass, got %d %s", rec.Code, rec.Body.String())
	}
	if len(ingester.payloads) != 1 {
		t.Fatalf("expected exactly one authorized batch, got %d payloads", len(ingester.payloads))
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := newTestServer(&stubIngester{}, Deps{Database: stubPinger{}, Cache: stubCache{degraded: true}}, "")
	rec, resp := do(t, healthy, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK || resp.Status != "success" {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
	if data, _ := resp.Data.(map[string]any); data["cache"] != "degraded" || data["service"] != "dronewatch" {
		t.Fatalf("unexpected health data %v", resp.Data)
	}

	down := newTestServer(&stubIngester{}, Deps{Database: stubPinger{err: errors.New("dial tcp: refused")}}, "")
	rec, resp = do(t, down, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusServiceUnavailable || resp.Status != "fail" {
		t.Fatalf("expected 503 when the database is down, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownAPIRouteUsesJSend(t *testing.T) {
	t.Parallel()

	handler := newTestServer(&stubIngester{}, Deps{}, "")
	rec, resp := do(t, handler, http.MethodGet, "/api/v1/nope", "", "")
	if rec.Code != http.StatusNotFound || resp.Status != "fail" {
		t.Fatalf("expected JSend 404, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.Created()
	handler := newTestServer(&stubIngester{}, Deps{Metrics: m}, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "dronewatch_incidents_total") {
		t.Fatalf("expected prometheus output, got %d", rec.Code)
	}
}
