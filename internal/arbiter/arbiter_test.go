package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horse.fit/dronewatch/internal/incident"
)

func messageBody(text string) string {
	payload := map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         DefaultModel,
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 10},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func testJudge(t *testing.T, handler http.HandlerFunc) *AnthropicJudge {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	judge := NewAnthropicJudge(Options{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Retry: RetryConfig{
			MaxRetries:        2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 1,
			Timeout:           2 * time.Second,
		},
		FailureThreshold: 2,
		OpenTimeout:      time.Hour,
	}, zerolog.Nop())
	require.NotNil(t, judge)
	return judge
}

func pair() (incident.Consolidated, incident.Consolidated) {
	at := time.Date(2026, 9, 22, 21, 0, 0, 0, time.UTC)
	a := incident.Consolidated{
		Title:      "Drones over Copenhagen Airport",
		Narrative:  "Air traffic was halted for four hours.",
		Location:   &incident.Location{Lat: 55.618, Lon: 12.650},
		OccurredAt: at,
		Country:    "DK",
		Sources:    []incident.Source{{Name: "DR", Type: incident.SourceMedia, TrustWeight: 3}},
	}
	b := a
	b.Title = "Kastrup closed after drone sighting"
	b.OccurredAt = at.Add(40 * time.Minute)
	return a, b
}

func TestNewAnthropicJudge_RequiresKey(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewAnthropicJudge(Options{}, zerolog.Nop()))
	assert.False(t, Unavailable{}.Available())
}

func TestJudge_ParsesVerdict(t *testing.T) {
	t.Parallel()

	judge := testJudge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, fmt.Sprint(body["messages"]), "Kastrup closed after drone sighting")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageBody("```json\n{\"is_duplicate\": true, \"confidence\": 0.9, \"reasoning\": \"same closure\", \"merged_title\": \"Drones close Copenhagen Airport\"}\n```")))
	})

	a, b := pair()
	verdict, err := judge.Judge(context.Background(), a, b)
	require.NoError(t, err)
	assert.True(t, verdict.IsDuplicate)
	assert.InDelta(t, 0.9, verdict.Confidence, 1e-9)
	require.NotNil(t, verdict.MergedTitle)
	assert.Equal(t, "Drones close Copenhagen Airport", *verdict.MergedTitle)
	assert.Nil(t, verdict.MergedNarrative)
}

func TestJudge_ConfidenceFloor(t *testing.T) {
	t.Parallel()

	judge := testJudge(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(messageBody(`Sure. {"is_duplicate": true, "confidence": 0.3, "reasoning": "unclear"}`)))
	})

	a, b := pair()
	verdict, err := judge.Judge(context.Background(), a, b)
	require.NoError(t, err)
	assert.False(t, verdict.IsDuplicate)
	assert.Equal(t, "unclear", verdict.Reasoning)
}

func TestJudge_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	judge := testJudge(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`))
			return
		}
		_, _ = w.Write([]byte(messageBody(`{"is_duplicate": false, "confidence": 0.8, "reasoning": "different nights"}`)))
	})

	a, b := pair()
	verdict, err := judge.Judge(context.Background(), a, b)
	require.NoError(t, err)
	assert.False(t, verdict.IsDuplicate)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, CircuitClosed, judge.Breaker().State())
}

func TestJudge_CircuitOpensAndFailsFast(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	judge := testJudge(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
	})

	a, b := pair()
	_, err := judge.Judge(context.Background(), a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, CircuitOpen, judge.Breaker().State())

	_, err = judge.Judge(context.Background(), a, b)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestJudge_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	judge := testJudge(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	})

	a, b := pair()
	_, err := judge.Judge(context.Background(), a, b)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, CircuitClosed, judge.Breaker().State())
}

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	verdict, err := parseVerdict(`{"is_duplicate": false, "confidence": 0.7, "reasoning": "x"}`)
	require.NoError(t, err)
	assert.False(t, verdict.IsDuplicate)

	_, err = parseVerdict(`{"is_duplicate": true, "confidence": 1.5}`)
	assert.Error(t, err)

	_, err = parseVerdict("no json here")
	assert.Error(t, err)

	_, err = parseVerdict("   ")
	assert.Error(t, err)
}

func TestIsRetriableError(t *testing.T) {
	t.Parallel()

	assert.True(t, isRetriableError(context.DeadlineExceeded))
	assert.True(t, isRetriableError(&anthropic.Error{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, isRetriableError(&anthropic.Error{StatusCode: http.StatusBadGateway}))
	assert.False(t, isRetriableError(&anthropic.Error{StatusCode: http.StatusBadRequest}))
	assert.True(t, isRetriableError(errors.New("dial tcp: connection refused")))
	assert.False(t, isRetriableError(errors.New("invalid request")))
	assert.False(t, isRetriableError(nil))
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(1, 1, -time.Second, zerolog.Nop())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
}
