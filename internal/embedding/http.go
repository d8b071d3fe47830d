package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint       = "http://127.0.0.1:8844/embed"
	DefaultModelName      = "bge-m3"
	DefaultMaxLength      = 512
	DefaultRequestTimeout = 20 * time.Second

	maxRetryAfter = 30 * time.Second
)

var defaultBackoffs = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

type HTTPOptions struct {
	Endpoint       string
	ModelName      string
	MaxLength      int
	RequestTimeout time.Duration
	RatePerSecond  float64
	Burst          int
}

// HTTPEmbedder posts to a JSON embedding service. Endpoints ending in /v1/embeddings get
// the OpenAI-style {input} body, everything else the {texts, max_length} body; either
// response shape is accepted.
type HTTPEmbedder struct {
	opts     HTTPOptions
	client   *http.Client
	limiter  *rate.Limiter
	backoffs []time.Duration
}

type embedRequest struct {
	Texts     []string `json:"texts,omitempty"`
	Input     []string `json:"input,omitempty"`
	Model     string   `json:"model,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func NewHTTPEmbedder(opts HTTPOptions) *HTTPEmbedder {
	opts = normalizeHTTPOptions(opts)
	return &HTTPEmbedder{
		opts:     opts,
		client:   &http.Client{},
		limiter:  newLimiter(opts.RatePerSecond, opts.Burst),
		backoffs: defaultBackoffs,
	}
}

func normalizeHTTPOptions(opts HTTPOptions) HTTPOptions {
	normalized := opts
	normalized.Endpoint = normalizeEndpoint(normalized.Endpoint)
	if strings.TrimSpace(normalized.ModelName) == "" {
		normalized.ModelName = DefaultModelName
	}
	if normalized.MaxLength <= 0 {
		normalized.MaxLength = DefaultMaxLength
	}
	if normalized.RequestTimeout <= 0 {
		normalized.RequestTimeout = DefaultRequestTimeout
	}
	return normalized
}

func normalizeEndpoint(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultEndpoint
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return trimmed
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/embed"
	}
	return parsed.String()
}

// newLimiter returns an unlimited limiter for a non-positive rate.
func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (e *HTTPEmbedder) Available() bool {
	return e != nil && e.opts.Endpoint != ""
}

func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	payload := embedRequest{Texts: texts, MaxLength: e.opts.MaxLength}
	if parsed, err := url.Parse(e.opts.Endpoint); err == nil && strings.HasSuffix(parsed.Path, "/v1/embeddings") {
		payload = embedRequest{Input: texts, Model: e.opts.ModelName}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	parsed, err := e.doWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		sort.Slice(parsed.Data, func(i, j int) bool {
			return parsed.Data[i].Index < parsed.Data[j].Index
		})
		vectors = make([][]float64, 0, len(parsed.Data))
		for _, row := range parsed.Data {
			vectors = append(vectors, row.Embedding)
		}
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding response count mismatch: requested=%d returned=%d", len(texts), len(vectors))
	}
	for i, vector := range vectors {
		if err := checkVector(vector); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
	}
	return vectors, nil
}

// doWithRetry retries 429 and 5xx responses and unparseable bodies, honoring Retry-After
// on 429. Each attempt waits for the rate limiter and carries its own timeout.
func (e *HTTPEmbedder) doWithRetry(ctx context.Context, body []byte) (*embedResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= len(e.backoffs); attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding rate limiter wait: %w", err)
		}

		parsed, status, retryAfter, err := e.post(ctx, body)
		if err == nil {
			return parsed, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embedding request cancelled: %w", ctx.Err())
		}
		retryable := status == 0 || status == http.StatusTooManyRequests || status >= 500
		if !retryable {
			return nil, err
		}
		lastErr = err

		if attempt == len(e.backoffs) {
			break
		}
		delay := e.backoffs[attempt]
		if retryAfter > 0 {
			delay = retryAfter
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("embedding request cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("embedding retries exhausted: %w", lastErr)
}

// post performs one attempt. status is 0 for transport and decode failures.
func (e *HTTPEmbedder) post(ctx context.Context, body []byte) (*embedResponse, int, time.Duration, error) {
	requestCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, e.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, http.StatusBadRequest, 0, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var retryAfter time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, resp.StatusCode, retryAfter, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, 0, 0, fmt.Errorf("decode embedding response: %w", err)
	}
	return &parsed, resp.StatusCode, 0, nil
}

func parseRetryAfter(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds <= 0 {
		return 0
	}
	return min(time.Duration(seconds)*time.Second, maxRetryAfter)
}

func checkVector(values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("empty vector")
	}
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("vector has non-finite value at index %d", i)
		}
	}
	return nil
}
