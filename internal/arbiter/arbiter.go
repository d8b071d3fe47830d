// Package arbiter is the third duplicate tier: an LLM judge consulted for incident pairs
// whose embedding similarity falls in the gray band.
package arbiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"horse.fit/dronewatch/internal/incident"
)

const (
	DefaultModel         = "claude-3-5-haiku-latest"
	DefaultMaxTokens     = 600
	DefaultMinConfidence = 0.5
)

type Verdict struct {
	IsDuplicate     bool    `json:"is_duplicate"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
	MergedTitle     *string `json:"merged_title,omitempty"`
	MergedNarrative *string `json:"merged_narrative,omitempty"`
}

type Judge interface {
	Available() bool
	Judge(ctx context.Context, a, b incident.Consolidated) (Verdict, error)
}

// Unavailable is the judge used when no credentials are configured.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Judge(context.Context, incident.Consolidated, incident.Consolidated) (Verdict, error) {
	return Verdict{}, fmt.Errorf("arbiter not configured")
}

type Options struct {
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	MinConfidence float64
	Retry         RetryConfig
	// Breaker settings; zero values fall back to 5 failures, 2 probes, 30 s open.
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

type AnthropicJudge struct {
	client        *anthropic.Client
	model         string
	maxTokens     int
	minConfidence float64
	retry         RetryConfig
	breaker       *CircuitBreaker
	logger        zerolog.Logger
}

// NewAnthropicJudge returns nil when no API key is configured; callers should use
// Unavailable in that case.
func NewAnthropicJudge(opts Options, logger zerolog.Logger) *AnthropicJudge {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil
	}

	requestOptions := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimSpace(opts.BaseURL); baseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(requestOptions...)

	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = 2
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	logger = logger.With().Str("component", "arbiter").Logger()
	return &AnthropicJudge{
		client:        &client,
		model:         opts.Model,
		maxTokens:     opts.MaxTokens,
		minConfidence: opts.MinConfidence,
		retry:         opts.Retry,
		breaker:       NewCircuitBreaker(opts.FailureThreshold, opts.SuccessThreshold, opts.OpenTimeout, logger),
		logger:        logger,
	}
}

func (j *AnthropicJudge) Available() bool {
	return j != nil && j.client != nil
}

func (j *AnthropicJudge) Breaker() *CircuitBreaker { return j.breaker }

// Judge asks the oracle whether a and b are the same event. A duplicate verdict below
// the confidence floor is downgraded to not duplicate.
func (j *AnthropicJudge) Judge(ctx context.Context, a, b incident.Consolidated) (Verdict, error) {
	if !j.Available() {
		return Verdict{}, fmt.Errorf("arbiter not configured")
	}

	prompt := buildPrompt(a, b)
	var responseText string
	err := j.retryWithBackoff(ctx, func(attemptCtx context.Context) error {
		resp, err := j.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(j.model),
			MaxTokens: int64(j.maxTokens),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return err
		}
		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		responseText = text.String()
		return nil
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("arbiter call failed: %w", err)
	}

	verdict, err := parseVerdict(responseText)
	if err != nil {
		return Verdict{}, err
	}
	if verdict.IsDuplicate && verdict.Confidence < j.minConfidence {
		j.logger.Debug().
			Float64("confidence", verdict.Confidence).
			Float64("floor", j.minConfidence).
			Msg("duplicate verdict below confidence floor")
		verdict.IsDuplicate = false
	}
	return verdict, nil
}
