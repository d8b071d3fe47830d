package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const DefaultOpenAIModel = "text-embedding-3-small"

type OpenAIOptions struct {
	APIKey        string
	BaseURL       string
	Model         string
	RatePerSecond float64
	Burst         int
}

// OpenAIEmbedder calls any OpenAI-compatible /v1/embeddings API through go-openai.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	apiKey  string
	limiter *rate.Limiter
}

func NewOpenAIEmbedder(opts OpenAIOptions) *OpenAIEmbedder {
	clientConfig := openai.DefaultConfig(opts.APIKey)
	if baseURL := strings.TrimSpace(opts.BaseURL); baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" || model == DefaultModelName {
		model = DefaultOpenAIModel
	}
	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		apiKey:  opts.APIKey,
		limiter: newLimiter(opts.RatePerSecond, opts.Burst),
	}
}

func (e *OpenAIEmbedder) Available() bool {
	return e != nil && strings.TrimSpace(e.apiKey) != ""
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if !e.Available() {
		return nil, ErrUnavailable
	}
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limiter wait: %w", err)
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	vectors := make([][]float64, len(texts))
	for _, row := range resp.Data {
		if row.Index < 0 || row.Index >= len(texts) {
			return nil, fmt.Errorf("openai embeddings returned out-of-range index %d", row.Index)
		}
		vector := make([]float64, len(row.Embedding))
		for i, value := range row.Embedding {
			vector[i] = float64(value)
		}
		vectors[row.Index] = vector
	}
	for i, vector := range vectors {
		if err := checkVector(vector); err != nil {
			return nil, fmt.Errorf("embedding %d: %w", i, err)
		}
	}
	return vectors, nil
}
