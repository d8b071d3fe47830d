// Package embedding talks to the external embedding oracle used by the second duplicate
// tier. Every client reports whether it is usable so the pipeline can degrade to lexical
// matching when no oracle is configured.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/dronewatch/internal/config"
	"horse.fit/dronewatch/internal/incident"
)

// ErrUnavailable is returned by embedders that are not configured.
var ErrUnavailable = errors.New("embedding oracle unavailable")

type Embedder interface {
	Available() bool
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Disabled is the embedder used when no oracle is configured.
type Disabled struct{}

func (Disabled) Available() bool { return false }

func (Disabled) Embed(context.Context, []string) ([][]float64, error) {
	return nil, ErrUnavailable
}

// New picks the provider named in cfg. A provider that lacks what it needs yields
// Disabled and a warning instead of an error.
func New(cfg *config.Config, logger zerolog.Logger) Embedder {
	if cfg == nil {
		return Disabled{}
	}
	switch cfg.EmbeddingProvider {
	case config.EmbeddingProviderHTTP:
		if strings.TrimSpace(cfg.EmbeddingEndpoint) == "" {
			logger.Warn().Msg("embedding endpoint not configured; tier 2 deduplication disabled")
			return Disabled{}
		}
		return NewHTTPEmbedder(HTTPOptions{
			Endpoint:       cfg.EmbeddingEndpoint,
			ModelName:      cfg.EmbeddingModel,
			RequestTimeout: cfg.OracleTimeout,
			RatePerSecond:  cfg.EmbeddingRatePerSecond,
			Burst:          cfg.EmbeddingBurst,
		})
	case config.EmbeddingProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			logger.Warn().Msg("OPENAI_API_KEY missing; tier 2 deduplication disabled")
			return Disabled{}
		}
		return NewOpenAIEmbedder(OpenAIOptions{
			APIKey:        cfg.OpenAIAPIKey,
			BaseURL:       cfg.OpenAIBaseURL,
			Model:         cfg.EmbeddingModel,
			RatePerSecond: cfg.EmbeddingRatePerSecond,
			Burst:         cfg.EmbeddingBurst,
		})
	default:
		logger.Info().Str("provider", cfg.EmbeddingProvider).Msg("embedding provider disabled")
		return Disabled{}
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths differ or either
// vector is empty or zero.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// IncidentText builds the oracle input for an incident: title, narrative and a short
// location context line.
func IncidentText(title, narrative string, location *incident.Location, country string) string {
	parts := make([]string, 0, 3)
	if title = strings.TrimSpace(title); title != "" {
		parts = append(parts, title)
	}
	if narrative = strings.TrimSpace(narrative); narrative != "" {
		parts = append(parts, narrative)
	}

	var where []string
	if country = strings.ToUpper(strings.TrimSpace(country)); country != "" {
		where = append(where, "country "+country)
	}
	if location != nil {
		where = append(where, "near "+
			strconv.FormatFloat(location.Lat, 'f', 2, 64)+","+
			strconv.FormatFloat(location.Lon, 'f', 2, 64))
	}
	if len(where) > 0 {
		parts = append(parts, "Location: "+strings.Join(where, ", "))
	}
	return strings.Join(parts, "\n\n")
}

// ForIncident embeds a single consolidated incident.
func ForIncident(ctx context.Context, embedder Embedder, c incident.Consolidated) ([]float64, error) {
	if embedder == nil || !embedder.Available() {
		return nil, ErrUnavailable
	}
	vectors, err := embedder.Embed(ctx, []string{IncidentText(c.Title, c.Narrative, c.Location, c.Country)})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedding response count mismatch: requested=1 returned=%d", len(vectors))
	}
	return vectors[0], nil
}
