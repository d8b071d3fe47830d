package pipeline

import (
	"context"
	"time"

	"horse.fit/dronewatch/internal/arbiter"
	"horse.fit/dronewatch/internal/embedding"
	"horse.fit/dronewatch/internal/incident"
	"horse.fit/dronewatch/internal/metrics"
)

// instrumentedEmbedder records oracle latency and errors.
type instrumentedEmbedder struct {
	next    embedding.Embedder
	metrics *metrics.Metrics
}

func (e instrumentedEmbedder) Available() bool { return e.next.Available() }

func (e instrumentedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	started := time.Now()
	vectors, err := e.next.Embed(ctx, texts)
	e.metrics.ObserveOracle("embedding", time.Since(started), err)
	return vectors, err
}

type instrumentedJudge struct {
	next    arbiter.Judge
	metrics *metrics.Metrics
}

func (j instrumentedJudge) Available() bool { return j.next.Available() }

func (j instrumentedJudge) Judge(ctx context.Context, a, b incident.Consolidated) (arbiter.Verdict, error) {
	started := time.Now()
	verdict, err := j.next.Judge(ctx, a, b)
	j.metrics.ObserveOracle("arbiter", time.Since(started), err)
	return verdict, err
}
