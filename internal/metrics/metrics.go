// Package metrics exposes pipeline counters on a private prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dronewatch"

// Metrics is nil-safe: every recording method is a no-op on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	candidates    *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	incidents     *prometheus.CounterVec
	merges        *prometheus.CounterVec
	failOpen      prometheus.Counter
	escalations   prometheus.Counter
	batchDuration prometheus.Histogram
	oracleLatency *prometheus.HistogramVec
	cacheDegraded prometheus.Gauge
	cacheEntries  prometheus.Gauge
	cleanupPruned prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.candidates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "candidates_total",
		Help:      "Candidates seen by the pipeline by outcome",
	}, []string{"outcome"})
	m.rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rejections_total",
		Help:      "Rejected candidates by stage",
	}, []string{"stage"})
	m.incidents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "incidents_total",
		Help:      "Consolidated incidents written by result",
	}, []string{"result"})
	m.merges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "merges_total",
		Help:      "Incidents merged into existing ones by dedup tier",
	}, []string{"tier"})
	m.failOpen = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dedup_fail_open_total",
		Help:      "Dedup decisions that fell back to non-duplicate after an oracle failure",
	})
	m.escalations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dedup_escalations_total",
		Help:      "Gray-band pairs sent to the arbiter",
	})
	m.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Time spent processing one ingestion batch",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	m.oracleLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "oracle_latency_seconds",
		Help:      "Latency of embedding and arbiter calls",
		Buckets:   prometheus.DefBuckets,
	}, []string{"oracle", "status"})
	m.cacheDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_degraded",
		Help:      "1 when the dedup cache runs on the in-memory fallback",
	})
	m.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Hashes loaded into the dedup cache for the current batch",
	})
	m.cleanupPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_pruned_total",
		Help:      "Cache entries removed by retention cleanup",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.candidates,
		m.rejections,
		m.incidents,
		m.merges,
		m.failOpen,
		m.escalations,
		m.batchDuration,
		m.oracleLatency,
		m.cacheDegraded,
		m.cacheEntries,
		m.cleanupPruned,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Candidate counts one candidate by outcome: received, malformed, cached, accepted.
func (m *Metrics) Candidate(outcome string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Rejected(stage string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(stage).Inc()
}

func (m *Metrics) Created() {
	if m == nil {
		return
	}
	m.incidents.WithLabelValues("created").Inc()
}

func (m *Metrics) Merged(tier string) {
	if m == nil {
		return
	}
	m.incidents.WithLabelValues("merged").Inc()
	m.merges.WithLabelValues(tier).Inc()
}

func (m *Metrics) FailOpen() {
	if m == nil {
		return
	}
	m.failOpen.Inc()
}

func (m *Metrics) Escalated() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveOracle(oracle string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.oracleLatency.WithLabelValues(oracle, status).Observe(d.Seconds())
}

func (m *Metrics) SetCache(entries int, degraded bool) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(entries))
	if degraded {
		m.cacheDegraded.Set(1)
	} else {
		m.cacheDegraded.Set(0)
	}
}

func (m *Metrics) Pruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupPruned.Add(float64(n))
}
