package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/stepquest/internal/domain/achievement"
)

const namespace = "stepquest"

// Metrics holds every collector the service exports. It satisfies the
// recorder interfaces of the coordinator, the outbox dispatcher and the HTTP
// middleware.
type Metrics struct {
	registry *prometheus.Registry

	submissions       *prometheus.CounterVec
	submissionLatency prometheus.Histogram
	txRetries         prometheus.Counter
	unlocks           *prometheus.CounterVec

	outboxHandled  *prometheus.CounterVec
	outboxFailed   *prometheus.CounterVec
	outboxBatch    prometheus.Histogram
	outboxBatchLen prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	lastCommit prometheus.Gauge
}

// NewMetrics creates collectors on a private registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "submissions_total",
			Help:      "Metric submissions and reconciles, labeled by outcome.",
		}, []string{"outcome"}),
		submissionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "transaction_duration_seconds",
			Help:      "Time from validation to commit of one submission, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "transaction_retries_total",
			Help:      "Transactions rerun after a serialization conflict.",
		}),
		unlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "unlocks_total",
			Help:      "Achievement entries flipped to unlocked, labeled by category.",
		}, []string{"category"}),

		outboxHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "messages_handled_total",
			Help:      "Outbox messages closed, labeled by category and outcome.",
		}, []string{"category", "outcome"}),
		outboxFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "delivery_failures_total",
			Help:      "Failed delivery attempts, labeled by category and whether the message was parked.",
		}, []string{"category", "dead"}),
		outboxBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "batch_duration_seconds",
			Help:      "Time spent claiming, delivering and marking one outbox batch.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		outboxBatchLen: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "batch_size",
			Help:      "Messages claimed per batch.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, labeled by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		lastCommit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "last_commit_timestamp_seconds",
			Help:      "Unix timestamp of the most recent committed submission.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions, m.submissionLatency, m.txRetries, m.unlocks,
		m.outboxHandled, m.outboxFailed, m.outboxBatch, m.outboxBatchLen,
		m.httpRequests, m.httpLatency,
		m.lastCommit,
	)
	return m
}

// Registry exposes the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ── coordinator ──────────────────────────────────────────────────────────────

func (m *Metrics) SubmissionObserved(outcome string, d time.Duration) {
	m.submissions.WithLabelValues(outcome).Inc()
	m.submissionLatency.Observe(d.Seconds())
	if outcome == "ok" {
		m.lastCommit.SetToCurrentTime()
	}
}

func (m *Metrics) UnlockRecorded(cat achievement.Category) {
	m.unlocks.WithLabelValues(string(cat)).Inc()
}

func (m *Metrics) TransactionRetried() {
	m.txRetries.Inc()
}

// ── outbox ───────────────────────────────────────────────────────────────────

func (m *Metrics) OutboxHandled(category, outcome string) {
	m.outboxHandled.WithLabelValues(category, outcome).Inc()
}

func (m *Metrics) OutboxFailed(category string, dead bool) {
	m.outboxFailed.WithLabelValues(category, strconv.FormatBool(dead)).Inc()
}

func (m *Metrics) OutboxBatch(size int, d time.Duration) {
	m.outboxBatchLen.Observe(float64(size))
	m.outboxBatch.Observe(d.Seconds())
}

// ── http ─────────────────────────────────────────────────────────────────────

func (m *Metrics) RequestObserved(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}
