package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus vectors the HTTP middleware chain and the
// async pipelines record against. Grounded on the ShopMindAI chat-service
// main.go's httpDuration/httpRequests vectors, extended with the bus,
// indexer and hub counters this service's components need.
type Metrics struct {
	HTTPDuration   *prometheus.HistogramVec
	HTTPRequests   *prometheus.CounterVec
	OutboxBacklog  prometheus.Gauge
	MessagesSent   prometheus.Counter
	IndexedBatches *prometheus.CounterVec
	DeadLettered   prometheus.Counter
	SSEConnections prometheus.Gauge
	SSEDropped     *prometheus.CounterVec
}

// NewMetrics creates and registers all vectors against a dedicated
// registry (never the global default, so tests can spin up many Metrics
// instances without collector-already-registered panics).
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "fechatter_http_request_duration_seconds",
			Help: "HTTP request latencies in seconds.",
		}, []string{"method", "path", "status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		OutboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fechatter_outbox_backlog",
			Help: "Number of unsent rows in the message outbox.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_messages_sent_total",
			Help: "Total number of messages persisted by the ingestion pipeline.",
		}),
		IndexedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_indexed_batches_total",
			Help: "Search-indexer batches, labeled by outcome.",
		}, []string{"outcome"}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fechatter_indexer_dead_lettered_total",
			Help: "Batches moved to the dead-letter subject after exhausting retries.",
		}),
		SSEConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fechatter_sse_connections",
			Help: "Currently open SSE sessions on this hub instance.",
		}),
		SSEDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fechatter_sse_sessions_dropped_total",
			Help: "SSE sessions closed by the hub, labeled by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.HTTPDuration, m.HTTPRequests, m.OutboxBacklog, m.MessagesSent,
		m.IndexedBatches, m.DeadLettered, m.SSEConnections, m.SSEDropped,
	)
	return m, reg
}

// Handler exposes the registry on /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observe records one completed HTTP request.
func (m *Metrics) Observe(method, path, status string, dur time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, status).Inc()
	m.HTTPDuration.WithLabelValues(method, path, status).Observe(dur.Seconds())
}

// IndexedBatch records one completed search-indexer batch, satisfying
// search.IndexerMetrics.
func (m *Metrics) IndexedBatch(outcome string) {
	m.IndexedBatches.WithLabelValues(outcome).Inc()
}

// RecordDeadLettered records one batch moved to the dead-letter subject,
// satisfying search.IndexerMetrics.
func (m *Metrics) RecordDeadLettered() {
	m.DeadLettered.Inc()
}

// ConnectionOpened and ConnectionClosed satisfy realtime.HubMetrics.
func (m *Metrics) ConnectionOpened() {
	m.SSEConnections.Inc()
}

func (m *Metrics) ConnectionClosed(reason string) {
	m.SSEConnections.Dec()
	m.SSEDropped.WithLabelValues(reason).Inc()
}
