package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "debugctx"

// Batch outcomes
const (
	BatchOK      = "ok"
	BatchRetried = "retried"
	BatchFailed  = "failed"
	BatchFatal   = "fatal"
)

// Point write operations
const (
	OpUpsert  = "upsert"
	OpRefresh = "refresh"
	OpDelete  = "delete"
)

// Metrics holds the server's Prometheus collectors on a private registry.
// All methods are safe on a nil receiver so components can run unmetered.
type Metrics struct {
	Registry *prometheus.Registry

	files            *prometheus.CounterVec
	chunksEmbedded   prometheus.Counter
	embeddingBatches *prometheus.CounterVec
	pointsWritten    *prometheus.CounterVec
	queryDuration    prometheus.Histogram
	ingestDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files seen by ingestion, by change kind.",
		}, []string{"project", "change"}),
		chunksEmbedded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_embedded_total",
			Help:      "Chunks successfully embedded.",
		}),
		embeddingBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batches_total",
			Help:      "Embedding batch attempts by outcome.",
		}, []string{"outcome"}),
		pointsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_written_total",
			Help:      "Vector store point writes by operation.",
		}, []string{"op"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end retrieval latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Ingestion job duration by final status.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
	}

	m.Registry.MustRegister(
		m.files,
		m.chunksEmbedded,
		m.embeddingBatches,
		m.pointsWritten,
		m.queryDuration,
		m.ingestDuration,
		prometheus.NewGoCollector(),
	)
	return m
}

// ObserveFiles counts n files of a change kind (added, modified, deleted, unchanged)
func (m *Metrics) ObserveFiles(project, change string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.files.WithLabelValues(project, change).Add(float64(n))
}

// ObserveBatch records one batch attempt outcome and, for ok, its size
func (m *Metrics) ObserveBatch(outcome string, items int) {
	if m == nil {
		return
	}
	m.embeddingBatches.WithLabelValues(outcome).Inc()
	if outcome == BatchOK && items > 0 {
		m.chunksEmbedded.Add(float64(items))
	}
}

// ObservePoints counts points written by op
func (m *Metrics) ObservePoints(op string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pointsWritten.WithLabelValues(op).Add(float64(n))
}

// ObserveQuery records a retrieval latency
func (m *Metrics) ObserveQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.Observe(d.Seconds())
}

// ObserveIngest records a finished job
func (m *Metrics) ObserveIngest(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestDuration.WithLabelValues(status).Observe(d.Seconds())
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics listener on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	logger = OrDefault(logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
