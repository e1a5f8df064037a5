package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)

	logger.Debug("ingest.diff", "added", 2)
	assert.Contains(t, buf.String(), `"msg":"ingest.diff"`)
	assert.Contains(t, buf.String(), `"added":2`)

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.ObserveFiles("proj", "added", 3)
	m.ObserveBatch(BatchOK, 10)
	m.ObserveBatch(BatchRetried, 10)
	m.ObservePoints(OpUpsert, 10)
	m.ObserveQuery(20 * time.Millisecond)
	m.ObserveIngest("success", time.Second)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.files.WithLabelValues("proj", "added")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.chunksEmbedded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embeddingBatches.WithLabelValues(BatchRetried)))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.pointsWritten.WithLabelValues(OpUpsert)))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "debugctx_points_written_total"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFiles("p", "added", 1)
		m.ObserveBatch(BatchOK, 1)
		m.ObservePoints(OpDelete, 1)
		m.ObserveQuery(time.Millisecond)
		m.ObserveIngest("failed", time.Millisecond)
	})
}

func TestInitTracing_NoEndpoint(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{ServiceName: "debugctx"})
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "ingest")
	assert.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))
	assert.NoError(t, tp.Shutdown(context.Background()))
}
