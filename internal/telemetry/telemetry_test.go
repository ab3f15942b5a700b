package telemetry

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetricsCount(t *testing.T) {
	m := NewMetrics()
	m.Release("succeeded")
	m.Release("failed")
	m.Release("failed")
	m.Rollback("FULL")
	m.AutoFix("basic", true)
	m.ObserveStage("git", 2*time.Second)
	m.PublishAttempts(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.releases.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rollbacks.WithLabelValues("FULL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.autofix.WithLabelValues("basic", "true")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestNilMetricsIgnored(t *testing.T) {
	var m *Metrics
	m.Release("failed")
	m.Rollback("NONE")
	m.ObserveStage("git", time.Second)
	m.AutoFix("ai", false)
	m.PublishAttempts(1)
	assert.NoError(t, m.WriteTextfile("/nonexistent/metrics.prom"))
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Release("succeeded")
	path := filepath.Join(t.TempDir(), "releasekit.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `releasekit_releases_total{outcome="succeeded"} 1`)
}

func TestStageSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := StartStage(context.Background(), "checks")
	EndSpan(ok, nil)
	_, bad := StartStage(context.Background(), "git")
	EndSpan(bad, errors.New("push rejected"))

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "release.checks", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "release.git", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1)
}

func TestSetupTracingWritesSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := SetupTracing(&buf, "test")
	require.NoError(t, err)

	_, span := StartStage(context.Background(), "version")
	EndSpan(span, nil)
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "release.version")
}
