package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(false, "", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(t.Context()))
}

func TestSetupWritesSpansToFile(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	path := filepath.Join(t.TempDir(), "spans.json")
	shutdown, err := Setup(true, path, "test")
	require.NoError(t, err)

	_, span := otel.Tracer("tracing-test").Start(t.Context(), "unit-span")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "unit-span")
	assert.Contains(t, string(data), "office-insight")
}

func TestInstallRecordsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exp := tracetest.NewInMemoryExporter()
	shutdown := install(exp, "test", noopClose)

	_, span := otel.Tracer("tracing-test").Start(t.Context(), "in-memory")
	span.End()

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok)
	require.NoError(t, tp.ForceFlush(t.Context()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "in-memory", spans[0].Name)
	assert.NoError(t, shutdown(context.Background()))
}
