package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer_ExportsSpansOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("instawork-test", &buf, 1.0)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "unit.span")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "unit.span")
	assert.Contains(t, buf.String(), "instawork-test")
}

func TestInitTracer_ZeroRatioDropsRootSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer("instawork-test", &buf, 0)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "unit.span")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.NotContains(t, buf.String(), "unit.span")
}
