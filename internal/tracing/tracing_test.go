package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/gaddyh/tami2-ai-sub000/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "dev")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_UnknownProtocol(t *testing.T) {
	_, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true, Protocol: "carrier-pigeon"}, "dev")
	assert.Error(t, err)
}

func TestSetup_HTTPExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Setup(context.Background(), config.TelemetryConfig{
		Enabled:  true,
		Protocol: "HTTP",
		Endpoint: "127.0.0.1:4318",
		Insecure: true,
	}, "dev")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}
