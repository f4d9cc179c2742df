package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultTracerConfig(t *testing.T) {
	cfg := DefaultTracerConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, "bundage", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Insecure)
}

func TestNewTracer_Disabled(t *testing.T) {
	tr, err := NewTracer(context.Background(), DefaultTracerConfig(), "dev")
	require.NoError(t, err)
	assert.False(t, tr.IsEnabled())
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestSpanHelpers_NoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "bundle", attribute.String("target", "browser"))
	require.NotNil(t, span)

	assert.NotPanics(t, func() {
		AddSpanEvent(ctx, "assets", attribute.Int("count", 2))
		EndSpan(span, errors.New("failed"))
	})
}
