package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/llmroute/internal/config"
)

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false}, "gw-1")
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	require.NotNil(t, tp.Tracer())
	_, span := tp.Tracer().Start(context.Background(), "failover.execute")
	span.End()
}

func TestInitTracing_UsesServerDefaults(t *testing.T) {
	cfg := config.DefaultConfig().Tracing
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestSampler(t *testing.T) {
	root := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Name:          "failover.execute",
	}

	assert.Equal(t, sdktrace.RecordAndSample, sampler(1).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.Drop, sampler(0).ShouldSample(root).Decision)
	assert.Equal(t, sdktrace.Drop, sampler(0.5).ShouldSample(root).Decision, "high trace ids fall outside the ratio")

	sampledParent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
	}))
	child := root
	child.ParentContext = sampledParent
	assert.Equal(t, sdktrace.RecordAndSample, sampler(0).ShouldSample(child).Decision, "the parent decision wins")
}

func TestShutdown_NilProvider(t *testing.T) {
	tp := &TracerProvider{}
	assert.NoError(t, tp.Shutdown(context.Background()))
}
