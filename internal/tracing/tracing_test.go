package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.Empty(t, W3CTraceparent(ctx))
}

func TestProviderSpanAndTraceparent(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)
	tracer = tp.Tracer("test")

	ctx, span := StartProviderSpan(context.Background(), "anthropic", "messages", "claude-sonnet-4-20250514")
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "http://example.invalid", nil)
	InjectTraceparent(ctx, req)
	EndSpan(span, errors.New("upstream 529"))

	tp0 := req.Header.Get("traceparent")
	assert.Regexp(t, `^00-[0-9a-f]{32}-[0-9a-f]{16}-0[01]$`, tp0)
	assert.Equal(t, W3CTraceparent(ctx), tp0)

	sc := span.SpanContext()
	assert.Equal(t, "00-"+sc.TraceID().String()+"-"+sc.SpanID().String()+"-01", W3CTraceparent(ctx))

	// An existing header wins.
	req.Header.Set("traceparent", "00-upstream")
	InjectTraceparent(ctx, req)
	assert.Equal(t, "00-upstream", req.Header.Get("traceparent"))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "anthropic.messages", ended[0].Name())
	assert.Equal(t, "upstream 529", ended[0].Status().Description)
}
