package otel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTrace(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status codes.Code
	}{
		{name: "ok", status: codes.Unset},
		{name: "error", err: errors.New("provider down"), status: codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := withRecorder(t)

			err := Trace(context.Background(), "ai.generate", []attribute.KeyValue{attribute.String("ai.provider", "stub")},
				func(ctx context.Context) error {
					Annotate(ctx, attribute.String("call.persona", "triton"))
					return tt.err
				})
			assert.Equal(t, tt.err, err)

			spans := rec.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, "ai.generate", spans[0].Name())
			assert.Equal(t, tt.status, spans[0].Status().Code)

			v, ok := attr(spans[0], "call.persona")
			require.True(t, ok)
			assert.Equal(t, "triton", v.AsString())
		})
	}
}

func TestExecuteInsert(t *testing.T) {
	rec := withRecorder(t)

	require.NoError(t, ExecuteInsert(context.Background(), "audit_log", func(context.Context) error { return nil }))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.insert", spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	v, ok := attr(spans[0], "db.collection")
	require.True(t, ok)
	assert.Equal(t, "audit_log", v.AsString())
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := withRecorder(t)

	router := gin.New()
	router.Use(GinMiddleware("/health"))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/twilio/voice", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/twilio/voice/turn", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, target := range []string{"/health", "/twilio/voice?data=c1.secret-context", "/twilio/voice/turn"} {
		method := http.MethodPost
		if target == "/health" {
			method = http.MethodGet
		}
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, target, nil))
	}

	spans := rec.Ended()
	require.Len(t, spans, 2, "health checks are not traced")

	assert.Equal(t, "POST /twilio/voice", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	for _, kv := range spans[0].Attributes() {
		assert.False(t, strings.Contains(kv.Value.Emit(), "secret-context"), "attribute %s leaks the query", kv.Key)
	}

	assert.Equal(t, "POST /twilio/voice/turn", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
