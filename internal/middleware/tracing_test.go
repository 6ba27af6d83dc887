package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_RecordsServerSpan(t *testing.T) {
	sr, tracer := newRecordingTracer()

	e := echo.New()
	e.Use(Tracing(tracer, propagation.TraceContext{}))

	var handlerSpan trace.SpanContext
	e.POST("/v1/chat/completions", func(c echo.Context) error {
		handlerSpan = trace.SpanContextFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	span := spans[0]

	if got, want := span.Name(), "POST /chat/completions"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
	if span.SpanKind() != trace.SpanKindServer {
		t.Errorf("span kind = %v, want %v", span.SpanKind(), trace.SpanKindServer)
	}
	if v, ok := spanAttr(span, "http.status_code"); !ok || v.AsInt64() != http.StatusOK {
		t.Errorf("http.status_code = %v, want %d", v.AsInt64(), http.StatusOK)
	}
	if !handlerSpan.IsValid() || handlerSpan.SpanID() != span.SpanContext().SpanID() {
		t.Error("handler context should carry the server span")
	}
}

func TestTracing_ContinuesIncomingTrace(t *testing.T) {
	sr, tracer := newRecordingTracer()

	e := echo.New()
	e.Use(Tracing(tracer, propagation.TraceContext{}))
	e.GET("/models", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/models", http.NoBody)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if got := spans[0].SpanContext().TraceID().String(); got != traceID {
		t.Errorf("trace id = %q, want %q", got, traceID)
	}
	if !spans[0].Parent().IsRemote() {
		t.Error("parent span context should be remote")
	}
}

func TestTracing_ServerErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		handler    echo.HandlerFunc
		wantStatus int64
		wantCode   codes.Code
	}{
		{
			name: "written 500",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Proxy error"})
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   codes.Error,
		},
		{
			name: "returned HTTPError",
			handler: func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusBadGateway, "bad gateway")
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   codes.Error,
		},
		{
			name: "client error is not a span error",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   codes.Unset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, tracer := newRecordingTracer()
			e := echo.New()
			e.Use(Tracing(tracer, propagation.TraceContext{}))
			e.GET("/models", tt.handler)

			req := httptest.NewRequest(http.MethodGet, "/models", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			spans := sr.Ended()
			if len(spans) != 1 {
				t.Fatalf("ended spans = %d, want 1", len(spans))
			}
			if v, _ := spanAttr(spans[0], "http.status_code"); v.AsInt64() != tt.wantStatus {
				t.Errorf("http.status_code = %d, want %d", v.AsInt64(), tt.wantStatus)
			}
			if got := spans[0].Status().Code; got != tt.wantCode {
				t.Errorf("status code = %v, want %v", got, tt.wantCode)
			}
		})
	}
}
