package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestWithHTTPRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart/items/{id}", WithHTTPRoute(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx, span := tp.Tracer("test").Start(context.Background(), "request")
	req := httptest.NewRequest(http.MethodGet, "/cart/items/line-1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	var route string
	for _, attr := range spans[0].Attributes() {
		if attr.Key == semconv.HTTPRouteKey {
			route = attr.Value.AsString()
		}
	}
	if route != "GET /cart/items/{id}" {
		t.Errorf("expected route pattern, got %q", route)
	}
}

func TestInitMeterProvider(t *testing.T) {
	handler, shutdown, err := InitMeterProvider("storefront-test", "0.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	counter, err := otel.Meter("test").Int64Counter("test.requests")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counter.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "test_requests_total") {
		t.Errorf("expected counter in exposition, got:\n%s", body)
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
		t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "")

		cfg, err := TracingConfigFromEnv()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Endpoint != "localhost:4317" || !cfg.Insecure || cfg.SampleRatio != 1 {
			t.Errorf("unexpected defaults: %+v", cfg)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
		t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

		cfg, err := TracingConfigFromEnv()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Endpoint != "collector:4317" || cfg.Insecure || cfg.SampleRatio != 0.25 {
			t.Errorf("unexpected config: %+v", cfg)
		}
	})

	t.Run("rejects bad values", func(t *testing.T) {
		for _, tt := range []struct{ key, value string }{
			{"OTEL_EXPORTER_OTLP_INSECURE", "maybe"},
			{"OTEL_TRACES_SAMPLER_ARG", "1.5"},
			{"OTEL_TRACES_SAMPLER_ARG", "all"},
		} {
			t.Run(tt.key+"="+tt.value, func(t *testing.T) {
				t.Setenv(tt.key, tt.value)
				if _, err := TracingConfigFromEnv(); err == nil {
					t.Error("expected error")
				}
			})
		}
	})
}

func TestNewTracerProvider_Sampling(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := newTracerProvider("storefront-test", "0.0.0", TracingConfig{SampleRatio: 0}, sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "dropped")
	span.End()

	if n := len(recorder.Ended()); n != 0 {
		t.Errorf("expected no sampled spans at ratio 0, got %d", n)
	}
}
