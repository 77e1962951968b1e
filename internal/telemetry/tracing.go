package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracingConfig controls where spans go and how many are kept.
type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// TracingConfigFromEnv reads OTEL_EXPORTER_OTLP_ENDPOINT,
// OTEL_EXPORTER_OTLP_INSECURE and OTEL_TRACES_SAMPLER_ARG.
func TracingConfigFromEnv() (TracingConfig, error) {
	cfg := TracingConfig{
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    true,
		SampleRatio: 1,
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Insecure = insecure
	}

	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil || ratio < 0 || ratio > 1 {
			return TracingConfig{}, fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be a ratio between 0 and 1, got %q", v)
		}
		cfg.SampleRatio = ratio
	}
	return cfg, nil
}

// InitTracerProvider installs a global TracerProvider that batches spans to
// an OTLP/gRPC collector and propagates W3C trace context and baggage.
// Sampling follows the parent span and falls back to cfg.SampleRatio for
// new traces.
func InitTracerProvider(ctx context.Context, serviceName, serviceVersion string, cfg TracingConfig) (func(context.Context) error, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := newTracerProvider(serviceName, serviceVersion, cfg, trace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newTracerProvider(serviceName, serviceVersion string, cfg TracingConfig, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	opts = append(opts,
		trace.WithResource(newResource(serviceName, serviceVersion)),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	return trace.NewTracerProvider(opts...)
}

// WithHTTPRoute tags the active span with the mux pattern that matched, which
// otelhttp cannot see because it runs before routing.
func WithHTTPRoute(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Pattern != "" {
			oteltrace.SpanFromContext(r.Context()).SetAttributes(semconv.HTTPRoute(r.Pattern))
		}
		h(w, r)
	}
}
