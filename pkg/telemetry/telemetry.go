// Package telemetry sets up OpenTelemetry tracing for the proxy.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects whether and where spans are exported.
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	Version     string
}

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Setup initialises tracing with an OTLP/HTTP exporter.
//
// Tracing is opt-in: when cfg is disabled or has no endpoint, Setup returns a
// no-op shutdown function and the global provider stays the no-op default.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}
	return Install(ctx, cfg, exporter)
}

// Install registers a tracer provider batching spans to exporter as the
// global provider.
func Install(ctx context.Context, cfg Config, exporter sdktrace.SpanExporter) (ShutdownFunc, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "movietracker-sw"
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(name))}
	if cfg.Version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.Version)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return noop, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
