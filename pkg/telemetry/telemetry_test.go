package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestSetup_NoopWhenDisabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"disabled", Config{Enabled: false, Endpoint: "http://localhost:4318"}},
		{"no endpoint", Config{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := otel.GetTracerProvider()

			shutdown, err := Setup(context.Background(), tt.cfg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := shutdown(ctx); err != nil {
				t.Fatalf("noop shutdown should not error: %v", err)
			}
			if otel.GetTracerProvider() != before {
				t.Error("disabled setup must not replace the global provider")
			}
		})
	}
}

func TestSetup_CreatesProviderWhenEnabled(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	// Non-routable address: nothing is exported.
	shutdown, err := Setup(context.Background(), Config{Enabled: true, Endpoint: "http://192.0.2.1:4318", ServiceName: "sw-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInstall_ExportsSpans(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	exporter := tracetest.NewInMemoryExporter()
	shutdown, err := Install(context.Background(), Config{ServiceName: "sw-test", Version: "v1"}, exporter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, span := otel.Tracer("sw-test").Start(context.Background(), "strategy.cache-first", trace.WithSpanKind(trace.SpanKindInternal))
	span.End()

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("expected sdk tracer provider, got %T", otel.GetTracerProvider())
	}
	t.Cleanup(func() { shutdown(context.Background()) })
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush error: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "strategy.cache-first" {
		t.Errorf("unexpected span name %q", spans[0].Name)
	}
	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "sw-test" {
		t.Errorf("expected service.name sw-test, got %q", service)
	}
}
