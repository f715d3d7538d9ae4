package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_EXPORTER", "OTLP")
	t.Setenv("OTLP_ENDPOINT", "collector:4317")
	t.Setenv("TRACING_SAMPLE_RATIO", "0.25")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" || cfg.SampleRatio != 0.25 {
		t.Fatalf("TracingConfigFromEnv = %+v, want enabled otlp exporter at collector:4317 ratio 0.25", cfg)
	}
	if cfg.ServiceName != "entity-state-sim" {
		t.Fatalf("ServiceName = %q, want default", cfg.ServiceName)
	}
}

func TestTracingConfigRejectsOutOfRangeRatio(t *testing.T) {
	t.Setenv("TRACING_SAMPLE_RATIO", "4")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("SampleRatio = %v, want 1", got)
	}
}

func TestInitTracingDisabledInstallsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("span context valid with tracing disabled")
	}
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("InitTracing(zipkin) error = nil, want error")
	}
}
