package telemetry_test

import (
	"context"
	"os"
	"testing"

	"github.com/blizzcasc/casc/telemetry"
)

func TestGetTracerReturnsUsableTracer(t *testing.T) {
	tracer := telemetry.GetTracer("casc/test")
	_, span := tracer.Start(context.Background(), "TestSpan")
	span.End()
}

func TestInitTelemetryDisabled(t *testing.T) {
	os.Setenv("DISABLE_TELEMETRY", "true")
	defer os.Unsetenv("DISABLE_TELEMETRY")

	shutdown, err := telemetry.InitTelemetry(context.Background(), "casc-test")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	shutdown()
}

func TestInitTelemetryStdout(t *testing.T) {
	os.Unsetenv("DISABLE_TELEMETRY")
	os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	shutdown, err := telemetry.InitTelemetry(context.Background(), "casc-test")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	shutdown()
}
