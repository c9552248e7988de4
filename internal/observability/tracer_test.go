package observability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Fatalf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupTracingStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := SetupTracing(context.Background(), TracerConfig{Enabled: true, Exporter: "stdout", Writer: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer shutdown(context.Background())
	defer SetupTracing(context.Background(), TracerConfig{})

	_, span := StartSpan(context.Background(), "test.span",
		trace.WithAttributes(IntAttr("chunks", 27), StringAttr("dir", "set")))
	EndSpan(span, errors.New("boom"))

	if !strings.Contains(buf.String(), `"Name": "test.span"`) {
		t.Fatalf("span not written to configured writer: got=%q", buf.String())
	}
}

func TestSetupTracingStdoutDefaultsToStderr(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	stdout := os.Stdout
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = stdout })

	shutdown, err := SetupTracing(context.Background(), TracerConfig{Enabled: true, Exporter: "stdout"})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, span := StartSpan(context.Background(), "stderr.span")
	EndSpan(span, nil)
	_ = shutdown(context.Background())
	_, _ = SetupTracing(context.Background(), TracerConfig{})

	os.Stdout = stdout
	_ = w.Close()
	leaked, _ := io.ReadAll(r)
	if bytes.Contains(leaked, []byte("stderr.span")) {
		t.Fatalf("span leaked to stdout: got=%q", leaked)
	}
}

func TestSetupTracingUnsupportedExporter(t *testing.T) {
	if _, err := SetupTracing(context.Background(), TracerConfig{Enabled: true, Exporter: "jaeger"}); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}
