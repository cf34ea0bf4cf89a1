package telemetry

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/xraph/bpmcore"
)

func TestSetup_StdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), Config{
		Exporter:    ExporterStdout,
		SampleRatio: 1,
		ServiceName: "bpmcore-test",
		Writer:      &buf,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "acquire-jobs")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("acquire-jobs")) {
		t.Errorf("exported output does not contain the span: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("bpmcore-test")) {
		t.Errorf("exported output does not carry the service name")
	}
}

func TestSetup_None(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetup_UnknownExporter(t *testing.T) {
	_, err := Setup(context.Background(), Config{Exporter: "zipkin"})
	if !errors.Is(err, bpmcore.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders(" a=1, b = 2 ,broken,=x,c=")
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("parseHeaders = %v", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("BPMCORE_OTEL_EXPORTER", " OTLPHTTP ")
	t.Setenv("BPMCORE_OTEL_INSECURE", "false")
	t.Setenv("BPMCORE_OTEL_SAMPLE_RATIO", "0.25")
	t.Setenv("BPMCORE_OTEL_HEADERS", "x-api-key=secret")

	cfg := ConfigFromEnv("svc")
	if cfg.Exporter != ExporterOTLPHTTP {
		t.Errorf("Exporter = %q", cfg.Exporter)
	}
	if cfg.Insecure {
		t.Error("Insecure should be false")
	}
	if cfg.SampleRatio != 0.25 {
		t.Errorf("SampleRatio = %v", cfg.SampleRatio)
	}
	if cfg.Headers["x-api-key"] != "secret" {
		t.Errorf("Headers = %v", cfg.Headers)
	}
	if cfg.ServiceName != "svc" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
}
