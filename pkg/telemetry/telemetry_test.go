package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"mercator-hq/sieve/pkg/config"
)

func TestNew(t *testing.T) {
	cfg := config.Default().Telemetry
	var buf bytes.Buffer

	tel, err := New(&cfg, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	tel.Logger().Info("hello")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("expected JSON log line, got %q", buf.String())
	}
	if tel.Metrics() == nil || tel.Tracer() == nil {
		t.Fatal("expected metrics and tracer")
	}
	if tel.Tracer().Enabled() {
		t.Error("tracing is disabled by default")
	}
}

func TestNew_InvalidLogging(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.Logging.Level = "loud"

	if _, err := New(&cfg, nil); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
