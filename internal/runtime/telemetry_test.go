package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sorolabs/soro/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPipelineAttributes(t *testing.T) {
	cfg := config.Default()
	cfg.Recognizer.Mode = "exec"
	cfg.Bus.Enabled = true

	attrs := pipelineAttributes(cfg)
	found := map[string]string{}
	for _, a := range attrs {
		found[string(a.Key)] = a.Value.Emit()
	}
	if found["soro.recognizer.mode"] != "exec" {
		t.Fatalf("expected recognizer mode attribute, got %v", found)
	}
	if found["soro.bus.enabled"] != "true" {
		t.Fatalf("expected bus attribute, got %v", found)
	}
	if found["service.name"] != cfg.RuntimeName {
		t.Fatalf("expected service name %q, got %v", cfg.RuntimeName, found)
	}
}

func TestSetupTelemetryStdout(t *testing.T) {
	cfg := config.Default()
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	shutdown, handler, err := setupTelemetry(cfg, log)
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a shutdown function")
	}
	if handler == nil {
		t.Fatal("expected a metrics handler")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
