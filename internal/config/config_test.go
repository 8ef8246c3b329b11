package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.WindowTargetMS != 2000 || cfg.Audio.WindowMinMS != 1000 {
		t.Fatalf("unexpected default window bounds: %+v", cfg.Audio)
	}
	if cfg.Recognizer.Mode != "mock" {
		t.Fatalf("expected default recognizer mode mock, got %q", cfg.Recognizer.Mode)
	}
	if len(cfg.Session.Languages) != 5 {
		t.Fatalf("expected 5 default languages, got %v", cfg.Session.Languages)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SORO_AUDIO_WINDOW_TARGET_MS", "3000")
	t.Setenv("SORO_AUDIO_WINDOW_MIN_MS", "1500")
	t.Setenv("SORO_RECOGNIZER_WORKERS", "8")
	t.Setenv("SORO_RECOGNIZER_QUEUE_DEPTH", "32")
	t.Setenv("SORO_SESSION_LANGUAGES", "auto, en, yo")
	t.Setenv("SORO_SESSION_DRAIN_TIMEOUT_MS", "5000")
	t.Setenv("SORO_STORE_PATH", "./tmp.db")
	t.Setenv("SORO_STORE_RETENTION_MODE", "persistent")
	t.Setenv("SORO_BUS_ENABLED", "true")
	t.Setenv("SORO_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SORO_BUS_EMBEDDED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Audio.WindowTargetMS != 3000 || cfg.Audio.WindowMinMS != 1500 {
		t.Fatalf("expected window override, got %+v", cfg.Audio)
	}
	if cfg.Recognizer.Workers != 8 || cfg.Recognizer.QueueDepth != 32 {
		t.Fatalf("expected recognizer override, got %+v", cfg.Recognizer)
	}
	if len(cfg.Session.Languages) != 3 {
		t.Fatalf("expected 3 languages, got %v", cfg.Session.Languages)
	}
	if cfg.Session.DrainTimeoutMS != 5000 {
		t.Fatalf("expected drain timeout override, got %d", cfg.Session.DrainTimeoutMS)
	}
	if cfg.Store.Path != "./tmp.db" || cfg.Store.RetentionMode != "persistent" {
		t.Fatalf("expected store override, got %+v", cfg.Store)
	}
	if !cfg.Bus.Enabled || cfg.Bus.Embedded || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected bus override, got %+v", cfg.Bus)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "soro.yaml")
	body := []byte("audio:\n  window_target_ms: 4000\n  window_min_ms: 2000\nrecognizer:\n  mode: exec\n  command: whisper-cli\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.WindowTargetMS != 4000 {
		t.Fatalf("expected file override, got %d", cfg.Audio.WindowTargetMS)
	}
	if cfg.Recognizer.Mode != "exec" || cfg.Recognizer.Command != "whisper-cli" {
		t.Fatalf("expected recognizer file override, got %+v", cfg.Recognizer)
	}
}

func TestValidateRejectsBadWindowBounds(t *testing.T) {
	t.Setenv("SORO_AUDIO_WINDOW_MIN_MS", "3000")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error when min window exceeds target")
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("SORO_RECOGNIZER_MODE", "exec")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}
