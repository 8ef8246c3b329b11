package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sorolabs/soro/internal/config"
	"github.com/sorolabs/soro/internal/language"
	"github.com/sorolabs/soro/internal/recognizer"
)

func newTestRegistry(t *testing.T, sessCfg config.SessionConfig) *Registry {
	t.Helper()
	log := discardLogger()
	engine := &stubEngine{fn: func(ctx context.Context, pcm []byte, rate int, lang language.Tag) (recognizer.Result, error) {
		return recognizer.Result{Text: "ok", DetectedLanguage: language.English}, nil
	}}
	d := recognizer.NewDispatcher(context.Background(),
		config.RecognizerConfig{TimeoutMS: 2000, Workers: 2, QueueDepth: 8}, engine, log)
	d.Start()
	t.Cleanup(d.Close)

	r, err := NewRegistry(context.Background(), sessCfg, testAudioConfig(), d, nil, nil, log)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(t, testSessionConfig())

	a, err := r.Create(&captureEmitter{}, language.Auto)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := r.Create(&captureEmitter{}, language.Yoruba)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID() == b.ID() {
		t.Fatal("session ids must be unique")
	}
	if b.Language() != language.Yoruba {
		t.Fatalf("expected yo, got %s", b.Language())
	}

	got, err := r.Get(a.ID())
	if err != nil || got != a {
		t.Fatalf("get returned %v, %v", got, err)
	}
	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if r.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Count())
	}
}

func TestCreateFallsBackToDefaultLanguage(t *testing.T) {
	cfg := testSessionConfig()
	cfg.DefaultLanguage = "en"
	r := newTestRegistry(t, cfg)

	c, err := r.Create(&captureEmitter{}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Language() != language.English {
		t.Fatalf("expected default en, got %s", c.Language())
	}
}

func TestCreateRejectsDisabledLanguage(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Languages = []string{"en"}
	r := newTestRegistry(t, cfg)

	if _, err := r.Create(&captureEmitter{}, language.Hausa); err == nil {
		t.Fatal("expected rejection of a language outside the configured set")
	}
}

func TestRemoveRequiresClosedSession(t *testing.T) {
	r := newTestRegistry(t, testSessionConfig())

	c, err := r.Create(&captureEmitter{}, language.Auto)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Remove(c.ID()); err == nil {
		t.Fatal("removing a live session must fail")
	}

	c.Stop()
	if err := r.Remove(c.ID()); err != nil {
		t.Fatalf("remove after stop: %v", err)
	}
	if _, err := r.Get(c.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
	if err := r.Remove(c.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double removal, got %v", err)
	}
}

func TestSweepStopsIdleSessions(t *testing.T) {
	cfg := testSessionConfig()
	cfg.IdleTimeoutMS = 10
	r := newTestRegistry(t, cfg)

	c, err := r.Create(&captureEmitter{}, language.Auto)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected 1 session swept, got %d", n)
	}
	if c.Status() != StatusClosed {
		t.Fatalf("swept session should be closed, got %s", c.Status())
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestSweepKeepsActiveSessions(t *testing.T) {
	r := newTestRegistry(t, testSessionConfig())

	if _, err := r.Create(&captureEmitter{}, language.Auto); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n := r.Sweep(); n != 0 {
		t.Fatalf("expected nothing swept, got %d", n)
	}
	if r.Count() != 1 {
		t.Fatalf("expected session retained, got %d", r.Count())
	}
}

func TestCloseStopsAllSessions(t *testing.T) {
	r := newTestRegistry(t, testSessionConfig())

	a, _ := r.Create(&captureEmitter{}, language.Auto)
	b, _ := r.Create(&captureEmitter{}, language.Auto)
	r.Close()

	if a.Status() != StatusClosed || b.Status() != StatusClosed {
		t.Fatalf("expected all sessions closed, got %s and %s", a.Status(), b.Status())
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}
