package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/sorolabs/soro/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.StoreConfig{RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.AppendRecord(context.Background(), Record{SessionID: "s", Text: "hi"}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
	records, err := s.ListSession(context.Background(), "s", 10)
	if err != nil || records != nil {
		t.Fatalf("expected no records from ephemeral store, got %v, %v", records, err)
	}
}

func TestAppendAndListOrderedBySequence(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sessionID := "session-123"
	if err := s.AppendSession(context.Background(), sessionID, "yo"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	// Inserted out of order; listing must come back by window sequence.
	for _, seq := range []uint64{2, 0, 1} {
		rec := Record{SessionID: sessionID, WindowSequence: seq, Text: "w", Confidence: 0.8, Language: "yo"}
		if err := s.AppendRecord(context.Background(), rec); err != nil {
			t.Fatalf("append record: %v", err)
		}
	}

	records, err := s.ListSession(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		if r.WindowSequence != uint64(i) {
			t.Fatalf("expected sequence %d at position %d, got %d", i, i, r.WindowSequence)
		}
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "transcripts.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendSession(context.Background(), "old-session", "en"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := s.AppendRecord(context.Background(), Record{SessionID: "old-session", Text: "old"}); err != nil {
		t.Fatalf("append record: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.AppendSession(context.Background(), "new-session", "en"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := s.ListSession(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected old session pruned, got %d records", len(records))
	}
}
