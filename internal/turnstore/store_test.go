package turnstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/parleylabs/parley-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralWritesAreNoops(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{RetentionMode: "ephemeral"}
	ts, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })

	if err := ts.EnsureSession(ctx, "s1", "prompt"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := ts.AppendTurn(ctx, Record{SessionID: "s1", RecognizedText: "hello"}); err != nil {
		t.Fatalf("append turn: %v", err)
	}
	records, err := ts.ListTurns(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("ephemeral store returned %d records", len(records))
	}
}

func TestAppendAndListTurns(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "turns.db"), RetentionMode: "session"}
	ts, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open turn store: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })

	ctx := context.Background()
	if err := ts.EnsureSession(ctx, "session-123", "You are helpful."); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := ts.AppendTurn(ctx, Record{
		SessionID:      "session-123",
		Exchange:       1,
		RecognizedText: "hello",
		ReplyText:      "hi there",
		ArtifactPath:   "/data/out/response_0001.wav",
		Success:        true,
		DurationMS:     412,
	}); err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if err := ts.AppendTurn(ctx, Record{
		SessionID: "session-123",
		Exchange:  2,
		ErrorKind: "generation",
	}); err != nil {
		t.Fatalf("append failed turn: %v", err)
	}

	records, err := ts.ListTurns(ctx, "session-123", 10)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(records))
	}
	if records[0].ReplyText != "hi there" || !records[0].Success {
		t.Fatalf("first record = %+v", records[0])
	}
	if records[1].ErrorKind != "generation" || records[1].Success {
		t.Fatalf("second record = %+v", records[1])
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.StoreConfig{Path: filepath.Join(tmp, "turns.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	ts, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open turn store: %v", err)
	}
	t.Cleanup(func() { _ = ts.Close() })

	ctx := context.Background()
	ts.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := ts.EnsureSession(ctx, "old-session", ""); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := ts.AppendTurn(ctx, Record{SessionID: "old-session", RecognizedText: "old"}); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	ts.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := ts.EnsureSession(ctx, "new-session", ""); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if err := ts.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := ts.ListTurns(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(records) != 0 {
		t.Fatal("expected old session's turns pruned")
	}
}
