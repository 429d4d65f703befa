package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-signs/internal/config"
	"github.com/loqalabs/loqa-signs/internal/eventstore"
	"github.com/loqalabs/loqa-signs/internal/pipeline"
	"github.com/loqalabs/loqa-signs/internal/recognition"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T) *eventstore.Store {
	t.Helper()
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "session"}
	store, err := eventstore.Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestJournalRecordsSession(t *testing.T) {
	store := openStore(t)
	j := New(context.Background(), store, "node-1", newLogger())

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	j.StateChanged(pipeline.StateReport{SessionID: "s1", State: pipeline.StateRunning, Source: "./model", At: at})
	j.LetterLocked(pipeline.LetterReport{SessionID: "s1", Letter: "H", Buffer: []recognition.Letter{"H"}, At: at.Add(time.Second)})
	j.LetterLocked(pipeline.LetterReport{SessionID: "s1", Letter: "I", Buffer: []recognition.Letter{"H", "I"}, At: at.Add(2 * time.Second)})
	j.WordInterpreted(pipeline.WordReport{SessionID: "s1", Word: "HI", At: at.Add(3 * time.Second)})
	j.BufferCleared(pipeline.BufferReport{SessionID: "s1", At: at.Add(4 * time.Second)})
	j.FrameProcessed(pipeline.FrameReport{SessionID: "s1"})
	j.StateChanged(pipeline.StateReport{
		SessionID: "s1",
		State:     pipeline.StateIdle,
		Err:       errors.New("device unplugged"),
		Code:      pipeline.CodeCapture,
		At:        at.Add(5 * time.Second),
	})
	j.Close()

	ctx := context.Background()
	events, err := store.ListSessionEvents(ctx, "s1", 20)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	want := []string{
		eventstore.TypeSessionStarted,
		eventstore.TypeLetterLocked,
		eventstore.TypeLetterLocked,
		eventstore.TypeWord,
		eventstore.TypeBufferCleared,
		eventstore.TypeSessionFailed,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}
	if len(events[1].Payload) == 0 {
		t.Fatal("expected letter payload")
	}

	words, err := store.Words(ctx, "s1")
	if err != nil || len(words) != 1 || words[0] != "HI" {
		t.Fatalf("expected [HI], got %v %v", words, err)
	}
	sessions, err := store.ListSessions(ctx, 1)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected one session, got %v %v", sessions, err)
	}
	if sessions[0].EndReason != "capture: device unplugged" || sessions[0].NodeID != "node-1" {
		t.Fatalf("unexpected session %+v", sessions[0])
	}
}

func TestJournalIgnoresSignalsOutsideSession(t *testing.T) {
	store := openStore(t)
	j := New(context.Background(), store, "node-1", newLogger())

	j.WordInterpreted(pipeline.WordReport{SessionID: "idle", Word: "LOST"})
	j.StateChanged(pipeline.StateReport{SessionID: "idle", State: pipeline.StateIdle, Reason: "initialization error"})
	j.Close()
	j.Close()

	sessions, err := store.ListSessions(context.Background(), 5)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %+v", sessions)
	}
	j.LetterLocked(pipeline.LetterReport{SessionID: "idle", Letter: "A"})
}
