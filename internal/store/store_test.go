package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"ContextChat/internal/session"
	"ContextChat/internal/telemetry"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := telemetry.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSQLiteStore(db, logger)
}

func createTestSession(t *testing.T, s *SQLiteStore, id string) {
	t.Helper()

	now := time.Now()
	err := s.CreateSession(context.Background(), &session.Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
	})
	if err != nil {
		t.Fatalf("CreateSession(%s) failed: %v", id, err)
	}
}

func appendText(t *testing.T, s *SQLiteStore, sessionID, role, text string) {
	t.Helper()

	err := s.AppendMessage(context.Background(), &session.Message{
		ID:        fmt.Sprintf("msg-%s-%d", sessionID, time.Now().UnixNano()),
		SessionID: sessionID,
		Role:      role,
		Content:   text,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
}

func TestAppendAndMessagesPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	createTestSession(t, s, "s1")

	texts := []string{"first", "second", "third"}
	for _, txt := range texts {
		appendText(t, s, "s1", session.RoleUser, txt)
	}

	msgs, err := s.Messages(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != len(texts) {
		t.Fatalf("expected %d messages, got %d", len(texts), len(msgs))
	}
	for i, txt := range texts {
		if msgs[i].Content != txt {
			t.Errorf("message %d: expected %q, got %q", i, txt, msgs[i].Content)
		}
	}
}

func TestAppendToUnknownSession(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendMessage(context.Background(), &session.Message{
		ID:        "m1",
		SessionID: "missing",
		Role:      session.RoleUser,
		Content:   "hello",
		Timestamp: time.Now(),
	})
	if !session.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	s := newTestStore(t)
	createTestSession(t, s, "s1")
	createTestSession(t, s, "s2")

	appendText(t, s, "s1", session.RoleUser, "only in s1")
	appendText(t, s, "s2", session.RoleUser, "only in s2")

	msgs, err := s.Window(context.Background(), "s2", 10)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	for _, m := range msgs {
		if m.Content == "only in s1" {
			t.Fatalf("message from s1 leaked into s2's window")
		}
		if m.SessionID != "s2" {
			t.Fatalf("expected session id s2, got %s", m.SessionID)
		}
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message in s2, got %d", len(msgs))
	}
}

func TestWindowCapAndRecency(t *testing.T) {
	s := newTestStore(t)
	createTestSession(t, s, "s1")

	for i := 0; i < 15; i++ {
		appendText(t, s, "s1", session.RoleUser, fmt.Sprintf("turn %d", i))
	}

	window, err := s.Window(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if len(window) != 10 {
		t.Fatalf("expected window of 10, got %d", len(window))
	}
	// Most recent messages, chronological, most-recent-last.
	if window[0].Content != "turn 5" {
		t.Errorf("expected oldest window entry 'turn 5', got %q", window[0].Content)
	}
	if window[9].Content != "turn 14" {
		t.Errorf("expected newest window entry 'turn 14', got %q", window[9].Content)
	}
}

func TestWindowShorterThanHistory(t *testing.T) {
	s := newTestStore(t)
	createTestSession(t, s, "s1")
	appendText(t, s, "s1", session.RoleUser, "only one")

	window, err := s.Window(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}
	if len(window) != 1 {
		t.Fatalf("expected 1 message, got %d", len(window))
	}
}

func TestEntitiesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	createTestSession(t, s, "s1")

	err := s.AppendMessage(context.Background(), &session.Message{
		ID:              "m1",
		SessionID:       "s1",
		Role:            session.RoleUser,
		Content:         "What is Sriram's salary?",
		ResolvedContent: "What is Sriram's salary?",
		Entities: []session.Entity{
			{Name: "Sriram", Type: "job_candidate"},
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	msgs, err := s.Messages(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if len(msgs[0].Entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(msgs[0].Entities))
	}
	if msgs[0].Entities[0].Name != "Sriram" || msgs[0].Entities[0].Type != "job_candidate" {
		t.Errorf("unexpected entity: %+v", msgs[0].Entities[0])
	}
}

func TestClearIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	createTestSession(t, s, "s1")
	appendText(t, s, "s1", session.RoleUser, "hello")

	ctx := context.Background()
	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}
	if err := s.Clear(ctx, "never-existed"); err != nil {
		t.Fatalf("Clear on unknown session failed: %v", err)
	}

	msgs, err := s.Messages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history after clear, got %d messages", len(msgs))
	}
}

func TestSessionExists(t *testing.T) {
	s := newTestStore(t)
	createTestSession(t, s, "s1")

	ctx := context.Background()
	ok, err := s.SessionExists(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("expected s1 to exist, got ok=%v err=%v", ok, err)
	}
	ok, err = s.SessionExists(ctx, "nope")
	if err != nil || ok {
		t.Fatalf("expected nope to not exist, got ok=%v err=%v", ok, err)
	}
}
