package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"ContextChat/internal/llm"
	"ContextChat/internal/resolver"
	"ContextChat/internal/session"
	"ContextChat/internal/store"
	"ContextChat/internal/telemetry"
)

func newTestManager(t *testing.T, scripted *llm.Scripted) *Manager {
	t.Helper()

	db, err := telemetry.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := store.NewSQLiteStore(db, logger)
	res := resolver.New(scripted, 0.5, logger)
	tracer := noop.NewTracerProvider().Tracer("test")

	return NewManager(sessions, res, 10, tracer, logger)
}

// Turn 1 records the named entity without touching context; turn 2 binds
// "his" to it and rewrites the query.
func TestFollowUpQueryResolution(t *testing.T) {
	scripted := &llm.Scripted{
		Extractions: map[string][]llm.ExtractedEntity{
			"What is Sriram's salary?": {{Name: "Sriram", Type: "job_candidate"}},
		},
		Answers: []llm.ResolutionAnswer{
			{Entity: "Sriram", Type: "job_candidate", Confidence: 0.92, Reasoning: "most recent person"},
		},
	}
	m := newTestManager(t, scripted)
	ctx := context.Background()

	sess, err := m.NewSession(ctx, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	_, res1, err := m.Process(ctx, sess.ID, "What is Sriram's salary?")
	if err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	if res1.ContextApplied {
		t.Fatal("turn 1: expected context_applied=false")
	}

	_, res2, err := m.Process(ctx, sess.ID, "What is his technical skill?")
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}
	if !res2.ContextApplied {
		t.Fatal("turn 2: expected context_applied=true")
	}
	if res2.ResolvedQuery != "What is Sriram's technical skill?" {
		t.Errorf("turn 2: unexpected rewrite %q", res2.ResolvedQuery)
	}
	if len(res2.EntitiesUsed) != 1 ||
		res2.EntitiesUsed[0].Name != "Sriram" ||
		res2.EntitiesUsed[0].ResolvedFrom != "his" {
		t.Errorf("turn 2: unexpected entities_used %+v", res2.EntitiesUsed)
	}

	history, err := m.History(ctx, sess.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(history))
	}
	if len(history[0].Entities) != 1 || history[0].Entities[0].Name != "Sriram" {
		t.Errorf("turn 1 message should carry the extracted entity, got %+v", history[0].Entities)
	}
	if history[1].ResolvedContent != "What is Sriram's technical skill?" {
		t.Errorf("turn 2 message should carry the resolved text, got %q", history[1].ResolvedContent)
	}
}

// A collaborator failure degrades to the original query; the turn still
// persists and no error reaches the caller.
func TestCollaboratorOutageDegrades(t *testing.T) {
	scripted := &llm.Scripted{
		ResolveErr: errors.New("deadline exceeded"),
	}
	m := newTestManager(t, scripted)
	ctx := context.Background()

	sess, err := m.NewSession(ctx, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if _, _, err := m.Process(ctx, sess.ID, "I met Colgate's team"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}

	_, res, err := m.Process(ctx, sess.ID, "What about it?")
	if err != nil {
		t.Fatalf("expected degraded result, got error: %v", err)
	}
	if res.ContextApplied || res.Confidence != 0 {
		t.Fatalf("expected unresolved fallback, got %+v", res)
	}
	if res.ResolvedQuery != "What about it?" {
		t.Errorf("expected original query, got %q", res.ResolvedQuery)
	}

	history, err := m.History(ctx, sess.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("turn must persist even when resolution fails, got %d messages", len(history))
	}
}

func TestProcessCreatesSessionWhenMissing(t *testing.T) {
	m := newTestManager(t, &llm.Scripted{})
	ctx := context.Background()

	id, res, err := m.Process(ctx, "", "hello world")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated session id")
	}
	if res.ContextApplied {
		t.Fatal("expected no context on a first turn")
	}

	// Unknown explicit id also gets created.
	id2, _, err := m.Process(ctx, "never-seen-before", "hello again")
	if err != nil {
		t.Fatalf("Process with unknown id failed: %v", err)
	}
	if id2 != "never-seen-before" {
		t.Fatalf("expected supplied id to be kept, got %s", id2)
	}
}

func TestWindowIsolationAcrossSessions(t *testing.T) {
	scripted := &llm.Scripted{
		Extractions: map[string][]llm.ExtractedEntity{
			"Tell me about Colgate": {{Name: "Colgate", Type: "company"}},
		},
		Answers: []llm.ResolutionAnswer{
			{Entity: "Python", Type: "language", Confidence: 0.9},
		},
	}
	m := newTestManager(t, scripted)
	ctx := context.Background()

	s1, err := m.NewSession(ctx, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	s2, err := m.NewSession(ctx, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if _, _, err := m.Process(ctx, s1.ID, "Tell me about Colgate"); err != nil {
		t.Fatalf("s1 turn failed: %v", err)
	}
	if _, _, err := m.Process(ctx, s2.ID, "I was reading about Python"); err != nil {
		t.Fatalf("s2 turn 1 failed: %v", err)
	}
	if _, _, err := m.Process(ctx, s2.ID, "What about it?"); err != nil {
		t.Fatalf("s2 turn 2 failed: %v", err)
	}

	// The resolution request for s2 must only contain s2's messages.
	for _, msg := range scripted.LastRequest.Window {
		if msg.SessionID != s2.ID {
			t.Fatalf("window leaked message from session %s into %s", msg.SessionID, s2.ID)
		}
		if msg.Content == "Tell me about Colgate" {
			t.Fatalf("s1 content leaked into s2's window")
		}
	}
}

func TestRecordResponseTracksEntities(t *testing.T) {
	scripted := &llm.Scripted{
		Extractions: map[string][]llm.ExtractedEntity{
			"Sriram earns 50 LPA": {{Name: "Sriram", Type: "job_candidate"}},
		},
	}
	m := newTestManager(t, scripted)
	ctx := context.Background()

	sess, err := m.NewSession(ctx, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := m.RecordResponse(ctx, sess.ID, "Sriram earns 50 LPA"); err != nil {
		t.Fatalf("RecordResponse failed: %v", err)
	}

	history, err := m.History(ctx, sess.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	if history[0].Role != session.RoleAssistant {
		t.Errorf("expected assistant role, got %s", history[0].Role)
	}
	if len(history[0].Entities) != 1 || history[0].Entities[0].Name != "Sriram" {
		t.Errorf("expected assistant entities to be tracked, got %+v", history[0].Entities)
	}
}

func TestClearThenHistoryIsEmpty(t *testing.T) {
	m := newTestManager(t, &llm.Scripted{})
	ctx := context.Background()

	sess, err := m.NewSession(ctx, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if _, _, err := m.Process(ctx, sess.ID, "hello"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if err := m.Clear(ctx, sess.ID); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	history, err := m.History(ctx, sess.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history after clear, got %d", len(history))
	}
}

func TestHistoryUnknownSession(t *testing.T) {
	m := newTestManager(t, &llm.Scripted{})

	_, err := m.History(context.Background(), "missing")
	if !session.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestConcurrentTurnsSameSessionSerialize(t *testing.T) {
	m := newTestManager(t, &llm.Scripted{})
	ctx := context.Background()

	sess, err := m.NewSession(ctx, nil)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < turns; j++ {
				if _, _, err := m.Process(ctx, sess.ID, "ping"); err != nil {
					t.Errorf("Process failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	history, err := m.History(ctx, sess.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2*turns {
		t.Fatalf("expected %d messages, got %d", 2*turns, len(history))
	}
}
