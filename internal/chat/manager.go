// Package chat orchestrates one conversational turn end to end: fetch the
// context window, resolve references, and persist the new message.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"ContextChat/internal/resolver"
	"ContextChat/internal/session"
)

// Store is the durable session store the manager runs against.
type Store interface {
	CreateSession(ctx context.Context, sess *session.Session) error
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	AppendMessage(ctx context.Context, msg *session.Message) error
	Messages(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
	Window(ctx context.Context, sessionID string, n int) ([]session.Message, error)
	Clear(ctx context.Context, sessionID string) error
}

// Manager coordinates the session store and the resolver. Turns within a
// session are serialized; different sessions proceed in parallel.
type Manager struct {
	store    Store
	resolver *resolver.Resolver
	tracer   trace.Tracer
	logger   *slog.Logger
	window   int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a Manager with the given default context window size.
func NewManager(store Store, res *resolver.Resolver, windowSize int, tracer trace.Tracer, logger *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		resolver: res,
		tracer:   tracer,
		logger:   logger,
		window:   windowSize,
		locks:    map[string]*sync.Mutex{},
	}
}

// lockFor returns the mutex serializing turns for one session. Keyed
// locks keep cross-session parallelism intact.
func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// NewSession creates a session with an opaque id.
func (m *Manager) NewSession(ctx context.Context, metadata map[string]string) (*session.Session, error) {
	now := time.Now()
	sess := &session.Session{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     metadata,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Process handles one incoming user query: it fetches a fresh context
// window, resolves any referring expression, and persists the new message
// with its entities. Persistence happens regardless of whether resolution
// succeeded, so history grows monotonically. An empty or unknown session
// id creates the session first.
//
// Process is the only collaborator-calling path; its window read followed
// by the append runs under the session's lock so two concurrent turns
// cannot both see the same "most recent" entity.
func (m *Manager) Process(ctx context.Context, sessionID, query string) (string, *session.Resolution, error) {
	sessionID, err := m.ensureSession(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := m.tracer.Start(ctx, "process_turn")
	defer span.End()

	start := time.Now()

	window, err := m.store.Window(ctx, sessionID, m.window)
	if err != nil {
		return sessionID, nil, err
	}

	res, msgEntities := m.resolver.Resolve(ctx, query, window)

	// Persist even when the client went away mid-turn; an interrupted
	// request must not leave the history missing its message.
	persistCtx := context.WithoutCancel(ctx)
	msg := &session.Message{
		ID:              uuid.New().String(),
		SessionID:       sessionID,
		Role:            session.RoleUser,
		Content:         query,
		ResolvedContent: res.ResolvedQuery,
		Entities:        msgEntities,
		Timestamp:       time.Now(),
	}
	if err := m.store.AppendMessage(persistCtx, msg); err != nil {
		return sessionID, nil, err
	}

	m.logger.Info("processed turn",
		"session_id", sessionID,
		"context_applied", res.ContextApplied,
		"confidence", res.Confidence,
		"duration_ms", time.Since(start).Milliseconds())

	return sessionID, &res, nil
}

// RecordResponse appends an assistant message, extracting its entities so
// later turns can refer back to them.
func (m *Manager) RecordResponse(ctx context.Context, sessionID, text string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	var entities []session.Entity
	for _, e := range m.resolver.ExtractEntities(ctx, text) {
		if e.Pronoun {
			continue
		}
		entities = append(entities, session.Entity{Name: e.Name, Type: e.Type})
	}

	msg := &session.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      session.RoleAssistant,
		Content:   text,
		Entities:  entities,
		Timestamp: time.Now(),
	}
	return m.store.AppendMessage(context.WithoutCancel(ctx), msg)
}

// History returns the full persisted history of a session, oldest first.
func (m *Manager) History(ctx context.Context, sessionID string) ([]session.Message, error) {
	exists, err := m.store.SessionExists(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, session.ErrSessionNotFound
	}
	return m.store.Messages(ctx, sessionID, 0)
}

// Clear removes all messages from a session. Clearing an unknown session
// succeeds; the operation is idempotent.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return m.store.Clear(ctx, sessionID)
}

// ensureSession returns a valid session id, creating a session when the
// id is empty or unknown.
func (m *Manager) ensureSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		sess, err := m.NewSession(ctx, nil)
		if err != nil {
			return "", err
		}
		return sess.ID, nil
	}

	exists, err := m.store.SessionExists(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !exists {
		now := time.Now()
		sess := &session.Session{ID: sessionID, CreatedAt: now, LastActivity: now}
		if err := m.store.CreateSession(ctx, sess); err != nil {
			return "", err
		}
	}
	return sessionID, nil
}
