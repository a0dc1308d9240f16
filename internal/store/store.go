package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ContextChat/internal/session"
)

// SQLiteStore is the durable record of sessions and their messages. All
// operations are keyed by session id; messages from one session are never
// visible through another.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore wraps an initialized database handle.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

// CreateSession persists a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *session.Session) error {
	metadata, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("%w: failed to encode metadata: %v", session.ErrStorage, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, created_at, last_activity, metadata) VALUES (?, ?, ?, ?)",
		sess.ID, sess.CreatedAt, sess.LastActivity, string(metadata),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create session: %v", session.ErrStorage, err)
	}

	s.logger.Info("created session", "session_id", sess.ID)
	return nil
}

// SessionExists reports whether a session row exists.
func (s *SQLiteStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM sessions WHERE id = ?", sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to query session: %v", session.ErrStorage, err)
	}
	return true, nil
}

// AppendMessage atomically appends a message to an existing session and
// bumps the session's last-activity time. The append either fully
// succeeds, including the entity attachment, or fully fails.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *session.Message) error {
	entities, err := json.Marshal(msg.Entities)
	if err != nil {
		return fmt.Errorf("%w: failed to encode entities: %v", session.ErrStorage, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", session.ErrStorage, err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, "SELECT id FROM sessions WHERE id = ?", msg.SessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", session.ErrSessionNotFound, msg.SessionID)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to query session: %v", session.ErrStorage, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (message_id, session_id, role, content, resolved_content, entities, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.ResolvedContent, string(entities), msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to save message: %v", session.ErrStorage, err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET last_activity = ? WHERE id = ?",
		time.Now(), msg.SessionID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update session activity: %v", session.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", session.ErrStorage, err)
	}

	s.logger.Debug("appended message", "session_id", msg.SessionID, "role", msg.Role)
	return nil
}

// Messages returns a session's messages in insertion order, oldest first.
// A non-positive limit returns the full history.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	query := "SELECT message_id, role, content, resolved_content, entities, timestamp FROM messages WHERE session_id = ? ORDER BY id"
	args := []any{sessionID}
	if limit > 0 {
		// Last N rows: order descending, take N, reverse back below.
		query = "SELECT message_id, role, content, resolved_content, entities, timestamp FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load messages: %v", session.ErrStorage, err)
	}
	defer rows.Close()

	messages := []session.Message{}
	for rows.Next() {
		var msg session.Message
		var entities string
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.ResolvedContent, &entities, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: failed to scan message: %v", session.ErrStorage, err)
		}
		if entities != "" {
			if err := json.Unmarshal([]byte(entities), &msg.Entities); err != nil {
				s.logger.Warn("failed to decode message entities", "session_id", sessionID, "error", err)
			}
		}
		msg.SessionID = sessionID
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read messages: %v", session.ErrStorage, err)
	}

	if limit > 0 {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}

	return messages, nil
}

// Window returns the last n messages of a session, oldest first. It is a
// pure read; callers fetch it fresh on every turn.
func (s *SQLiteStore) Window(ctx context.Context, sessionID string, n int) ([]session.Message, error) {
	return s.Messages(ctx, sessionID, n)
}

// Clear deletes all messages in a session. Clearing an unknown or already
// empty session succeeds silently; the operation is idempotent.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("%w: failed to clear session: %v", session.ErrStorage, err)
	}
	s.logger.Info("cleared session", "session_id", sessionID)
	return nil
}
