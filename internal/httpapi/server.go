// Package httpapi exposes the engine over HTTP. It is a thin layer: all
// state and decisions live in the chat manager.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"ContextChat/internal/chat"
	"ContextChat/internal/session"
)

type Server struct {
	engine *chat.Manager
	logger *slog.Logger
}

// NewServer builds the HTTP handler for the engine.
func NewServer(engine *chat.Manager, logger *slog.Logger) http.Handler {
	s := &Server{engine: engine, logger: logger}
	mux := http.NewServeMux()

	// /api/sessions              → POST: create session
	// /api/sessions/{id}/history → GET: persisted history
	// /api/sessions/{id}/responses → POST: record assistant response
	// /api/sessions/{id}         → DELETE: clear history
	// /api/chat                  → POST: resolve and dispatch a query
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionWithID)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/health", s.handleHealth)

	return chainMiddlewares(mux, withLogging(logger), withCORS)
}

type createSessionRequest struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

type chatResponse struct {
	SessionID      string           `json:"session_id"`
	OriginalQuery  string           `json:"original_query"`
	ResolvedQuery  string           `json:"resolved_query"`
	ContextApplied bool             `json:"context_applied"`
	Confidence     float64          `json:"confidence"`
	EntitiesUsed   []session.Entity `json:"entities_used,omitempty"`
}

type recordResponseRequest struct {
	Text string `json:"text"`
}

type historyResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []session.Message `json:"messages"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req createSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
	}

	sess, err := s.engine.NewSession(r.Context(), req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID})
}

func (s *Server) handleSessionWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		// /api/sessions/{id}
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.engine.Clear(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		return
	}

	if len(parts) == 2 && parts[1] == "history" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		msgs, err := s.engine.History(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, historyResponse{SessionID: id, Messages: msgs})
		return
	}

	if len(parts) == 2 && parts[1] == "responses" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req recordResponseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			badRequest(w, "text is required")
			return
		}
		if err := s.engine.RecordResponse(r.Context(), id, req.Text); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
		return
	}

	http.NotFound(w, r)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(w, "query is required")
		return
	}

	sessionID, res, err := s.engine.Process(r.Context(), req.SessionID, req.Query)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:      sessionID,
		OriginalQuery:  res.OriginalQuery,
		ResolvedQuery:  res.ResolvedQuery,
		ContextApplied: res.ContextApplied,
		Confidence:     res.Confidence,
		EntitiesUsed:   res.EntitiesUsed,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case session.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case session.IsStorage(err):
		s.logger.Error("storage error", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
	default:
		s.logger.Error("internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
