package session

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entity is a (name, type) pair discovered in a message. Type is a
// free-form label assigned by the language model per call; there is no
// closed set of entity types.
type Entity struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	ResolvedFrom string `json:"resolved_from,omitempty"`
}

// Message represents a single chat message. Messages are immutable once
// persisted; new turns always append.
type Message struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	ResolvedContent string    `json:"resolved_content,omitempty"`
	Entities        []Entity  `json:"entities,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Session represents a chat session
type Session struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Resolution is the outcome of resolving one incoming query against the
// session's context window. It is returned to the caller and recorded on
// the persisted message, but never stored as its own row.
type Resolution struct {
	OriginalQuery  string   `json:"original_query"`
	ResolvedQuery  string   `json:"resolved_query"`
	ContextApplied bool     `json:"context_applied"`
	Confidence     float64  `json:"confidence"`
	EntitiesUsed   []Entity `json:"entities_used,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
}
