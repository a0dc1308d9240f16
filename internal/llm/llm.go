// Package llm talks to the external language-understanding service. The
// engine delegates two jobs to it: extracting entities from a message and
// binding a referring expression to an entity from history. Everything
// else about language stays out of process.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ContextChat/internal/session"
)

// errCollaborator is the sentinel every provider failure wraps, so the
// resolution pipeline can absorb those errors uniformly.
var errCollaborator = session.ErrCollaborator

// ExtractedEntity is one entity reported by the extraction call. Type is
// decided by the model per call; Pronoun marks referring expressions the
// model noticed in the text.
type ExtractedEntity struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Pronoun bool   `json:"is_pronoun"`
	Context string `json:"context,omitempty"`
}

// ResolutionRequest carries everything the model needs to bind a
// referring expression: the ambiguous query, the ordered window of prior
// turns, the tracked candidate entities (most recent first), and the
// expressions detected in the query.
type ResolutionRequest struct {
	Query       string
	Window      []session.Message
	Candidates  []session.Entity
	Expressions []string
}

// ResolutionAnswer is the model's proposed binding for a query.
type ResolutionAnswer struct {
	Entity     string
	Type       string
	Confidence float64
	Reasoning  string
}

// Understander is the narrow interface over the language-understanding
// collaborator. Both operations may fail or time out; callers degrade
// rather than propagate those failures.
type Understander interface {
	ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error)
	ResolveReference(ctx context.Context, req ResolutionRequest) (ResolutionAnswer, error)
}

// extractionPayload is the JSON document both providers are instructed to
// return for an extraction call.
type extractionPayload struct {
	Entities []ExtractedEntity `json:"entities"`
}

// resolutionPayload is the JSON document both providers are instructed to
// return for a resolution call.
type resolutionPayload struct {
	ResolvedEntity string  `json:"resolved_entity"`
	EntityType     string  `json:"entity_type"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

func parseExtraction(raw string) ([]ExtractedEntity, error) {
	var payload extractionPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return nil, fmt.Errorf("%w: unparseable extraction response: %v", session.ErrCollaborator, err)
	}
	return payload.Entities, nil
}

func parseResolution(raw string) (ResolutionAnswer, error) {
	var payload resolutionPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return ResolutionAnswer{}, fmt.Errorf("%w: unparseable resolution response: %v", session.ErrCollaborator, err)
	}
	return ResolutionAnswer{
		Entity:     payload.ResolvedEntity,
		Type:       payload.EntityType,
		Confidence: payload.Confidence,
		Reasoning:  payload.Reasoning,
	}, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON
// in one despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
