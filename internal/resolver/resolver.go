// Package resolver decides whether an incoming query depends on earlier
// context and, when it does, binds its referring expressions to a
// concrete entity from the session's context window.
package resolver

import (
	"context"
	"log/slog"
	"strings"

	"ContextChat/internal/llm"
	"ContextChat/internal/session"
)

// Resolver detects referring expressions, gathers candidate entities from
// the context window, and consults the language model to pick a binding.
type Resolver struct {
	llm       llm.Understander
	threshold float64
	logger    *slog.Logger
}

// New creates a Resolver. Bindings below threshold are rejected and the
// query is left unresolved.
func New(u llm.Understander, threshold float64, logger *slog.Logger) *Resolver {
	return &Resolver{llm: u, threshold: threshold, logger: logger}
}

// ExtractEntities extracts the entities a message text is about. A failed
// or unparseable collaborator call degrades to an empty result; a missing
// entity lowers resolution quality but never breaks the pipeline.
func (r *Resolver) ExtractEntities(ctx context.Context, text string) []llm.ExtractedEntity {
	entities, err := r.llm.ExtractEntities(ctx, text)
	if err != nil {
		r.logger.Warn("entity extraction failed", "error", err)
		return nil
	}
	return entities
}

// Resolve processes one incoming query against the session's context
// window. It returns the resolution outcome plus the entities to attach
// to the persisted message. At most one resolution call is made per
// query; on any failure the original query is returned unresolved.
func (r *Resolver) Resolve(ctx context.Context, query string, window []session.Message) (session.Resolution, []session.Entity) {
	extracted := r.ExtractEntities(ctx, query)

	exprs := DetectReferringExpressions(query)
	seen := make(map[string]bool, len(exprs))
	for _, e := range exprs {
		seen[e] = true
	}

	// Fold in pronouns the model noticed that the lexical scan missed,
	// and keep the concrete entities for attachment to the message.
	var msgEntities []session.Entity
	for _, e := range extracted {
		if e.Pronoun {
			w := strings.ToLower(e.Name)
			if w != "" && !seen[w] {
				seen[w] = true
				exprs = append(exprs, w)
			}
			continue
		}
		msgEntities = append(msgEntities, session.Entity{Name: e.Name, Type: e.Type})
	}

	if len(exprs) == 0 {
		// Fully specified query: no resolution call, nothing rewritten.
		return session.Resolution{
			OriginalQuery:  query,
			ResolvedQuery:  query,
			ContextApplied: false,
			Confidence:     1.0,
		}, msgEntities
	}

	if len(window) == 0 {
		r.logger.Debug("referring expression with no history", "query", query)
		return unresolved(query), msgEntities
	}

	candidates := gatherCandidates(window)

	answer, err := r.llm.ResolveReference(ctx, llm.ResolutionRequest{
		Query:       query,
		Window:      window,
		Candidates:  candidates,
		Expressions: exprs,
	})
	if err != nil {
		r.logger.Warn("reference resolution failed", "error", err)
		return unresolved(query), msgEntities
	}

	if answer.Entity == "" || answer.Confidence < r.threshold {
		r.logger.Info("resolution rejected",
			"entity", answer.Entity,
			"confidence", answer.Confidence,
			"threshold", r.threshold)
		return unresolved(query), msgEntities
	}

	if !isCandidate(candidates, answer.Entity) {
		// The model found an entity in the raw window text that the
		// tracker missed; the confidence gate already vouched for it.
		r.logger.Info("resolved to untracked entity",
			"entity", answer.Entity,
			"confidence", answer.Confidence)
	}

	rewritten := query
	used := make([]session.Entity, 0, len(exprs))
	for _, expr := range exprs {
		rewritten = Rewrite(rewritten, expr, answer.Entity)
		used = append(used, session.Entity{
			Name:         answer.Entity,
			Type:         answer.Type,
			ResolvedFrom: expr,
		})
	}

	msgEntities = append(msgEntities, used...)

	return session.Resolution{
		OriginalQuery:  query,
		ResolvedQuery:  rewritten,
		ContextApplied: true,
		Confidence:     answer.Confidence,
		EntitiesUsed:   used,
		Reasoning:      answer.Reasoning,
	}, msgEntities
}

// gatherCandidates collects entities from window messages most recent
// first, deduplicated by name, first (most recent) mention wins.
func gatherCandidates(window []session.Message) []session.Entity {
	seen := map[string]bool{}
	var candidates []session.Entity
	for i := len(window) - 1; i >= 0; i-- {
		for _, e := range window[i].Entities {
			key := strings.ToLower(e.Name)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, session.Entity{Name: e.Name, Type: e.Type})
		}
	}
	return candidates
}

func isCandidate(candidates []session.Entity, name string) bool {
	for _, c := range candidates {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func unresolved(query string) session.Resolution {
	return session.Resolution{
		OriginalQuery:  query,
		ResolvedQuery:  query,
		ContextApplied: false,
		Confidence:     0,
	}
}
