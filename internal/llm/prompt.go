package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// buildExtractionPrompt asks the model to extract entities from one
// message with freely chosen types. Types are never drawn from a fixed
// vocabulary; the model decides per call.
func buildExtractionPrompt(text string) string {
	var b strings.Builder
	b.WriteString("You are an entity extraction assistant.\n\n")
	b.WriteString("TASK: Extract ALL entities from the message and assign each an appropriate type.\n\n")
	b.WriteString("IMPORTANT: Entity types are NOT predefined. Determine the most appropriate type for each entity from context.\n\n")
	fmt.Fprintf(&b, "Message: %s\n\n", text)
	b.WriteString("Instructions:\n")
	b.WriteString("- Identify all named entities (people, places, things, concepts).\n")
	b.WriteString("- Assign a descriptive, specific type to each entity.\n")
	b.WriteString("- ALWAYS identify pronouns (he, she, it, they, his, her, their, this, that) and mark them with is_pronoun=true.\n")
	b.WriteString("- For pronouns, set type to the kind of entity they likely refer to.\n\n")
	b.WriteString("Return ONLY valid JSON (no markdown, no extra text):\n")
	b.WriteString(`{"entities": [{"name": "entity_name", "type": "your_determined_type", "is_pronoun": false, "context": "brief context"}]}`)
	return b.String()
}

// buildResolutionPrompt asks the model to bind the detected referring
// expressions to the single best-matching entity from the window.
func buildResolutionPrompt(req ResolutionRequest) string {
	var b strings.Builder
	b.WriteString("You are a context resolution assistant.\n\n")
	b.WriteString("TASK: Decide what the referring expressions in the current query point to, using the chat history.\n\n")
	b.WriteString("Chat History (with entities):\n")
	for _, msg := range req.Window {
		entities, _ := json.Marshal(msg.Entities)
		fmt.Fprintf(&b, "- %s: %q\n  Entities: %s\n", capitalize(msg.Role), msg.Content, entities)
	}
	b.WriteString("\nCandidate entities (most recent first):\n")
	for _, cand := range req.Candidates {
		fmt.Fprintf(&b, "- %s (%s)\n", cand.Name, cand.Type)
	}
	fmt.Fprintf(&b, "\nCurrent Query: %s\n", req.Query)
	fmt.Fprintf(&b, "Referring Expressions: %s\n\n", strings.Join(req.Expressions, ", "))
	b.WriteString("Instructions:\n")
	b.WriteString("- Pick the single entity the expressions most likely refer to.\n")
	b.WriteString("- Prefer candidates from the list; consider recency and semantic fit.\n")
	b.WriteString("- Express certainty as a confidence between 0.0 and 1.0.\n\n")
	b.WriteString("Return ONLY valid JSON (no markdown, no extra text):\n")
	b.WriteString(`{"resolved_entity": "entity name", "entity_type": "type", "confidence": 0.95, "reasoning": "brief explanation"}`)
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
