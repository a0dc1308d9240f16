package llm

import (
	"context"
	"sync"
)

// Scripted is a deterministic Understander for tests. Extraction answers
// are keyed by message text; resolution returns the queued answers in
// order, or the last one when the queue runs out.
type Scripted struct {
	mu sync.Mutex

	Extractions map[string][]ExtractedEntity
	ExtractErr  error

	Answers    []ResolutionAnswer
	ResolveErr error

	ExtractCalls int
	ResolveCalls int
	LastRequest  ResolutionRequest
}

// ExtractEntities returns the scripted entities for the given text.
func (s *Scripted) ExtractEntities(_ context.Context, text string) ([]ExtractedEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ExtractCalls++
	if s.ExtractErr != nil {
		return nil, s.ExtractErr
	}
	return s.Extractions[text], nil
}

// ResolveReference returns the next scripted answer.
func (s *Scripted) ResolveReference(_ context.Context, req ResolutionRequest) (ResolutionAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ResolveCalls++
	s.LastRequest = req
	if s.ResolveErr != nil {
		return ResolutionAnswer{}, s.ResolveErr
	}
	if len(s.Answers) == 0 {
		return ResolutionAnswer{}, nil
	}
	answer := s.Answers[0]
	if len(s.Answers) > 1 {
		s.Answers = s.Answers[1:]
	}
	return answer, nil
}
