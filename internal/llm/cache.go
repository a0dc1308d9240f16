package llm

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// cachedExtraction holds the result of one extraction call.
type cachedExtraction struct {
	Entities  []ExtractedEntity
	Timestamp time.Time
}

// Cached wraps an Understander and memoizes entity extraction for
// byte-identical text. Extraction is deterministic enough at low
// temperature for this to be safe; resolution is never cached because
// the window changes every turn.
type Cached struct {
	inner  Understander
	cache  sync.Map
	logger *slog.Logger
}

// NewCached wraps inner with an extraction cache.
func NewCached(inner Understander, logger *slog.Logger) *Cached {
	return &Cached{inner: inner, logger: logger}
}

// ExtractEntities returns a cached result when the same text was already
// extracted, otherwise delegates. Failed calls are not cached.
func (c *Cached) ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error) {
	key := cacheKey(text)
	if val, ok := c.cache.Load(key); ok {
		cached := val.(cachedExtraction)
		c.logger.Debug("extraction cache hit", "key", key[:16])
		return cached.Entities, nil
	}

	entities, err := c.inner.ExtractEntities(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Store(key, cachedExtraction{Entities: entities, Timestamp: time.Now()})
	return entities, nil
}

// ResolveReference always delegates.
func (c *Cached) ResolveReference(ctx context.Context, req ResolutionRequest) (ResolutionAnswer, error) {
	return c.inner.ResolveReference(ctx, req)
}

// cacheKey generates a cache key from message text
func cacheKey(text string) string {
	h := sha256.New()
	h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum(nil))
}
