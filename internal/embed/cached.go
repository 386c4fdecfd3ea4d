package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings to cache per model.
const DefaultEmbeddingCacheSize = 1024

// CachedBackend wraps a Backend with an LRU cache keyed by model and text.
// Only texts missing from the cache are sent to the inner backend.
type CachedBackend struct {
	inner Backend
	cache *lru.Cache[string, []float32]
}

var _ Backend = (*CachedBackend)(nil)

// NewCachedBackend wraps inner with a cache of cacheSize entries.
func NewCachedBackend(inner Backend, cacheSize int) *CachedBackend {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedBackend{inner: inner, cache: cache}
}

func (c *CachedBackend) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// EmbedBatch serves cached vectors and embeds the rest in one inner call.
// Returned vectors are copies; callers may modify them.
func (c *CachedBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		keys[i] = c.cacheKey(text)
		if vec, ok := c.cache.Get(keys[i]); ok {
			results[i] = slices.Clone(vec)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("backend returned %d vectors for %d texts", len(fresh), len(missTexts))
	}

	for j, i := range missIdx {
		c.cache.Add(keys[i], slices.Clone(fresh[j]))
		results[i] = fresh[j]
	}
	return results, nil
}

// Len returns the number of cached vectors.
func (c *CachedBackend) Len() int {
	return c.cache.Len()
}

// Dimensions passes through to the inner backend.
func (c *CachedBackend) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName passes through to the inner backend.
func (c *CachedBackend) ModelName() string {
	return c.inner.ModelName()
}

// Available passes through to the inner backend.
func (c *CachedBackend) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close purges the cache and closes the inner backend.
func (c *CachedBackend) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// Inner returns the wrapped backend.
func (c *CachedBackend) Inner() Backend {
	return c.inner
}
