package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder memoizes embeddings by content hash.
type CachedEmbedder struct {
	next  Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps next with an in-process cache holding up to maxEntries vectors.
func NewCachedEmbedder(next Embedder, maxEntries int64) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (e *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.lookup(ctx, "q:", text, e.next.EmbedQuery)
}

func (e *CachedEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.lookup(ctx, "d:", text, e.next.EmbedDocument)
}

// Close releases the cache goroutines.
func (e *CachedEmbedder) Close() {
	e.cache.Close()
}

func (e *CachedEmbedder) lookup(ctx context.Context, prefix, text string, embed func(context.Context, string) ([]float32, error)) ([]float32, error) {
	key := prefix + contentHash(text)
	if cached, ok := e.cache.Get(key); ok {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, vec, 1)
	return vec, nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
