package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// CachedEmbedder memoizes vectors by input text. Only misses reach the
// wrapped embedder, in one call per Embed. The cache holds one vector space,
// so it wraps a single model, never a Chain.
type CachedEmbedder struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps next with an LRU cache holding up to size vectors.
func NewCachedEmbedder(next Embedder, size int) (*CachedEmbedder, error) {
	if _, ok := next.(SpaceEmbedder); ok {
		return nil, fmt.Errorf("cannot cache %s: it answers from more than one vector space", next.Name())
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

var _ Embedder = (*CachedEmbedder)(nil)

func (c *CachedEmbedder) Name() string {
	return "cached:" + c.next.Name()
}

// Space reports the wrapped embedder's space.
func (c *CachedEmbedder) Space() string {
	return SpaceOf(c.next)
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var (
		missTexts []string
		missIdx   = map[string][]int{}
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		if _, seen := missIdx[t]; !seen {
			missTexts = append(missTexts, t)
		}
		missIdx[t] = append(missIdx[t], i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("%s returned %d vectors for %d texts", c.next.Name(), len(vecs), len(missTexts))
	}
	for j, t := range missTexts {
		c.cache.Add(t, vecs[j])
		for _, i := range missIdx[t] {
			out[i] = vecs[j]
		}
	}
	return out, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}
