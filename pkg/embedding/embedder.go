// Package embedding turns table and column summaries into fixed-width vectors
// for the graph store.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrTooWide is returned by Pad when a vector exceeds the target dimension.
var ErrTooWide = errors.New("embedding wider than store dimension")

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name identifies the embedder in logs.
	Name() string
}

// SpaceEmbedder is an embedder whose output may come from one of several
// models. EmbedInSpace also reports the space (producing model) of the
// returned vectors; every vector of one call shares that space.
type SpaceEmbedder interface {
	Embedder
	EmbedInSpace(ctx context.Context, texts []string) ([][]float32, string, error)
}

// spaced is implemented by wrappers that write into their inner embedder's space.
type spaced interface {
	Space() string
}

// SpaceOf returns the vector space a single-model embedder writes into.
func SpaceOf(e Embedder) string {
	if s, ok := e.(spaced); ok {
		return s.Space()
	}
	return e.Name()
}

// EmbedInSpace embeds texts and reports the space of the vectors. Vectors
// from different spaces must never be compared with each other.
func EmbedInSpace(ctx context.Context, e Embedder, texts []string) ([][]float32, string, error) {
	if se, ok := e.(SpaceEmbedder); ok {
		return se.EmbedInSpace(ctx, texts)
	}
	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return nil, "", err
	}
	return vecs, SpaceOf(e), nil
}

// Pad zero-extends vec to dim. Vectors are never truncated: a vector wider
// than dim yields ErrTooWide.
func Pad(vec []float32, dim int) ([]float32, error) {
	switch {
	case len(vec) == dim:
		return vec, nil
	case len(vec) > dim:
		return nil, fmt.Errorf("%w: %d > %d", ErrTooWide, len(vec), dim)
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out, nil
}

// EmbedOneInSpace embeds a single text and reports its space.
func EmbedOneInSpace(ctx context.Context, e Embedder, text string) ([]float32, string, error) {
	vecs, space, err := EmbedInSpace(ctx, e, []string{text})
	if err != nil {
		return nil, "", err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, "", fmt.Errorf("%s: empty embedding", e.Name())
	}
	return vecs[0], space, nil
}
