package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Chain tries its embedders in rank order and returns the first success.
// Each stage is its own vector space: callers that store or compare vectors
// use EmbedInSpace to learn which stage answered.
type Chain struct {
	embedders []Embedder
	logger    *zap.Logger
}

// NewChain creates a chain. Nil entries are skipped.
func NewChain(logger *zap.Logger, embedders ...Embedder) *Chain {
	c := &Chain{logger: logger.Named("embedding-chain")}
	for _, e := range embedders {
		if e != nil {
			c.embedders = append(c.embedders, e)
		}
	}
	return c
}

var _ SpaceEmbedder = (*Chain)(nil)

func (c *Chain) Name() string {
	names := make([]string, len(c.embedders))
	for i, e := range c.embedders {
		names[i] = e.Name()
	}
	return "chain[" + strings.Join(names, ",") + "]"
}

func (c *Chain) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, _, err := c.EmbedInSpace(ctx, texts)
	return vecs, err
}

func (c *Chain) EmbedInSpace(ctx context.Context, texts []string) ([][]float32, string, error) {
	if len(c.embedders) == 0 {
		return nil, "", fmt.Errorf("no embedders configured")
	}

	var errs []error
	for _, e := range c.embedders {
		vecs, space, err := EmbedInSpace(ctx, e, texts)
		if err == nil {
			return vecs, space, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		c.logger.Warn("Embedder failed, trying next",
			zap.String("embedder", e.Name()),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
	}
	return nil, "", fmt.Errorf("all embedders failed: %w", errors.Join(errs...))
}
