package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/llm"
	"github.com/ekaya-inc/catalog-enricher/pkg/retry"
)

const defaultRemoteBatch = 64

// RemoteEmbedder calls an OpenAI-compatible embeddings endpoint.
type RemoteEmbedder struct {
	client    llm.LLMClient
	model     string
	dimension int
	batchSize int
	retry     *retry.Config
	logger    *zap.Logger
}

// NewRemoteEmbedder creates an embedder backed by client. A positive
// dimension makes every returned vector width-checked.
func NewRemoteEmbedder(client llm.LLMClient, model string, dimension int, logger *zap.Logger) *RemoteEmbedder {
	return &RemoteEmbedder{
		client:    client,
		model:     model,
		dimension: dimension,
		batchSize: defaultRemoteBatch,
		retry:     retry.DefaultConfig(),
		logger:    logger.Named("embedding-remote"),
	}
}

var _ Embedder = (*RemoteEmbedder)(nil)

func (e *RemoteEmbedder) Name() string {
	return "remote:" + e.model
}

func (e *RemoteEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		vecs, err := retry.DoWithResult(ctx, e.retry, func() ([][]float32, error) {
			v, err := e.client.CreateEmbeddings(ctx, batch, e.model)
			if err != nil {
				// *llm.Error carries its own retryability.
				return nil, llm.ClassifyError(err)
			}
			return v, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
		}

		if e.dimension > 0 {
			for i, v := range vecs {
				if len(v) != e.dimension {
					return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", start+i, len(v), e.dimension)
				}
			}
		}
		out = append(out, vecs...)
	}

	e.logger.Debug("Embedded texts", zap.Int("count", len(texts)), zap.String("model", e.model))
	return out, nil
}
