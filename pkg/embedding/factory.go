package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/llm"
)

// New assembles the configured embedder: the remote endpoint first, the
// local model second when one is on disk. Each stage has its own cache so a
// cached vector always belongs to the model that produced it.
func New(cfg *config.EmbeddingConfig, clients llm.LLMClientFactory, logger *zap.Logger) (Embedder, error) {
	var ranked []Embedder

	client, err := clients.CreateEmbeddingClient()
	if err != nil {
		logger.Warn("Remote embedder unavailable", zap.Error(err))
	} else {
		ranked = append(ranked, NewRemoteEmbedder(client, cfg.Model, cfg.Dimension, logger))
	}

	if cfg.LocalModelDir != "" {
		local := NewLocalEmbedder(cfg.LocalModelDir, logger)
		if local.Available() {
			ranked = append(ranked, local)
		} else {
			logger.Warn("Local embedding model not found", zap.String("dir", cfg.LocalModelDir))
		}
	}

	if len(ranked) == 0 {
		return nil, fmt.Errorf("no embedder available")
	}

	stages := make([]Embedder, 0, len(ranked))
	for _, e := range ranked {
		cached, err := NewCachedEmbedder(e, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		stages = append(stages, cached)
	}
	return NewChain(logger, stages...), nil
}
