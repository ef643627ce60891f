package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/embedding"
	"github.com/ekaya-inc/catalog-enricher/pkg/graph"
)

const defaultSearchLimit = 10

// SearchOptions narrows a catalog search.
type SearchOptions struct {
	K        int
	MinScore float64
	// Label restricts hits to graph.LabelTable or graph.LabelColumn.
	Label string
}

// SearchHit is one catalog search match.
type SearchHit struct {
	Label       string
	Key         string
	Score       float64
	Description string
}

// CatalogSearch answers free-text questions against the exported graph by
// embedding the query and ranking nodes by cosine similarity.
type CatalogSearch struct {
	store    graph.Store
	embedder embedding.Embedder
	logger   *zap.Logger
}

func NewCatalogSearch(store graph.Store, embedder embedding.Embedder, logger *zap.Logger) *CatalogSearch {
	return &CatalogSearch{
		store:    store,
		embedder: embedder,
		logger:   logger.Named("search"),
	}
}

// Search returns up to opts.K nodes closest to query.
func (s *CatalogSearch) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}
	if opts.K <= 0 {
		opts.K = defaultSearchLimit
	}
	switch opts.Label {
	case "", graph.LabelTable, graph.LabelColumn:
	default:
		return nil, fmt.Errorf("unknown node label %q", opts.Label)
	}

	vec, space, err := embedding.EmbedOneInSpace(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	vec, err = embedding.Pad(vec, s.store.Dimension())
	if err != nil {
		return nil, err
	}

	// Only vectors from the query's own space are comparable with it.
	matches, err := s.store.QueryNearest(ctx, vec, opts.K, graph.QueryOptions{
		Label:    opts.Label,
		Space:    space,
		MinScore: opts.MinScore,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query graph: %w", err)
	}

	hits := make([]SearchHit, 0, len(matches))
	for _, m := range matches {
		desc, _ := m.Node.Properties["description"].(string)
		if desc == "" {
			desc, _ = m.Node.Properties["summary"].(string)
		}
		hits = append(hits, SearchHit{
			Label:       m.Node.Label,
			Key:         m.Node.Key,
			Score:       m.Score,
			Description: desc,
		})
	}

	s.logger.Debug("Search finished",
		zap.String("query", query),
		zap.String("space", space),
		zap.Int("hits", len(hits)))
	return hits, nil
}
