package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/adapters/warehouse"
)

func init() {
	warehouse.Register(warehouse.Registration{
		Type:        "postgres",
		DisplayName: "PostgreSQL",
		Factory: func(ctx context.Context, opts warehouse.Options, logger *zap.Logger) (warehouse.Collector, error) {
			return NewCollector(ctx, opts, logger)
		},
	})
}
