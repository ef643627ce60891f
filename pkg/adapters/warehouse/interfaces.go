package warehouse

import (
	"context"

	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

// ColumnStats holds aggregate statistics for one column.
// Min, Max and Avg are only set for numeric columns.
type ColumnStats struct {
	ColumnName  string
	Cardinality int64
	NullCount   int64
	Min         *float64
	Max         *float64
	Avg         *float64
}

// Collector reads schema, statistics and samples from a warehouse.
// Implementations must be safe for concurrent use.
type Collector interface {
	// Describe returns the table's columns in ordinal order.
	// Returns apperrors.ErrNotFound when the table does not exist.
	Describe(ctx context.Context, table models.TableID) ([]models.ColumnSchema, error)

	// RowCount returns the exact number of rows in the table.
	RowCount(ctx context.Context, table models.TableID) (int64, error)

	// ColumnStatistics gathers statistics for the given columns, batching
	// several columns into one query. Missing columns are absent from the map.
	ColumnStatistics(ctx context.Context, table models.TableID, columns []models.ColumnSchema) (map[string]ColumnStats, error)

	// Sample returns up to limit rows in random order keyed by column name.
	Sample(ctx context.Context, table models.TableID, limit int) ([]map[string]any, error)

	// Close releases the underlying connection pool.
	Close() error
}
