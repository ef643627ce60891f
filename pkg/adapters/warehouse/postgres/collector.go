package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/catalog-enricher/pkg/adapters/warehouse"
	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
	"github.com/ekaya-inc/catalog-enricher/pkg/logging"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/retry"
)

// qualifiedTableName returns a properly quoted "schema"."table" reference.
// The catalog part of the id names the database the pool is connected to.
func qualifiedTableName(table models.TableID) string {
	_, schema, name := table.Parts()
	return pgx.Identifier{schema, name}.Sanitize()
}

// Collector reads schema and statistics from PostgreSQL.
type Collector struct {
	pool        *pgxpool.Pool
	ownedPool   bool
	batchSize   int
	concurrency int
	retryCfg    *retry.Config
	logger      *zap.Logger
}

// NewCollector connects to the warehouse and returns a collector that owns the pool.
func NewCollector(ctx context.Context, opts warehouse.Options, logger *zap.Logger) (*Collector, error) {
	pool, err := pgxpool.New(ctx, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	c := NewCollectorWithPool(pool, opts, logger)
	c.ownedPool = true
	return c, nil
}

// NewCollectorWithPool wraps an existing pool. The pool is not closed by Close.
func NewCollectorWithPool(pool *pgxpool.Pool, opts warehouse.Options, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := opts.StatsBatchSize
	if batchSize <= 0 {
		batchSize = warehouse.DefaultStatsBatchSize
	}
	concurrency := opts.StatsConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Collector{
		pool:        pool,
		batchSize:   batchSize,
		concurrency: concurrency,
		retryCfg:    retry.DefaultConfig(),
		logger:      logger.Named("warehouse.postgres"),
	}
}

// Close releases the pool when the collector created it.
func (c *Collector) Close() error {
	if c.ownedPool && c.pool != nil {
		c.pool.Close()
	}
	return nil
}

// Describe returns the table's columns in ordinal order.
func (c *Collector) Describe(ctx context.Context, table models.TableID) ([]models.ColumnSchema, error) {
	_, schema, name := table.Parts()
	const query = `
		SELECT
			column_name,
			CASE WHEN data_type = 'USER-DEFINED' THEN udt_name ELSE data_type END
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	columns, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]models.ColumnSchema, error) {
		rows, err := c.pool.Query(ctx, query, schema, name)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ColumnSchema, error) {
			var col models.ColumnSchema
			err := row.Scan(&col.Name, &col.DataType)
			return col, err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query columns of %s: %w", table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s: %w", table, apperrors.ErrNotFound)
	}
	return columns, nil
}

// RowCount returns the exact number of rows in the table.
func (c *Collector) RowCount(ctx context.Context, table models.TableID) (int64, error) {
	query := "SELECT COUNT(*) FROM " + qualifiedTableName(table)

	count, err := retry.DoWithResult(ctx, c.retryCfg, func() (int64, error) {
		var n int64
		err := c.pool.QueryRow(ctx, query).Scan(&n)
		return n, err
	})
	if err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return count, nil
}

// ColumnStatistics gathers cardinality, null count and numeric aggregates.
// Columns are analyzed in batches, each batch as a single query; batches run
// concurrently up to the configured limit.
func (c *Collector) ColumnStatistics(ctx context.Context, table models.TableID, columns []models.ColumnSchema) (map[string]warehouse.ColumnStats, error) {
	result := make(map[string]warehouse.ColumnStats, len(columns))
	if len(columns) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, batch := range warehouse.Batches(columns, c.batchSize) {
		g.Go(func() error {
			stats, err := c.batchStatistics(gctx, table, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, s := range stats {
				result[s.ColumnName] = s
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Collector) batchStatistics(ctx context.Context, table models.TableID, batch []models.ColumnSchema) ([]warehouse.ColumnStats, error) {
	exprs := make([]string, 0, len(batch)*5)
	for _, col := range batch {
		quoted := pgx.Identifier{col.Name}.Sanitize()
		distinct := quoted
		if warehouse.IsComplexType(col.DataType) {
			// json and some array element types have no equality operator
			distinct = quoted + "::text"
		}
		exprs = append(exprs,
			fmt.Sprintf("COUNT(DISTINCT %s)", distinct),
			fmt.Sprintf("COUNT(*) - COUNT(%s)", quoted),
		)
		if warehouse.IsNumericType(col.DataType) {
			exprs = append(exprs,
				fmt.Sprintf("MIN(%s)::float8", quoted),
				fmt.Sprintf("MAX(%s)::float8", quoted),
				fmt.Sprintf("AVG(%s)::float8", quoted),
			)
		} else {
			exprs = append(exprs, "NULL::float8", "NULL::float8", "NULL::float8")
		}
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), qualifiedTableName(table))

	stats := make([]warehouse.ColumnStats, len(batch))
	err := retry.Do(ctx, c.retryCfg, func() error {
		dest := make([]any, 0, len(batch)*5)
		for i := range batch {
			stats[i] = warehouse.ColumnStats{ColumnName: batch[i].Name}
			dest = append(dest, &stats[i].Cardinality, &stats[i].NullCount, &stats[i].Min, &stats[i].Max, &stats[i].Avg)
		}
		return c.pool.QueryRow(ctx, query).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %d columns of %s: %w", len(batch), table, err)
	}

	c.logger.Debug("Column statistics batch",
		zap.String("table", table.String()),
		zap.Int("columns", len(batch)),
		zap.String("query", logging.SanitizeQuery(query)))
	return stats, nil
}

// Sample returns up to limit rows in random order.
func (c *Collector) Sample(ctx context.Context, table models.TableID, limit int) ([]map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY random() LIMIT $1", qualifiedTableName(table))

	rows, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]map[string]any, error) {
		rows, err := c.pool.Query(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, pgx.RowToMap)
	})
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", table, err)
	}
	return rows, nil
}

// Ensure Collector implements warehouse.Collector at compile time.
var _ warehouse.Collector = (*Collector)(nil)
