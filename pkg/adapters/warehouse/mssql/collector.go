package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/microsoft/go-mssqldb"         // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/catalog-enricher/pkg/adapters/warehouse"
	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
	"github.com/ekaya-inc/catalog-enricher/pkg/logging"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/retry"
)

// Collector reads schema and statistics from SQL Server.
type Collector struct {
	db          *sql.DB
	batchSize   int
	concurrency int
	retryCfg    *retry.Config
	logger      *zap.Logger
}

// NewCollector opens a connection using the sqlserver driver, or the Azure AD
// driver when the connection string carries a fedauth parameter.
func NewCollector(ctx context.Context, opts warehouse.Options, logger *zap.Logger) (*Collector, error) {
	driver := "sqlserver"
	if usesAzureAD(opts.URL) {
		driver = "azuresql"
	}

	db, err := sql.Open(driver, opts.URL)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}

	// Test the connection immediately
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	return newCollector(db, opts, logger), nil
}

func newCollector(db *sql.DB, opts warehouse.Options, logger *zap.Logger) *Collector {
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
		db:          db,
		batchSize:   batchSize,
		concurrency: concurrency,
		retryCfg:    retry.DefaultConfig(),
		logger:      logger.Named("warehouse.mssql"),
	}
}

// Close closes the connection pool.
func (c *Collector) Close() error {
	return c.db.Close()
}

// Describe returns the table's columns in ordinal order.
func (c *Collector) Describe(ctx context.Context, table models.TableID) ([]models.ColumnSchema, error) {
	catalog, schema, name := table.Parts()
	query := fmt.Sprintf(`
	SET NOCOUNT ON;
	SELECT COLUMN_NAME, DATA_TYPE
	FROM %s.INFORMATION_SCHEMA.COLUMNS
	WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
	ORDER BY ORDINAL_POSITION
	`, quoteName(catalog))

	columns, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]models.ColumnSchema, error) {
		rows, err := c.db.QueryContext(ctx, query,
			sql.Named("schema", schema),
			sql.Named("table", name),
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var cols []models.ColumnSchema
		for rows.Next() {
			var col models.ColumnSchema
			if err := rows.Scan(&col.Name, &col.DataType); err != nil {
				return nil, fmt.Errorf("scan column row: %w", err)
			}
			cols = append(cols, col)
		}
		return cols, rows.Err()
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
	query := "SELECT COUNT_BIG(*) FROM " + buildFullyQualifiedName(table)

	count, err := retry.DoWithResult(ctx, c.retryCfg, func() (int64, error) {
		var n int64
		err := c.db.QueryRowContext(ctx, query).Scan(&n)
		return n, err
	})
	if err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return count, nil
}

// ColumnStatistics gathers cardinality, null count and numeric aggregates in
// batches of columns, running batches concurrently up to the configured limit.
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
		quoted := quoteName(col.Name)
		exprs = append(exprs,
			fmt.Sprintf("COUNT_BIG(DISTINCT %s)", distinctOperand(quoted, col.DataType)),
			fmt.Sprintf("COUNT_BIG(*) - COUNT_BIG(%s)", quoted),
		)
		if isNumericType(col.DataType) {
			exprs = append(exprs,
				fmt.Sprintf("MIN(CAST(%s AS FLOAT))", quoted),
				fmt.Sprintf("MAX(CAST(%s AS FLOAT))", quoted),
				fmt.Sprintf("AVG(CAST(%s AS FLOAT))", quoted),
			)
		} else {
			exprs = append(exprs, "CAST(NULL AS FLOAT)", "CAST(NULL AS FLOAT)", "CAST(NULL AS FLOAT)")
		}
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), buildFullyQualifiedName(table))

	stats := make([]warehouse.ColumnStats, len(batch))
	err := retry.Do(ctx, c.retryCfg, func() error {
		mins := make([]sql.NullFloat64, len(batch))
		maxs := make([]sql.NullFloat64, len(batch))
		avgs := make([]sql.NullFloat64, len(batch))
		dest := make([]any, 0, len(batch)*5)
		for i := range batch {
			stats[i] = warehouse.ColumnStats{ColumnName: batch[i].Name}
			dest = append(dest, &stats[i].Cardinality, &stats[i].NullCount, &mins[i], &maxs[i], &avgs[i])
		}
		if err := c.db.QueryRowContext(ctx, query).Scan(dest...); err != nil {
			return err
		}
		for i := range batch {
			stats[i].Min = nullableFloat(mins[i])
			stats[i].Max = nullableFloat(maxs[i])
			stats[i].Avg = nullableFloat(avgs[i])
		}
		return nil
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
	query := fmt.Sprintf("SELECT TOP (@limit) * FROM %s ORDER BY NEWID()", buildFullyQualifiedName(table))

	out, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]map[string]any, error) {
		rows, err := c.db.QueryContext(ctx, query, sql.Named("limit", limit))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		names, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("read columns: %w", err)
		}

		var result []map[string]any
		for rows.Next() {
			values := make([]any, len(names))
			ptrs := make([]any, len(names))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, fmt.Errorf("scan sample row: %w", err)
			}
			row := make(map[string]any, len(names))
			for i, name := range names {
				row[name] = values[i]
			}
			result = append(result, row)
		}
		return result, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", table, err)
	}
	return out, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// Ensure Collector implements warehouse.Collector at compile time.
var _ warehouse.Collector = (*Collector)(nil)
