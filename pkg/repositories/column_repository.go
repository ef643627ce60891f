package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
	"github.com/ekaya-inc/catalog-enricher/pkg/database"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

// ColumnRepository provides data access for enriched column records.
// Columns of one table are written together by an enrichment pass; between
// passes only the curated fields change.
type ColumnRepository interface {
	// GetByTable returns the columns of a table in warehouse order.
	GetByTable(ctx context.Context, tableID models.TableID) ([]*models.ColumnRecord, error)

	// GetByTables returns the columns of several tables keyed by table.
	// Tables without columns are absent from the map.
	GetByTables(ctx context.Context, tableIDs []models.TableID) (map[models.TableID][]*models.ColumnRecord, error)

	// ReplaceForTable atomically replaces every column of a table.
	ReplaceForTable(ctx context.Context, tableID models.TableID, columns []*models.ColumnRecord) error

	// UpdateFields applies a direct edit to aliases, description or semantic tag.
	UpdateFields(ctx context.Context, tableID models.TableID, columnName string, update models.ColumnFieldsUpdate) error

	// DeleteByTable removes every column of a table and returns how many were removed.
	DeleteByTable(ctx context.Context, tableID models.TableID) (int64, error)
}

type columnRepository struct {
	db *database.DB
}

// NewColumnRepository creates a new ColumnRepository.
func NewColumnRepository(db *database.DB) ColumnRepository {
	return &columnRepository{db: db}
}

var _ ColumnRepository = (*columnRepository)(nil)

const columnColumns = `
	table_id, column_name, data_type, role, semantic_tag, aliases, description,
	cardinality, null_count, null_percentage, min_value, max_value, avg_value,
	sample_values, updated_at`

func (r *columnRepository) GetByTable(ctx context.Context, tableID models.TableID) ([]*models.ColumnRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+columnColumns+`
		FROM catalog_columns
		WHERE table_id = $1
		ORDER BY ordinal, column_name`, string(tableID))
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	cols, err := pgx.CollectRows(rows, scanColumn)
	if err != nil {
		return nil, fmt.Errorf("failed to scan columns: %w", err)
	}
	return cols, nil
}

func (r *columnRepository) GetByTables(ctx context.Context, tableIDs []models.TableID) (map[models.TableID][]*models.ColumnRecord, error) {
	out := make(map[models.TableID][]*models.ColumnRecord, len(tableIDs))
	if len(tableIDs) == 0 {
		return out, nil
	}
	ids := make([]string, len(tableIDs))
	for i, id := range tableIDs {
		ids[i] = string(id)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+columnColumns+`
		FROM catalog_columns
		WHERE table_id = ANY($1)
		ORDER BY table_id, ordinal, column_name`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	cols, err := pgx.CollectRows(rows, scanColumn)
	if err != nil {
		return nil, fmt.Errorf("failed to scan columns: %w", err)
	}
	for _, c := range cols {
		out[c.TableID] = append(out[c.TableID], c)
	}
	return out, nil
}

func (r *columnRepository) ReplaceForTable(ctx context.Context, tableID models.TableID, columns []*models.ColumnRecord) error {
	now := time.Now().UTC()
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM catalog_columns WHERE table_id = $1`, string(tableID)); err != nil {
			return fmt.Errorf("failed to clear columns: %w", err)
		}

		batch := &pgx.Batch{}
		for i, c := range columns {
			var tag *string
			if c.SemanticTag != models.SemanticTagNone {
				s := string(c.SemanticTag)
				tag = &s
			}
			aliases := c.Aliases
			if aliases == nil {
				aliases = []string{}
			}
			samples := c.SampleValues
			if samples == nil {
				samples = []string{}
			}
			batch.Queue(`
				INSERT INTO catalog_columns (
					table_id, column_name, ordinal, data_type, role, semantic_tag, aliases, description,
					cardinality, null_count, null_percentage, min_value, max_value, avg_value,
					sample_values, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
				string(tableID), c.ColumnName, i, c.DataType, string(c.Role), tag, aliases, c.Description,
				c.Cardinality, c.NullCount, c.NullPercentage, c.Min, c.Max, c.Avg,
				samples, now,
			)
			c.TableID = tableID
			c.UpdatedAt = now
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert columns: %w", err)
		}
		return nil
	})
}

func (r *columnRepository) UpdateFields(ctx context.Context, tableID models.TableID, columnName string, update models.ColumnFieldsUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	var tag *string
	if update.SemanticTag != nil {
		s := string(*update.SemanticTag)
		tag = &s
	}

	// NULLIF maps an explicit empty tag back to NULL (no semantic meaning).
	result, err := r.db.Exec(ctx, `
		UPDATE catalog_columns SET
			aliases = COALESCE($3, aliases),
			description = COALESCE($4, description),
			semantic_tag = CASE WHEN $5::boolean THEN NULLIF($6::text, '') ELSE semantic_tag END,
			updated_at = NOW()
		WHERE table_id = $1 AND column_name = $2`,
		string(tableID), columnName, update.Aliases, update.Description, update.SemanticTag != nil, tag)
	if err != nil {
		return fmt.Errorf("failed to update column fields: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("column %s.%s: %w", tableID, columnName, apperrors.ErrNotFound)
	}
	return nil
}

func (r *columnRepository) DeleteByTable(ctx context.Context, tableID models.TableID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM catalog_columns WHERE table_id = $1`, string(tableID))
	if err != nil {
		return 0, fmt.Errorf("failed to delete columns: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanColumn(row pgx.CollectableRow) (*models.ColumnRecord, error) {
	var (
		c       models.ColumnRecord
		tableID string
		role    string
		tag     *string
	)
	err := row.Scan(
		&tableID, &c.ColumnName, &c.DataType, &role, &tag, &c.Aliases, &c.Description,
		&c.Cardinality, &c.NullCount, &c.NullPercentage, &c.Min, &c.Max, &c.Avg,
		&c.SampleValues, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.TableID = models.TableID(tableID)
	c.Role = models.ColumnRole(role)
	if tag != nil {
		c.SemanticTag = models.SemanticTag(*tag)
	}
	return &c, nil
}
