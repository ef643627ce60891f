package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/catalog-enricher/pkg/database"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

// RelationshipRepository provides data access for inferred relationships.
// Records keep their inferred direction. A relationship discovered from
// either table still collapses onto one row through the unordered endpoint key.
type RelationshipRepository interface {
	// UpsertBatch stores relationships, merging duplicates on the canonical key.
	// On conflict the higher confidence wins and non-empty reasoning is kept.
	// Returns the number of distinct relationships written.
	UpsertBatch(ctx context.Context, records []models.RelationshipRecord) (int, error)

	// ListForTable returns relationships in which the table takes part on either side.
	ListForTable(ctx context.Context, tableID models.TableID) ([]*models.RelationshipRecord, error)

	// CountByTable returns how many relationships touch the table.
	CountByTable(ctx context.Context, tableID models.TableID) (int, error)
}

type relationshipRepository struct {
	db *database.DB
}

// NewRelationshipRepository creates a new RelationshipRepository.
func NewRelationshipRepository(db *database.DB) RelationshipRepository {
	return &relationshipRepository{db: db}
}

var _ RelationshipRepository = (*relationshipRepository)(nil)

const relationshipColumns = `
	id, source_table, source_column, target_table, target_column,
	relationship_type, relationship_subtype, confidence, reasoning, detected_by,
	created_at, updated_at`

func (r *relationshipRepository) UpsertBatch(ctx context.Context, records []models.RelationshipRecord) (int, error) {
	merged := models.MergeRelationships(records)
	if len(merged) == 0 {
		return 0, nil
	}

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range merged {
			rec := &merged[i]
			if rec.ID == uuid.Nil {
				rec.ID = uuid.New()
			}
			batch.Queue(`
				INSERT INTO catalog_relationships (
					id, source_table, source_column, target_table, target_column,
					relationship_type, relationship_subtype, confidence, reasoning, detected_by
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (low_table, low_column, high_table, high_column, relationship_type)
				DO UPDATE SET
					confidence = GREATEST(catalog_relationships.confidence, EXCLUDED.confidence),
					reasoning = CASE
						WHEN EXCLUDED.confidence > catalog_relationships.confidence AND EXCLUDED.reasoning <> ''
							THEN EXCLUDED.reasoning
						WHEN catalog_relationships.reasoning = '' THEN EXCLUDED.reasoning
						ELSE catalog_relationships.reasoning
					END,
					relationship_subtype = CASE
						WHEN EXCLUDED.confidence > catalog_relationships.confidence
							THEN EXCLUDED.relationship_subtype
						ELSE catalog_relationships.relationship_subtype
					END,
					detected_by = CASE
						WHEN EXCLUDED.confidence > catalog_relationships.confidence
							THEN EXCLUDED.detected_by
						ELSE catalog_relationships.detected_by
					END,
					source_table = CASE
						WHEN EXCLUDED.confidence > catalog_relationships.confidence
							THEN EXCLUDED.source_table
						ELSE catalog_relationships.source_table
					END,
					source_column = CASE
						WHEN EXCLUDED.confidence > catalog_relationships.confidence
							THEN EXCLUDED.source_column
						ELSE catalog_relationships.source_column
					END,
					target_table = CASE
						WHEN EXCLUDED.confidence > catalog_relationships.confidence
							THEN EXCLUDED.target_table
						ELSE catalog_relationships.target_table
					END,
					target_column = CASE
						WHEN EXCLUDED.confidence > catalog_relationships.confidence
							THEN EXCLUDED.target_column
						ELSE catalog_relationships.target_column
					END,
					updated_at = NOW()
				RETURNING id, created_at, updated_at`,
				rec.ID, string(rec.SourceTable), rec.SourceColumn, string(rec.TargetTable), rec.TargetColumn,
				string(rec.Type), rec.Subtype, rec.Confidence, rec.Reasoning, rec.DetectedBy,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range merged {
			rec := &merged[i]
			if err := results.QueryRow().Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to upsert relationship %s.%s -> %s.%s: %w",
					rec.SourceTable, rec.SourceColumn, rec.TargetTable, rec.TargetColumn, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}
	return len(merged), nil
}

func (r *relationshipRepository) ListForTable(ctx context.Context, tableID models.TableID) ([]*models.RelationshipRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM catalog_relationships
		WHERE source_table = $1 OR target_table = $1
		ORDER BY confidence DESC, source_table, source_column`, string(tableID))
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRelationship)
	if err != nil {
		return nil, fmt.Errorf("failed to scan relationships: %w", err)
	}
	return recs, nil
}

func (r *relationshipRepository) CountByTable(ctx context.Context, tableID models.TableID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM catalog_relationships
		WHERE source_table = $1 OR target_table = $1`, string(tableID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count relationships: %w", err)
	}
	return n, nil
}

func scanRelationship(row pgx.CollectableRow) (*models.RelationshipRecord, error) {
	var (
		rec                 models.RelationshipRecord
		source, target, typ string
	)
	err := row.Scan(
		&rec.ID, &source, &rec.SourceColumn, &target, &rec.TargetColumn,
		&typ, &rec.Subtype, &rec.Confidence, &rec.Reasoning, &rec.DetectedBy,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.SourceTable = models.TableID(source)
	rec.TargetTable = models.TableID(target)
	rec.Type = models.RelationshipType(typ)
	return &rec, nil
}
