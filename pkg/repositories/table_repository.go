package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
	"github.com/ekaya-inc/catalog-enricher/pkg/database"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

// TableRepository provides data access for catalog tables and their three
// status axes. The status columns are the durable record of pipeline progress:
// every transition is a single conditional UPDATE so concurrent workers never
// both win the same axis.
type TableRepository interface {
	// Register inserts a table with every axis NOT_STARTED. Existing tables are left untouched.
	Register(ctx context.Context, id models.TableID) error

	// Get retrieves a table by identifier. Returns apperrors.ErrNotFound if absent.
	Get(ctx context.Context, id models.TableID) (*models.TableRecord, error)

	// Upsert writes row_count, column_count and schema status. Status axes are not touched.
	Upsert(ctx context.Context, rec *models.TableRecord) error

	// UpdateSchemaStatus records the outcome of a schema comparison.
	UpdateSchemaStatus(ctx context.Context, id models.TableID, status models.SchemaStatus, changes *models.SchemaChanges) error

	// ScanTables returns the identifiers of tables matching the filter, ordered by identifier.
	ScanTables(ctx context.Context, filter TableFilter) ([]models.TableID, error)

	// List returns full records of tables matching the filter, ordered by identifier.
	List(ctx context.Context, filter TableFilter) ([]*models.TableRecord, error)

	// ClaimAxis atomically moves an axis to IN_PROGRESS if the transition rules allow it.
	// Returns apperrors.ErrAxisBusy when the axis is already IN_PROGRESS and
	// apperrors.ErrAxisNotEligible when the retry ceiling or the enrichment gate blocks it.
	ClaimAxis(ctx context.Context, id models.TableID, axis models.Axis, opts ClaimOptions) (*models.TableRecord, error)

	// CompleteAxis moves an IN_PROGRESS axis to COMPLETED and clears its error.
	// claimedAt is the last_attempt returned by ClaimAxis; a claim that was
	// expired and re-claimed since then gets apperrors.ErrConflict.
	CompleteAxis(ctx context.Context, id models.TableID, axis models.Axis, claimedAt time.Time) error

	// FailAxis moves an IN_PROGRESS axis to FAILED, increments retry_count and records errText.
	// Returns the new retry count. claimedAt is checked as in CompleteAxis.
	FailAxis(ctx context.Context, id models.TableID, axis models.Axis, claimedAt time.Time, errText string) (int, error)

	// ReleaseAxis returns an IN_PROGRESS axis to NOT_STARTED without counting an attempt.
	// It does nothing when the claim made at claimedAt is no longer current.
	ReleaseAxis(ctx context.Context, id models.TableID, axis models.Axis, claimedAt time.Time) error

	// ResetAxis returns an idle axis to NOT_STARTED with a fresh retry budget.
	// IN_PROGRESS axes are left alone.
	ResetAxis(ctx context.Context, id models.TableID, axis models.Axis) error

	// ExpireStale fails every axis that has been IN_PROGRESS since before cutoff,
	// counting the abandoned attempt. Returns the affected tables.
	ExpireStale(ctx context.Context, axis models.Axis, cutoff time.Time, errText string) ([]models.TableID, error)

	// Delete removes a table; columns and relationships cascade.
	Delete(ctx context.Context, id models.TableID) error
}

// ClaimOptions controls which prior states may be claimed.
type ClaimOptions struct {
	MaxRetries int
	// Force allows re-entering a COMPLETED or exhausted axis and resets its retry budget.
	// Only enrichment honours it.
	Force bool
}

// TableFilter is the predicate of ScanTables and List. Zero fields do not filter.
type TableFilter struct {
	Axis   models.Axis
	States []models.AxisState
	// MaxRetryCount keeps tables whose Axis retry_count is strictly below it.
	MaxRetryCount int
	// EnrichmentCompleted keeps only tables whose enrichment axis is COMPLETED.
	EnrichmentCompleted bool
	// Prefix keeps tables whose identifier starts with it, e.g. "catalog.schema.".
	Prefix  string
	Exclude []models.TableID
	Limit   int
}

type tableRepository struct {
	db *database.DB
}

// NewTableRepository creates a new TableRepository.
func NewTableRepository(db *database.DB) TableRepository {
	return &tableRepository{db: db}
}

var _ TableRepository = (*tableRepository)(nil)

// axisColumns maps an axis to its column prefix. Only these values are ever
// interpolated into SQL.
var axisColumns = map[models.Axis]string{
	models.AxisEnrichment:    "enrichment",
	models.AxisRelationships: "relationships",
	models.AxisGraphImport:   "graph_import",
}

func axisPrefix(axis models.Axis) (string, error) {
	p, ok := axisColumns[axis]
	if !ok {
		return "", fmt.Errorf("unknown status axis %q", axis)
	}
	return p, nil
}

const tableColumns = `
	id, row_count, column_count, schema_status, schema_changes,
	enrichment_state, enrichment_retry_count, enrichment_last_error, enrichment_last_attempt, enrichment_completed_at,
	relationships_state, relationships_retry_count, relationships_last_error, relationships_last_attempt, relationships_completed_at,
	graph_import_state, graph_import_retry_count, graph_import_last_error, graph_import_last_attempt, graph_import_completed_at,
	created_at, updated_at`

func (r *tableRepository) Register(ctx context.Context, id models.TableID) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO catalog_tables (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`, string(id))
	if err != nil {
		return fmt.Errorf("failed to register table: %w", err)
	}
	return nil
}

func (r *tableRepository) Get(ctx context.Context, id models.TableID) (*models.TableRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+tableColumns+` FROM catalog_tables WHERE id = $1`, string(id))
	rec, err := scanTable(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("table %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get table: %w", err)
	}
	return rec, nil
}

func (r *tableRepository) Upsert(ctx context.Context, rec *models.TableRecord) error {
	changes, err := marshalSchemaChanges(rec.SchemaChanges)
	if err != nil {
		return err
	}
	schemaStatus := rec.SchemaStatus
	if schemaStatus == "" {
		schemaStatus = models.SchemaStatusCurrent
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO catalog_tables (id, row_count, column_count, schema_status, schema_changes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET
			row_count = EXCLUDED.row_count,
			column_count = EXCLUDED.column_count,
			schema_status = EXCLUDED.schema_status,
			schema_changes = EXCLUDED.schema_changes,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		string(rec.ID), rec.RowCount, rec.ColumnCount, string(schemaStatus), changes,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert table: %w", err)
	}
	return nil
}

func (r *tableRepository) UpdateSchemaStatus(ctx context.Context, id models.TableID, status models.SchemaStatus, changes *models.SchemaChanges) error {
	raw, err := marshalSchemaChanges(changes)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE catalog_tables
		SET schema_status = $2, schema_changes = $3, updated_at = NOW()
		WHERE id = $1`, string(id), string(status), raw)
	if err != nil {
		return fmt.Errorf("failed to update schema status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("table %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *tableRepository) ScanTables(ctx context.Context, filter TableFilter) ([]models.TableID, error) {
	where, args, err := buildTableFilter(filter)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT id FROM catalog_tables`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan tables: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TableID, error) {
		var id string
		err := row.Scan(&id)
		return models.TableID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read table ids: %w", err)
	}
	return ids, nil
}

func (r *tableRepository) List(ctx context.Context, filter TableFilter) ([]*models.TableRecord, error) {
	where, args, err := buildTableFilter(filter)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+tableColumns+` FROM catalog_tables`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var out []*models.TableRecord
	for rows.Next() {
		rec, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tables: %w", err)
	}
	return out, nil
}

func (r *tableRepository) ClaimAxis(ctx context.Context, id models.TableID, axis models.Axis, opts ClaimOptions) (*models.TableRecord, error) {
	p, err := axisPrefix(axis)
	if err != nil {
		return nil, err
	}
	force := opts.Force && axis == models.AxisEnrichment

	eligible := fmt.Sprintf(`(
			(%[1]s_state IN ('NOT_STARTED', 'FAILED') AND (%[1]s_retry_count < $3 OR $4))
			OR (%[1]s_state = 'COMPLETED' AND $4)
		)`, p)
	if axis.DependsOnEnrichment() {
		eligible += ` AND enrichment_state = 'COMPLETED'`
	}

	query := fmt.Sprintf(`
		UPDATE catalog_tables SET
			%[1]s_state = 'IN_PROGRESS',
			%[1]s_last_attempt = $2,
			%[1]s_retry_count = CASE WHEN $4 THEN 0 ELSE %[1]s_retry_count END,
			updated_at = $2
		WHERE id = $1 AND %[2]s
		RETURNING `+tableColumns, p, eligible)

	row := r.db.QueryRow(ctx, query, string(id), time.Now().UTC(), opts.MaxRetries, force)
	rec, err := scanTable(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim %s axis: %w", axis, err)
	}

	// Lost the conditional update; report why.
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	status := current.Status(axis)
	if status.State == models.AxisStateInProgress {
		return nil, fmt.Errorf("%s axis of %s: %w", axis, id, apperrors.ErrAxisBusy)
	}
	reason := fmt.Sprintf("state=%s retry_count=%d", status.State, status.RetryCount)
	if axis.DependsOnEnrichment() && current.Enrichment.State != models.AxisStateCompleted {
		reason = "enrichment is " + string(current.Enrichment.State)
	}
	return nil, fmt.Errorf("%s axis of %s (%s): %w", axis, id, reason, apperrors.ErrAxisNotEligible)
}

func (r *tableRepository) CompleteAxis(ctx context.Context, id models.TableID, axis models.Axis, claimedAt time.Time) error {
	p, err := axisPrefix(axis)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, fmt.Sprintf(`
		UPDATE catalog_tables SET
			%[1]s_state = 'COMPLETED',
			%[1]s_last_error = NULL,
			%[1]s_completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND %[1]s_state = 'IN_PROGRESS' AND %[1]s_last_attempt = $2`, p), string(id), claimedAt)
	if err != nil {
		return fmt.Errorf("failed to complete %s axis: %w", axis, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s axis of %s is not held by this claim: %w", axis, id, apperrors.ErrConflict)
	}
	return nil
}

func (r *tableRepository) FailAxis(ctx context.Context, id models.TableID, axis models.Axis, claimedAt time.Time, errText string) (int, error) {
	p, err := axisPrefix(axis)
	if err != nil {
		return 0, err
	}
	var retryCount int
	err = r.db.QueryRow(ctx, fmt.Sprintf(`
		UPDATE catalog_tables SET
			%[1]s_state = 'FAILED',
			%[1]s_retry_count = %[1]s_retry_count + 1,
			%[1]s_last_error = $2,
			updated_at = NOW()
		WHERE id = $1 AND %[1]s_state = 'IN_PROGRESS' AND %[1]s_last_attempt = $3
		RETURNING %[1]s_retry_count`, p), string(id), errText, claimedAt).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%s axis of %s is not held by this claim: %w", axis, id, apperrors.ErrConflict)
		}
		return 0, fmt.Errorf("failed to fail %s axis: %w", axis, err)
	}
	return retryCount, nil
}

func (r *tableRepository) ReleaseAxis(ctx context.Context, id models.TableID, axis models.Axis, claimedAt time.Time) error {
	p, err := axisPrefix(axis)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, fmt.Sprintf(`
		UPDATE catalog_tables SET %[1]s_state = 'NOT_STARTED', updated_at = NOW()
		WHERE id = $1 AND %[1]s_state = 'IN_PROGRESS' AND %[1]s_last_attempt = $2`, p), string(id), claimedAt)
	if err != nil {
		return fmt.Errorf("failed to release %s axis: %w", axis, err)
	}
	return nil
}

func (r *tableRepository) ResetAxis(ctx context.Context, id models.TableID, axis models.Axis) error {
	p, err := axisPrefix(axis)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, fmt.Sprintf(`
		UPDATE catalog_tables SET
			%[1]s_state = 'NOT_STARTED',
			%[1]s_retry_count = 0,
			%[1]s_last_error = NULL,
			%[1]s_completed_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND %[1]s_state <> 'IN_PROGRESS'`, p), string(id))
	if err != nil {
		return fmt.Errorf("failed to reset %s axis: %w", axis, err)
	}
	return nil
}

func (r *tableRepository) ExpireStale(ctx context.Context, axis models.Axis, cutoff time.Time, errText string) ([]models.TableID, error) {
	p, err := axisPrefix(axis)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		UPDATE catalog_tables SET
			%[1]s_state = 'FAILED',
			%[1]s_retry_count = %[1]s_retry_count + 1,
			%[1]s_last_error = $2,
			updated_at = NOW()
		WHERE %[1]s_state = 'IN_PROGRESS'
			AND (%[1]s_last_attempt IS NULL OR %[1]s_last_attempt < $1)
		RETURNING id`, p), cutoff, errText)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale %s axes: %w", axis, err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TableID, error) {
		var id string
		err := row.Scan(&id)
		return models.TableID(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read expired tables: %w", err)
	}
	return ids, nil
}

func (r *tableRepository) Delete(ctx context.Context, id models.TableID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM catalog_tables WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("table %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// buildTableFilter renders the WHERE/ORDER/LIMIT tail of a table scan.
func buildTableFilter(f TableFilter) (string, []any, error) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Axis != "" {
		p, err := axisPrefix(f.Axis)
		if err != nil {
			return "", nil, err
		}
		if len(f.States) > 0 {
			states := make([]string, len(f.States))
			for i, s := range f.States {
				states[i] = string(s)
			}
			conds = append(conds, fmt.Sprintf("%s_state = ANY(%s)", p, arg(states)))
		}
		if f.MaxRetryCount > 0 {
			conds = append(conds, fmt.Sprintf("%s_retry_count < %s", p, arg(f.MaxRetryCount)))
		}
	}
	if f.EnrichmentCompleted {
		conds = append(conds, "enrichment_state = 'COMPLETED'")
	}
	if f.Prefix != "" {
		conds = append(conds, fmt.Sprintf("starts_with(id, %s)", arg(f.Prefix)))
	}
	if len(f.Exclude) > 0 {
		ids := make([]string, len(f.Exclude))
		for i, id := range f.Exclude {
			ids[i] = string(id)
		}
		conds = append(conds, fmt.Sprintf("NOT (id = ANY(%s))", arg(ids)))
	}

	var b strings.Builder
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY id")
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + arg(f.Limit))
	}
	return b.String(), args, nil
}

func marshalSchemaChanges(c *models.SchemaChanges) ([]byte, error) {
	if !c.HasChanges() {
		return nil, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema changes: %w", err)
	}
	return raw, nil
}

func scanTable(row pgx.Row) (*models.TableRecord, error) {
	var (
		rec           models.TableRecord
		id            string
		schemaStatus  string
		schemaChanges []byte
		axes          = [3]*models.StatusAxis{&rec.Enrichment, &rec.Relationships, &rec.GraphImport}
		states        [3]string
	)

	err := row.Scan(
		&id, &rec.RowCount, &rec.ColumnCount, &schemaStatus, &schemaChanges,
		&states[0], &axes[0].RetryCount, &axes[0].LastError, &axes[0].LastAttempt, &axes[0].CompletedAt,
		&states[1], &axes[1].RetryCount, &axes[1].LastError, &axes[1].LastAttempt, &axes[1].CompletedAt,
		&states[2], &axes[2].RetryCount, &axes[2].LastError, &axes[2].LastAttempt, &axes[2].CompletedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ID = models.TableID(id)
	rec.SchemaStatus = models.SchemaStatus(schemaStatus)
	for i, axis := range models.ValidAxes {
		axes[i].Axis = axis
		axes[i].State = models.AxisState(states[i])
	}
	if len(schemaChanges) > 0 {
		var changes models.SchemaChanges
		if err := json.Unmarshal(schemaChanges, &changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema changes: %w", err)
		}
		rec.SchemaChanges = &changes
	}
	return &rec, nil
}
