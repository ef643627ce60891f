package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/catalog-enricher/pkg/adapters/warehouse"
	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/repositories"
)

// mockTableRepository keeps tables in memory and applies the same claim rules
// as the PostgreSQL repository under one mutex.
type mockTableRepository struct {
	mu     sync.Mutex
	tables map[models.TableID]*models.TableRecord
	claims int
}

var _ repositories.TableRepository = (*mockTableRepository)(nil)

func newMockTableRepository() *mockTableRepository {
	return &mockTableRepository{tables: make(map[models.TableID]*models.TableRecord)}
}

func (m *mockTableRepository) copyOf(rec *models.TableRecord) *models.TableRecord {
	c := *rec
	return &c
}

// put stores a record directly; tests use it to arrange axis states.
func (m *mockTableRepository) put(rec *models.TableRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[rec.ID] = m.copyOf(rec)
}

func (m *mockTableRepository) get(id models.TableID) *models.TableRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.tables[id]; ok {
		return m.copyOf(rec)
	}
	return nil
}

func (m *mockTableRepository) Register(_ context.Context, id models.TableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[id]; !ok {
		m.tables[id] = models.NewTableRecord(id)
	}
	return nil
}

func (m *mockTableRepository) Get(_ context.Context, id models.TableID) (*models.TableRecord, error) {
	if rec := m.get(id); rec != nil {
		return rec, nil
	}
	return nil, fmt.Errorf("table %s: %w", id, apperrors.ErrNotFound)
}

func (m *mockTableRepository) Upsert(_ context.Context, rec *models.TableRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tables[rec.ID]
	if !ok {
		cur = models.NewTableRecord(rec.ID)
		m.tables[rec.ID] = cur
	}
	cur.RowCount = rec.RowCount
	cur.ColumnCount = rec.ColumnCount
	cur.SchemaStatus = rec.SchemaStatus
	cur.SchemaChanges = rec.SchemaChanges
	return nil
}

func (m *mockTableRepository) UpdateSchemaStatus(_ context.Context, id models.TableID, status models.SchemaStatus, changes *models.SchemaChanges) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tables[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	cur.SchemaStatus = status
	cur.SchemaChanges = changes
	return nil
}

func (m *mockTableRepository) matches(f repositories.TableFilter, rec *models.TableRecord) bool {
	if f.Axis != "" {
		status := rec.Status(f.Axis)
		if len(f.States) > 0 && !slices.Contains(f.States, status.State) {
			return false
		}
		if f.MaxRetryCount > 0 && status.RetryCount >= f.MaxRetryCount {
			return false
		}
	}
	if f.EnrichmentCompleted && rec.Enrichment.State != models.AxisStateCompleted {
		return false
	}
	if f.Prefix != "" && !strings.HasPrefix(string(rec.ID), f.Prefix) {
		return false
	}
	return !slices.Contains(f.Exclude, rec.ID)
}

func (m *mockTableRepository) List(_ context.Context, f repositories.TableFilter) ([]*models.TableRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TableRecord
	for _, rec := range m.tables {
		if m.matches(f, rec) {
			out = append(out, m.copyOf(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *mockTableRepository) ScanTables(ctx context.Context, f repositories.TableFilter) ([]models.TableID, error) {
	recs, _ := m.List(ctx, f)
	ids := make([]models.TableID, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

func (m *mockTableRepository) ClaimAxis(_ context.Context, id models.TableID, axis models.Axis, opts repositories.ClaimOptions) (*models.TableRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[id]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", id, apperrors.ErrNotFound)
	}
	status := rec.Status(axis)
	force := opts.Force && axis == models.AxisEnrichment

	if status.State == models.AxisStateInProgress {
		return nil, fmt.Errorf("%s axis of %s: %w", axis, id, apperrors.ErrAxisBusy)
	}
	eligible := ((status.State == models.AxisStateNotStarted || status.State == models.AxisStateFailed) &&
		(status.RetryCount < opts.MaxRetries || force)) ||
		(status.State == models.AxisStateCompleted && force)
	if axis.DependsOnEnrichment() && rec.Enrichment.State != models.AxisStateCompleted {
		eligible = false
	}
	if !eligible {
		return nil, fmt.Errorf("%s axis of %s: %w", axis, id, apperrors.ErrAxisNotEligible)
	}

	now := time.Now().UTC()
	if status.LastAttempt != nil && !now.After(*status.LastAttempt) {
		now = status.LastAttempt.Add(time.Microsecond)
	}
	status.State = models.AxisStateInProgress
	status.LastAttempt = &now
	if force {
		status.RetryCount = 0
	}
	m.claims++
	return m.copyOf(rec), nil
}

// holdsClaim reports whether the axis is still IN_PROGRESS under the claim made at claimedAt.
func holdsClaim(status *models.StatusAxis, claimedAt time.Time) bool {
	return status.State == models.AxisStateInProgress &&
		status.LastAttempt != nil && status.LastAttempt.Equal(claimedAt)
}

func (m *mockTableRepository) CompleteAxis(_ context.Context, id models.TableID, axis models.Axis, claimedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[id]
	if !ok || !holdsClaim(rec.Status(axis), claimedAt) {
		return apperrors.ErrConflict
	}
	now := time.Now().UTC()
	status := rec.Status(axis)
	status.State = models.AxisStateCompleted
	status.LastError = nil
	status.CompletedAt = &now
	return nil
}

func (m *mockTableRepository) FailAxis(_ context.Context, id models.TableID, axis models.Axis, claimedAt time.Time, errText string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[id]
	if !ok || !holdsClaim(rec.Status(axis), claimedAt) {
		return 0, apperrors.ErrConflict
	}
	status := rec.Status(axis)
	status.State = models.AxisStateFailed
	status.RetryCount++
	status.LastError = &errText
	return status.RetryCount, nil
}

func (m *mockTableRepository) ReleaseAxis(_ context.Context, id models.TableID, axis models.Axis, claimedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.tables[id]; ok && holdsClaim(rec.Status(axis), claimedAt) {
		rec.Status(axis).State = models.AxisStateNotStarted
	}
	return nil
}

func (m *mockTableRepository) ResetAxis(_ context.Context, id models.TableID, axis models.Axis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[id]
	if !ok || rec.Status(axis).State == models.AxisStateInProgress {
		return nil
	}
	*rec.Status(axis) = models.StatusAxis{Axis: axis, State: models.AxisStateNotStarted}
	return nil
}

func (m *mockTableRepository) ExpireStale(_ context.Context, axis models.Axis, cutoff time.Time, errText string) ([]models.TableID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []models.TableID
	for id, rec := range m.tables {
		status := rec.Status(axis)
		if status.State != models.AxisStateInProgress {
			continue
		}
		if status.LastAttempt != nil && !status.LastAttempt.Before(cutoff) {
			continue
		}
		status.State = models.AxisStateFailed
		status.RetryCount++
		msg := errText
		status.LastError = &msg
		expired = append(expired, id)
	}
	slices.Sort(expired)
	return expired, nil
}

func (m *mockTableRepository) Delete(_ context.Context, id models.TableID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.tables, id)
	return nil
}

type mockColumnRepository struct {
	mu        sync.Mutex
	columns   map[models.TableID][]*models.ColumnRecord
	deletions int
}

var _ repositories.ColumnRepository = (*mockColumnRepository)(nil)

func newMockColumnRepository() *mockColumnRepository {
	return &mockColumnRepository{columns: make(map[models.TableID][]*models.ColumnRecord)}
}

func (m *mockColumnRepository) GetByTable(_ context.Context, id models.TableID) ([]*models.ColumnRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.columns[id]), nil
}

func (m *mockColumnRepository) GetByTables(_ context.Context, ids []models.TableID) (map[models.TableID][]*models.ColumnRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.TableID][]*models.ColumnRecord)
	for _, id := range ids {
		if cols := m.columns[id]; len(cols) > 0 {
			out[id] = slices.Clone(cols)
		}
	}
	return out, nil
}

func (m *mockColumnRepository) ReplaceForTable(_ context.Context, id models.TableID, columns []*models.ColumnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.columns[id] = slices.Clone(columns)
	return nil
}

func (m *mockColumnRepository) UpdateFields(_ context.Context, id models.TableID, column string, u models.ColumnFieldsUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.columns[id] {
		if c.ColumnName != column {
			continue
		}
		if u.Aliases != nil {
			c.Aliases = u.Aliases
		}
		if u.Description != nil {
			c.Description = *u.Description
		}
		if u.SemanticTag != nil {
			c.SemanticTag = *u.SemanticTag
		}
		return nil
	}
	return fmt.Errorf("column %s.%s: %w", id, column, apperrors.ErrNotFound)
}

func (m *mockColumnRepository) DeleteByTable(_ context.Context, id models.TableID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.columns[id]))
	delete(m.columns, id)
	m.deletions++
	return n, nil
}

type mockRelationshipRepository struct {
	mu      sync.Mutex
	records map[models.RelationshipKey]*models.RelationshipRecord
}

var _ repositories.RelationshipRepository = (*mockRelationshipRepository)(nil)

func newMockRelationshipRepository() *mockRelationshipRepository {
	return &mockRelationshipRepository{records: make(map[models.RelationshipKey]*models.RelationshipRecord)}
}

func (m *mockRelationshipRepository) UpsertBatch(_ context.Context, records []models.RelationshipRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := models.MergeRelationships(records)
	for _, r := range merged {
		key := r.CanonicalKey()
		if cur, ok := m.records[key]; ok {
			cur.Confidence = max(cur.Confidence, r.Confidence)
			if cur.Reasoning == "" {
				cur.Reasoning = r.Reasoning
			}
			continue
		}
		r.ID = uuid.New()
		m.records[key] = &r
	}
	return len(merged), nil
}

func (m *mockRelationshipRepository) ListForTable(_ context.Context, id models.TableID) ([]*models.RelationshipRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RelationshipRecord
	for _, r := range m.records {
		if r.SourceTable == id || r.TargetTable == id {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *mockRelationshipRepository) CountByTable(ctx context.Context, id models.TableID) (int, error) {
	rels, _ := m.ListForTable(ctx, id)
	return len(rels), nil
}

// mockCollector serves fixed tables. Entries in fail make the named
// operation return an error.
type mockCollector struct {
	mu       sync.Mutex
	schemas  map[models.TableID][]models.ColumnSchema
	rows     map[models.TableID]int64
	stats    map[models.TableID]map[string]warehouse.ColumnStats
	samples  map[models.TableID][]map[string]any
	fail     map[string]error
	describe int
	// block, when set, holds Describe until it is closed.
	block chan struct{}
}

var _ warehouse.Collector = (*mockCollector)(nil)

func newMockCollector() *mockCollector {
	return &mockCollector{
		schemas: make(map[models.TableID][]models.ColumnSchema),
		rows:    make(map[models.TableID]int64),
		stats:   make(map[models.TableID]map[string]warehouse.ColumnStats),
		samples: make(map[models.TableID][]map[string]any),
		fail:    make(map[string]error),
	}
}

func (m *mockCollector) Describe(ctx context.Context, id models.TableID) ([]models.ColumnSchema, error) {
	m.mu.Lock()
	m.describe++
	block := m.block
	err := m.fail["describe"]
	schema, ok := m.schemas[id]
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("table %s: %w", id, apperrors.ErrNotFound)
	}
	return schema, nil
}

func (m *mockCollector) RowCount(_ context.Context, id models.TableID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["rowcount"]; err != nil {
		return 0, err
	}
	return m.rows[id], nil
}

func (m *mockCollector) ColumnStatistics(_ context.Context, id models.TableID, _ []models.ColumnSchema) (map[string]warehouse.ColumnStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["stats"]; err != nil {
		return nil, err
	}
	return m.stats[id], nil
}

func (m *mockCollector) Sample(_ context.Context, id models.TableID, limit int) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail["sample"]; err != nil {
		return nil, err
	}
	rows := m.samples[id]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m *mockCollector) Close() error { return nil }

func (m *mockCollector) setFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

var errWarehouseDown = errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
