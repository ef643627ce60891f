package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/catalog-enricher/pkg/adapters/warehouse"
	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/llm"
	"github.com/ekaya-inc/catalog-enricher/pkg/logging"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/prompts"
	"github.com/ekaya-inc/catalog-enricher/pkg/repositories"
)

const defaultSampleLimit = 1000

// errReleaseAxis ends a claimed run without counting an attempt.
var errReleaseAxis = errors.New("nothing to process")

// IsNotClaimed reports whether err means another worker holds the axis or the
// transition rules do not allow it yet. Callers treat it as a no-op.
func IsNotClaimed(err error) bool {
	return errors.Is(err, apperrors.ErrAxisBusy) || errors.Is(err, apperrors.ErrAxisNotEligible)
}

// EnrichOptions controls a single enrichment run.
type EnrichOptions struct {
	// ForceRefresh re-enters a COMPLETED or exhausted axis and deletes the
	// table's column records before regenerating them.
	ForceRefresh bool
}

// EnrichResult summarizes one enrichment run.
type EnrichResult struct {
	TableID       models.TableID
	RowCount      int64
	Columns       int
	Roles         map[models.ColumnRole]int
	Tags          map[models.SemanticTag]int
	NamingSources map[string]int
	SchemaChanges *models.SchemaChanges
	Duration      time.Duration
}

// RelationshipDetectionResult summarizes one relationship detection run.
type RelationshipDetectionResult struct {
	TableID models.TableID
	// Skipped is set when the table had no columns; the axis went back to NOT_STARTED.
	Skipped      bool
	Targets      int
	Stored       int
	ByType       map[models.RelationshipType]int
	PairErrors   int
	Discarded    int
	DetectedWith string
}

// TableStatusReport is the persisted state of a table plus what the sweep
// would do with it now.
type TableStatusReport struct {
	Table         *models.TableRecord
	Columns       int
	Relationships int
	// Eligible reports per axis whether a claim would succeed now.
	Eligible map[models.Axis]bool
	// Stale lists axes stuck IN_PROGRESS longer than the stale timeout.
	Stale []models.Axis
}

// PipelineDeps bundles the collaborators of a PipelineOrchestrator.
// Inferencer and Exporter may be nil when those stages are not configured.
type PipelineDeps struct {
	Tables        repositories.TableRepository
	Columns       repositories.ColumnRepository
	Relationships repositories.RelationshipRepository
	Collector     warehouse.Collector
	Classifier    *ColumnClassifier
	Detector      *GeoDetector
	Namer         Namer
	NamingPool    *llm.WorkerPool
	Inferencer    *RelationshipInferencer
	Exporter      *GraphExporter
}

// PipelineOrchestrator drives a table through enrichment, relationship
// detection and graph import. Progress lives only in the persisted status
// axes; every run starts by claiming its axis.
type PipelineOrchestrator struct {
	tables        repositories.TableRepository
	columns       repositories.ColumnRepository
	relationships repositories.RelationshipRepository
	collector     warehouse.Collector
	classifier    *ColumnClassifier
	detector      *GeoDetector
	namer         Namer
	namingPool    *llm.WorkerPool
	inferencer    *RelationshipInferencer
	exporter      *GraphExporter
	cfg           config.PipelineConfig
	sampleLimit   int
	logger        *zap.Logger
}

// NewPipelineOrchestrator creates an orchestrator. Zero pipeline settings
// take their defaults.
func NewPipelineOrchestrator(deps PipelineDeps, cfg config.PipelineConfig, sampleLimit int, logger *zap.Logger) *PipelineOrchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.MaxConcurrentTables <= 0 {
		cfg.MaxConcurrentTables = 4
	}
	if sampleLimit <= 0 {
		sampleLimit = defaultSampleLimit
	}
	if deps.Classifier == nil {
		deps.Classifier = NewColumnClassifier(config.ClassifierConfig{})
	}
	if deps.Detector == nil {
		deps.Detector = NewGeoDetector(config.DetectorConfig{}, nil, logger)
	}
	if deps.Namer == nil {
		deps.Namer = NewNamingChain(logger)
	}
	if deps.NamingPool == nil {
		deps.NamingPool = llm.NewWorkerPool(llm.DefaultWorkerPoolConfig(), logger)
	}
	return &PipelineOrchestrator{
		tables:        deps.Tables,
		columns:       deps.Columns,
		relationships: deps.Relationships,
		collector:     deps.Collector,
		classifier:    deps.Classifier,
		detector:      deps.Detector,
		namer:         deps.Namer,
		namingPool:    deps.NamingPool,
		inferencer:    deps.Inferencer,
		exporter:      deps.Exporter,
		cfg:           cfg,
		sampleLimit:   sampleLimit,
		logger:        logger.Named("pipeline"),
	}
}

// Config returns the effective pipeline settings.
func (o *PipelineOrchestrator) Config() config.PipelineConfig {
	return o.cfg
}

// withClaim claims the axis, runs fn and records the outcome on the axis.
func (o *PipelineOrchestrator) withClaim(ctx context.Context, id models.TableID, axis models.Axis, opts repositories.ClaimOptions, fn func(ctx context.Context, table *models.TableRecord) error) error {
	opts.MaxRetries = o.cfg.MaxRetries
	table, err := o.tables.ClaimAxis(ctx, id, axis, opts)
	if err != nil {
		return err
	}
	o.logger.Info("Axis claimed",
		zap.String("table", id.String()),
		zap.String("axis", string(axis)),
		zap.Int("retry_count", table.Status(axis).RetryCount),
		zap.Bool("force", opts.Force))

	// The claim's last_attempt identifies it; a stale claim that was expired
	// and taken over cannot overwrite the newer claim's outcome.
	var claimedAt time.Time
	if at := table.Status(axis).LastAttempt; at != nil {
		claimedAt = *at
	}

	runErr := fn(ctx, table)

	// Status writes must land even when the run was cancelled.
	statusCtx := context.WithoutCancel(ctx)
	switch {
	case errors.Is(runErr, errReleaseAxis):
		if err := o.tables.ReleaseAxis(statusCtx, id, axis, claimedAt); err != nil {
			return fmt.Errorf("failed to release %s axis: %w", axis, err)
		}
		o.logger.Info("Axis released", zap.String("table", id.String()), zap.String("axis", string(axis)))
		return nil
	case runErr != nil:
		retries, err := o.tables.FailAxis(statusCtx, id, axis, claimedAt, logging.StatusErrorText(runErr))
		if err != nil {
			o.logger.Error("Failed to record axis failure",
				zap.String("table", id.String()),
				zap.String("axis", string(axis)),
				zap.Error(err))
		}
		o.logger.Error("Axis failed",
			zap.String("table", id.String()),
			zap.String("axis", string(axis)),
			zap.Int("retry_count", retries),
			zap.Int("max_retries", o.cfg.MaxRetries),
			zap.String("error", logging.SanitizeError(runErr)))
		return fmt.Errorf("%s of %s failed: %w", axis, id, runErr)
	}

	if err := o.tables.CompleteAxis(statusCtx, id, axis, claimedAt); err != nil {
		return fmt.Errorf("failed to complete %s axis: %w", axis, err)
	}
	return nil
}

// EnrichTable collects, classifies, detects and names every column of the
// table and persists the result. Returns an IsNotClaimed error when the
// enrichment axis cannot be claimed.
func (o *PipelineOrchestrator) EnrichTable(ctx context.Context, id models.TableID, opts EnrichOptions) (*EnrichResult, error) {
	if _, err := models.ParseTableID(string(id)); err != nil {
		return nil, err
	}
	if err := o.tables.Register(ctx, id); err != nil {
		return nil, err
	}

	var result *EnrichResult
	err := o.withClaim(ctx, id, models.AxisEnrichment, repositories.ClaimOptions{Force: opts.ForceRefresh},
		func(ctx context.Context, table *models.TableRecord) error {
			var err error
			result, err = o.enrich(ctx, table, opts)
			return err
		})
	if err != nil {
		return nil, err
	}

	// Downstream results describe the previous columns.
	for _, axis := range []models.Axis{models.AxisRelationships, models.AxisGraphImport} {
		if err := o.tables.ResetAxis(ctx, id, axis); err != nil {
			o.logger.Warn("Failed to reset downstream axis",
				zap.String("table", id.String()),
				zap.String("axis", string(axis)),
				zap.Error(err))
		}
	}
	return result, nil
}

func (o *PipelineOrchestrator) enrich(ctx context.Context, table *models.TableRecord, opts EnrichOptions) (*EnrichResult, error) {
	start := time.Now()
	id := table.ID

	stored, err := o.columns.GetByTable(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored columns: %w", err)
	}
	if opts.ForceRefresh && len(stored) > 0 {
		deleted, err := o.columns.DeleteByTable(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to clear columns: %w", err)
		}
		o.logger.Info("Cleared columns for forced refresh",
			zap.String("table", id.String()),
			zap.Int64("deleted", deleted))
	}

	schema, err := o.collector.Describe(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	if len(schema) == 0 {
		return nil, fmt.Errorf("table %s has no columns", id)
	}
	rowCount, err := o.collector.RowCount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	stats, err := o.collector.ColumnStatistics(ctx, id, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to collect column statistics: %w", err)
	}
	rows, err := o.collector.Sample(ctx, id, o.sampleLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to sample table: %w", err)
	}
	samples := warehouse.SampleValues(rows, models.MaxSampleValues)

	columns := make([]*models.ColumnRecord, len(schema))
	for i, s := range schema {
		col := &models.ColumnRecord{
			TableID:      id,
			ColumnName:   s.Name,
			DataType:     s.DataType,
			SampleValues: samples[s.Name],
		}
		if st, ok := stats[s.Name]; ok {
			col.Cardinality = st.Cardinality
			col.NullCount = st.NullCount
			col.Min, col.Max, col.Avg = st.Min, st.Max, st.Avg
			if rowCount > 0 {
				col.NullPercentage = float64(st.NullCount) / float64(rowCount) * 100
			}
		}
		col.Role = o.classifier.Classify(col, rowCount)
		col.SemanticTag = o.detector.Detect(ctx, col)
		columns[i] = col
	}

	sources, err := o.nameColumns(ctx, columns, describeTable(id, rowCount))
	if err != nil {
		return nil, err
	}

	if err := o.columns.ReplaceForTable(ctx, id, columns); err != nil {
		return nil, fmt.Errorf("failed to store columns: %w", err)
	}

	changes := compareSchemas(stored, schema)
	table.RowCount = rowCount
	table.ColumnCount = len(columns)
	table.SchemaStatus = models.SchemaStatusCurrent
	table.SchemaChanges = nil
	if len(stored) > 0 && changes.HasChanges() {
		table.SchemaStatus = models.SchemaStatusChanged
		table.SchemaChanges = changes
		o.logger.Info("Schema changed since last enrichment",
			zap.String("table", id.String()),
			zap.String("changes", changes.Summary()))
	}
	if err := o.tables.Upsert(ctx, table); err != nil {
		return nil, fmt.Errorf("failed to store table: %w", err)
	}

	result := &EnrichResult{
		TableID:       id,
		RowCount:      rowCount,
		Columns:       len(columns),
		Roles:         make(map[models.ColumnRole]int),
		Tags:          make(map[models.SemanticTag]int),
		NamingSources: sources,
		SchemaChanges: table.SchemaChanges,
		Duration:      time.Since(start),
	}
	for _, c := range columns {
		result.Roles[c.Role]++
		if c.SemanticTag != models.SemanticTagNone {
			result.Tags[c.SemanticTag]++
		}
	}
	o.logger.Info("Table enriched",
		zap.String("table", id.String()),
		zap.Int64("row_count", rowCount),
		zap.Int("columns", len(columns)),
		zap.Int("semantic_tags", len(result.Tags)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// nameColumns fills aliases and descriptions in place and returns how many
// columns each naming stage produced.
func (o *PipelineOrchestrator) nameColumns(ctx context.Context, columns []*models.ColumnRecord, tableContext string) (map[string]int, error) {
	items := make([]llm.WorkItem[*NamingResult], len(columns))
	for i, col := range columns {
		items[i] = llm.WorkItem[*NamingResult]{
			ID: col.ColumnName,
			Execute: func(ctx context.Context) (*NamingResult, error) {
				return o.namer.Name(ctx, NamingInput{Column: col, TableContext: tableContext})
			},
		}
	}

	sources := make(map[string]int)
	for i, r := range llm.Process(ctx, o.namingPool, items, nil) {
		if r.Err != nil {
			return nil, fmt.Errorf("failed to name column %s: %w", r.ID, r.Err)
		}
		columns[i].Aliases = r.Result.Aliases
		columns[i].Description = r.Result.Description
		sources[r.Result.Source]++
	}
	return sources, nil
}

// DetectRelationships infers relationships between the table and every other
// enriched table. A table without columns goes back to NOT_STARTED.
func (o *PipelineOrchestrator) DetectRelationships(ctx context.Context, id models.TableID) (*RelationshipDetectionResult, error) {
	if o.inferencer == nil {
		return nil, errors.New("relationship inference is not configured")
	}

	result := &RelationshipDetectionResult{TableID: id}
	err := o.withClaim(ctx, id, models.AxisRelationships, repositories.ClaimOptions{},
		func(ctx context.Context, table *models.TableRecord) error {
			columns, err := o.columns.GetByTable(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load columns: %w", err)
			}
			if len(columns) == 0 {
				result.Skipped = true
				return errReleaseAxis
			}

			others, err := o.tables.List(ctx, repositories.TableFilter{
				EnrichmentCompleted: true,
				Exclude:             []models.TableID{id},
			})
			if err != nil {
				return fmt.Errorf("failed to list comparison tables: %w", err)
			}
			if len(others) == 0 {
				o.logger.Info("No other enriched tables to compare with", zap.String("table", id.String()))
				return nil
			}

			ids := make([]models.TableID, len(others))
			for i, t := range others {
				ids[i] = t.ID
			}
			byTable, err := o.columns.GetByTables(ctx, ids)
			if err != nil {
				return fmt.Errorf("failed to load comparison columns: %w", err)
			}
			var targets []prompts.TableContext
			for _, t := range others {
				if cols := byTable[t.ID]; len(cols) > 0 {
					targets = append(targets, tableContext(t, cols))
				}
			}
			result.Targets = len(targets)

			inferred, err := o.inferencer.Infer(ctx, tableContext(table, columns), targets)
			if err != nil {
				return err
			}
			result.ByType = inferred.ByType
			result.PairErrors = inferred.PairErrors
			result.Discarded = inferred.Discarded
			result.DetectedWith = o.inferencer.judge.Name()

			if inferred.Pairs > 0 && inferred.PairErrors == inferred.Pairs {
				return fmt.Errorf("all %d relationship inference calls failed", inferred.Pairs)
			}
			if len(inferred.Relationships) > 0 {
				stored, err := o.relationships.UpsertBatch(ctx, inferred.Relationships)
				if err != nil {
					return fmt.Errorf("failed to store relationships: %w", err)
				}
				result.Stored = stored
			}
			return nil
		})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Relationship detection finished",
		zap.String("table", id.String()),
		zap.Bool("skipped", result.Skipped),
		zap.Int("targets", result.Targets),
		zap.Int("stored", result.Stored),
		zap.Int("pair_errors", result.PairErrors))
	return result, nil
}

// ExportGraph writes the table and its relationships into the graph store.
func (o *PipelineOrchestrator) ExportGraph(ctx context.Context, id models.TableID) (*ExportResult, error) {
	if o.exporter == nil {
		return nil, errors.New("graph export is not configured")
	}

	var result *ExportResult
	err := o.withClaim(ctx, id, models.AxisGraphImport, repositories.ClaimOptions{},
		func(ctx context.Context, table *models.TableRecord) error {
			columns, err := o.columns.GetByTable(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load columns: %w", err)
			}
			rels, err := o.relationships.ListForTable(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load relationships: %w", err)
			}
			result, err = o.exporter.ExportTable(ctx, table, columns, rels)
			return err
		})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EnrichTables enriches several tables concurrently and reports one result
// per table. It never fails as a whole.
func (o *PipelineOrchestrator) EnrichTables(ctx context.Context, ids []models.TableID, opts EnrichOptions) map[models.TableID]models.ItemResult {
	var (
		mu      sync.Mutex
		results = make(map[models.TableID]models.ItemResult, len(ids))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentTables)
	for _, id := range ids {
		g.Go(func() error {
			res, err := o.EnrichTable(gctx, id, opts)
			item := itemResult(err)
			if err == nil {
				item.Message = fmt.Sprintf("enriched %d columns", res.Columns)
				if res.SchemaChanges != nil {
					item.Message += "; schema changed: " + res.SchemaChanges.Summary()
				}
			}
			mu.Lock()
			results[id] = item
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// itemResult maps a per-table error onto an ItemResult.
func itemResult(err error) models.ItemResult {
	switch {
	case err == nil:
		return models.ItemResult{Success: true}
	case IsNotClaimed(err):
		return models.ItemResult{Skipped: true, Message: err.Error()}
	default:
		return models.ItemResult{Error: logging.StatusErrorText(err)}
	}
}

// TableStatus reports the persisted state of a table.
func (o *PipelineOrchestrator) TableStatus(ctx context.Context, id models.TableID) (*TableStatusReport, error) {
	table, err := o.tables.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	columns, err := o.columns.GetByTable(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	rels, err := o.relationships.CountByTable(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count relationships: %w", err)
	}

	report := &TableStatusReport{
		Table:         table,
		Columns:       len(columns),
		Relationships: rels,
		Eligible:      make(map[models.Axis]bool, len(models.ValidAxes)),
	}
	now := time.Now()
	enriched := table.Enrichment.State == models.AxisStateCompleted
	for _, axis := range models.ValidAxes {
		status := table.Status(axis)
		if status.IsStale(now, o.cfg.StaleAfter) {
			report.Stale = append(report.Stale, axis)
		}
		report.Eligible[axis] = status.Retryable(o.cfg.MaxRetries) && (!axis.DependsOnEnrichment() || enriched)
	}
	return report, nil
}

// UpdateColumnFields applies a direct edit to a column's aliases, description
// or semantic tag. The table's graph import is reset so the edit reaches the
// graph on the next sweep.
func (o *PipelineOrchestrator) UpdateColumnFields(ctx context.Context, id models.TableID, column string, update models.ColumnFieldsUpdate) error {
	if update.IsEmpty() {
		return errors.New("no fields to update")
	}
	if update.Aliases != nil {
		aliases := make([]string, 0, len(update.Aliases))
		for _, a := range update.Aliases {
			if a = strings.TrimSpace(a); a != "" {
				aliases = append(aliases, a)
			}
		}
		if len(aliases) == 0 {
			return errors.New("aliases must contain at least one non-empty entry")
		}
		update.Aliases = aliases
	}
	if update.SemanticTag != nil && !models.IsValidSemanticTag(*update.SemanticTag) {
		return fmt.Errorf("invalid semantic tag %q", *update.SemanticTag)
	}

	if err := o.columns.UpdateFields(ctx, id, column, update); err != nil {
		return err
	}
	if err := o.tables.ResetAxis(ctx, id, models.AxisGraphImport); err != nil {
		return fmt.Errorf("failed to reset graph import: %w", err)
	}
	o.logger.Info("Column fields updated",
		zap.String("table", id.String()),
		zap.String("column", column),
		zap.Bool("aliases", update.Aliases != nil),
		zap.Bool("description", update.Description != nil),
		zap.Bool("semantic_tag", update.SemanticTag != nil))
	return nil
}

// CheckSchema compares the warehouse schema with the stored columns without
// re-enriching and records the outcome on the table.
func (o *PipelineOrchestrator) CheckSchema(ctx context.Context, id models.TableID) (*models.SchemaChanges, error) {
	stored, err := o.columns.GetByTable(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("table %s has not been enriched: %w", id, apperrors.ErrNotFound)
	}
	current, err := o.collector.Describe(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}

	changes := compareSchemas(stored, current)
	status := models.SchemaStatusCurrent
	var recorded *models.SchemaChanges
	if changes.HasChanges() {
		status = models.SchemaStatusChanged
		recorded = changes
	}
	if err := o.tables.UpdateSchemaStatus(ctx, id, status, recorded); err != nil {
		return nil, err
	}
	return changes, nil
}
