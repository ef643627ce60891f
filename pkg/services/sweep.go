package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/repositories"
	"github.com/ekaya-inc/catalog-enricher/pkg/services/workqueue"
)

// SweepReport describes what one sweep found and queued.
type SweepReport struct {
	// Expired lists, per axis, tables whose IN_PROGRESS claim went stale and
	// was failed before scanning.
	Expired map[models.Axis][]models.TableID
	// Results holds one entry per table the sweep looked at, keyed by axis.
	Results map[models.TableID]map[models.Axis]models.ItemResult
	Queued  int
}

func (r *SweepReport) record(id models.TableID, axis models.Axis, res models.ItemResult) {
	if r.Results[id] == nil {
		r.Results[id] = make(map[models.Axis]models.ItemResult)
	}
	r.Results[id][axis] = res
}

// Sweeper finds table axes that still have work to do and puts one task per
// (table, axis) on the work queue. It holds no state between sweeps; the
// persisted axes decide what is eligible.
type Sweeper struct {
	tables repositories.TableRepository
	runner PipelineRunner
	queue  workqueue.TaskEnqueuer
	cfg    config.PipelineConfig
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewSweeper creates a sweeper. A non-empty prefix restricts it to tables
// whose identifier starts with it.
func NewSweeper(tables repositories.TableRepository, runner PipelineRunner, queue workqueue.TaskEnqueuer, cfg config.PipelineConfig, prefix string, logger *zap.Logger) *Sweeper {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	return &Sweeper{
		tables: tables,
		runner: runner,
		queue:  queue,
		cfg:    cfg,
		prefix: prefix,
		now:    time.Now,
		logger: logger.Named("sweep"),
	}
}

// Sweep expires stale claims, then queues enrichment for every eligible table
// and the downstream axes for tables whose enrichment is COMPLETED. Tables at
// the retry ceiling are left alone.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{
		Expired: make(map[models.Axis][]models.TableID),
		Results: make(map[models.TableID]map[models.Axis]models.ItemResult),
	}

	cutoff := s.now().Add(-s.cfg.StaleAfter)
	errText := fmt.Sprintf("no progress for %s, claim expired", s.cfg.StaleAfter)
	for _, axis := range models.ValidAxes {
		expired, err := s.tables.ExpireStale(ctx, axis, cutoff, errText)
		if err != nil {
			return nil, fmt.Errorf("failed to expire stale %s claims: %w", axis, err)
		}
		if len(expired) > 0 {
			report.Expired[axis] = expired
			s.logger.Warn("Expired stale claims",
				zap.String("axis", string(axis)),
				zap.Int("tables", len(expired)))
		}
	}

	eligible := make(map[models.Axis][]models.TableID, len(models.ValidAxes))
	for _, axis := range models.ValidAxes {
		ids, err := s.tables.ScanTables(ctx, repositories.TableFilter{
			Axis:                axis,
			States:              []models.AxisState{models.AxisStateNotStarted, models.AxisStateFailed},
			MaxRetryCount:       s.cfg.MaxRetries,
			EnrichmentCompleted: axis.DependsOnEnrichment(),
			Prefix:              s.prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s axis: %w", axis, err)
		}
		eligible[axis] = ids
	}

	followUps := s.cfg.AutoTrigger
	for _, id := range eligible[models.AxisEnrichment] {
		s.enqueue(report, id, models.AxisEnrichment, NewEnrichTableTask(s.runner, id, EnrichOptions{}, followUps, s.logger))
	}

	// A table due for both downstream axes gets its export chained behind
	// relationship detection.
	for _, id := range eligible[models.AxisRelationships] {
		exportAfter := followUps || slices.Contains(eligible[models.AxisGraphImport], id)
		s.enqueue(report, id, models.AxisRelationships, NewDetectRelationshipsTask(s.runner, id, exportAfter, s.logger))
	}
	for _, id := range eligible[models.AxisGraphImport] {
		if slices.Contains(eligible[models.AxisRelationships], id) {
			report.record(id, models.AxisGraphImport, models.ItemResult{
				Success: true,
				Message: "queued after relationship detection",
			})
			continue
		}
		s.enqueue(report, id, models.AxisGraphImport, NewExportGraphTask(s.runner, id, s.logger))
	}

	s.logger.Info("Sweep finished",
		zap.Int("tables", len(report.Results)),
		zap.Int("queued", report.Queued))
	return report, nil
}

func (s *Sweeper) enqueue(report *SweepReport, id models.TableID, axis models.Axis, task workqueue.Task) {
	if !s.queue.Enqueue(task) {
		report.record(id, axis, models.ItemResult{Skipped: true, Message: "already queued"})
		return
	}
	report.Queued++
	report.record(id, axis, models.ItemResult{Success: true, Message: "queued"})
}
