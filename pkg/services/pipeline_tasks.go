package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/services/workqueue"
)

// PipelineRunner is the part of PipelineOrchestrator that queued tasks call.
type PipelineRunner interface {
	EnrichTable(ctx context.Context, id models.TableID, opts EnrichOptions) (*EnrichResult, error)
	DetectRelationships(ctx context.Context, id models.TableID) (*RelationshipDetectionResult, error)
	ExportGraph(ctx context.Context, id models.TableID) (*ExportResult, error)
}

var _ PipelineRunner = (*PipelineOrchestrator)(nil)

// TaskKey is the work queue key of one table axis.
func TaskKey(axis models.Axis, id models.TableID) string {
	return fmt.Sprintf("%s:%s", axis, id)
}

// EnrichTableTask runs enrichment for one table. With follow-ups enabled it
// enqueues relationship detection once enrichment completes.
type EnrichTableTask struct {
	workqueue.BaseTask
	runner    PipelineRunner
	tableID   models.TableID
	opts      EnrichOptions
	followUps bool
	logger    *zap.Logger
}

// NewEnrichTableTask creates an enrichment task. Naming makes LLM calls, so
// the task counts against the LLM lane.
func NewEnrichTableTask(runner PipelineRunner, id models.TableID, opts EnrichOptions, followUps bool, logger *zap.Logger) *EnrichTableTask {
	return &EnrichTableTask{
		BaseTask:  workqueue.NewBaseTask(fmt.Sprintf("Enrich %s", id), TaskKey(models.AxisEnrichment, id), true),
		runner:    runner,
		tableID:   id,
		opts:      opts,
		followUps: followUps,
		logger:    logger,
	}
}

// Execute implements workqueue.Task.
func (t *EnrichTableTask) Execute(ctx context.Context, enqueuer workqueue.TaskEnqueuer) error {
	result, err := t.runner.EnrichTable(ctx, t.tableID, t.opts)
	if IsNotClaimed(err) {
		t.logger.Debug("Enrichment not claimed, skipping",
			zap.String("table", string(t.tableID)),
			zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	t.logger.Info("Enrichment task finished",
		zap.String("table", string(t.tableID)),
		zap.Int("columns", result.Columns),
		zap.Duration("duration", result.Duration))

	if t.followUps {
		enqueuer.Enqueue(NewDetectRelationshipsTask(t.runner, t.tableID, true, t.logger))
	}
	return nil
}

// DetectRelationshipsTask runs relationship detection for one table. With
// exportAfter set it enqueues the graph import when detection is done, so the
// export sees the new RELATED_TO edges.
type DetectRelationshipsTask struct {
	workqueue.BaseTask
	runner      PipelineRunner
	tableID     models.TableID
	exportAfter bool
	logger      *zap.Logger
}

func NewDetectRelationshipsTask(runner PipelineRunner, id models.TableID, exportAfter bool, logger *zap.Logger) *DetectRelationshipsTask {
	return &DetectRelationshipsTask{
		BaseTask:    workqueue.NewBaseTask(fmt.Sprintf("Detect relationships of %s", id), TaskKey(models.AxisRelationships, id), true),
		runner:      runner,
		tableID:     id,
		exportAfter: exportAfter,
		logger:      logger,
	}
}

// Execute implements workqueue.Task.
func (t *DetectRelationshipsTask) Execute(ctx context.Context, enqueuer workqueue.TaskEnqueuer) error {
	result, err := t.runner.DetectRelationships(ctx, t.tableID)
	switch {
	case IsNotClaimed(err):
		t.logger.Debug("Relationship detection not claimed, skipping",
			zap.String("table", string(t.tableID)),
			zap.Error(err))
	case err != nil:
		return err
	default:
		t.logger.Info("Relationship task finished",
			zap.String("table", string(t.tableID)),
			zap.Bool("skipped", result.Skipped),
			zap.Int("stored", result.Stored))
	}

	if t.exportAfter {
		enqueuer.Enqueue(NewExportGraphTask(t.runner, t.tableID, t.logger))
	}
	return nil
}

// ExportGraphTask writes one table into the graph store.
type ExportGraphTask struct {
	workqueue.BaseTask
	runner  PipelineRunner
	tableID models.TableID
	logger  *zap.Logger
}

// NewExportGraphTask creates a graph import task. Embedding calls do not go
// through the chat model, so it runs in the data lane.
func NewExportGraphTask(runner PipelineRunner, id models.TableID, logger *zap.Logger) *ExportGraphTask {
	return &ExportGraphTask{
		BaseTask: workqueue.NewBaseTask(fmt.Sprintf("Export %s", id), TaskKey(models.AxisGraphImport, id), false),
		runner:   runner,
		tableID:  id,
		logger:   logger,
	}
}

// Execute implements workqueue.Task.
func (t *ExportGraphTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	result, err := t.runner.ExportGraph(ctx, t.tableID)
	if IsNotClaimed(err) {
		t.logger.Debug("Graph import not claimed, skipping",
			zap.String("table", string(t.tableID)),
			zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	t.logger.Info("Export task finished",
		zap.String("table", string(t.tableID)),
		zap.Int("columns", result.Columns))
	return nil
}
