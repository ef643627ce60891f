package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/adapters/warehouse"
	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/jsonutil"
	"github.com/ekaya-inc/catalog-enricher/pkg/llm"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/prompts"
)

const (
	defaultRelationshipBatchSize = 20
	defaultConfidenceThreshold   = 0.6
	relationshipDetectorVersion  = "llm-batch/v1"
)

// RelationshipJudge proposes relationships between a batch of source columns
// and one target table.
type RelationshipJudge interface {
	Judge(ctx context.Context, source, target prompts.TableContext) ([]models.RelationshipRecord, error)
	Name() string
}

type judgedRelationship struct {
	SourceTable  string                  `json:"source_table"`
	SourceColumn string                  `json:"source_column"`
	TargetTable  string                  `json:"target_table"`
	TargetColumn string                  `json:"target_column"`
	Type         string                  `json:"relationship_type"`
	Subtype      jsonutil.FlexibleString `json:"relationship_subtype"`
	Confidence   jsonutil.FlexibleFloat  `json:"confidence"`
	Reasoning    string                  `json:"reasoning"`
}

type judgeResponse struct {
	Relationships []judgedRelationship `json:"relationships"`
}

// LLMRelationshipJudge asks a language model for relationships.
type LLMRelationshipJudge struct {
	caller        *llmCaller
	minConfidence float64
	temperature   float64
}

var _ RelationshipJudge = (*LLMRelationshipJudge)(nil)

func NewLLMRelationshipJudge(client llm.LLMClient, breaker *llm.CircuitBreaker, minConfidence, temperature float64, logger *zap.Logger) *LLMRelationshipJudge {
	if minConfidence <= 0 {
		minConfidence = defaultConfidenceThreshold
	}
	return &LLMRelationshipJudge{
		caller:        newLLMCaller(client, breaker, logger.Named("relationship-judge")),
		minConfidence: minConfidence,
		temperature:   temperature,
	}
}

// Name identifies the judge in DetectedBy, e.g. "llm-batch/v1:gpt-4o-mini".
func (j *LLMRelationshipJudge) Name() string {
	return relationshipDetectorVersion + ":" + j.caller.client.GetModel()
}

func (j *LLMRelationshipJudge) Judge(ctx context.Context, source, target prompts.TableContext) ([]models.RelationshipRecord, error) {
	prompt, err := prompts.BuildRelationshipPrompt(source, target)
	if err != nil {
		return nil, err
	}
	resp, err := generateJSON[judgeResponse](ctx, j.caller, prompt, prompts.RelationshipSystemMessage(j.minConfidence), j.temperature)
	if err != nil {
		return nil, err
	}

	out := make([]models.RelationshipRecord, 0, len(resp.Relationships))
	for _, r := range resp.Relationships {
		out = append(out, models.RelationshipRecord{
			SourceTable:  models.TableID(strings.TrimSpace(r.SourceTable)),
			SourceColumn: strings.TrimSpace(r.SourceColumn),
			TargetTable:  models.TableID(strings.TrimSpace(r.TargetTable)),
			TargetColumn: strings.TrimSpace(r.TargetColumn),
			Type:         models.RelationshipType(strings.ToLower(strings.TrimSpace(r.Type))),
			Subtype:      strings.ToLower(strings.TrimSpace(string(r.Subtype))),
			Confidence:   float64(r.Confidence),
			Reasoning:    strings.TrimSpace(r.Reasoning),
			DetectedBy:   j.Name(),
		})
	}
	return out, nil
}

// InferenceResult summarizes one source table against its targets.
type InferenceResult struct {
	Relationships []models.RelationshipRecord
	ByType        map[models.RelationshipType]int
	BySubtype     map[string]int
	Pairs         int
	PairErrors    int
	Discarded     int
}

// RelationshipInferencer fans a source table out to its targets in batches
// and keeps the judge's proposals that are confident and well formed.
type RelationshipInferencer struct {
	judge     RelationshipJudge
	pool      *llm.WorkerPool
	batchSize int
	threshold float64
	logger    *zap.Logger
}

func NewRelationshipInferencer(judge RelationshipJudge, pool *llm.WorkerPool, cfg config.PipelineConfig, logger *zap.Logger) *RelationshipInferencer {
	if cfg.RelationshipBatchSize <= 0 {
		cfg.RelationshipBatchSize = defaultRelationshipBatchSize
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = defaultConfidenceThreshold
	}
	if pool == nil {
		pool = llm.NewWorkerPool(llm.DefaultWorkerPoolConfig(), logger)
	}
	return &RelationshipInferencer{
		judge:     judge,
		pool:      pool,
		batchSize: cfg.RelationshipBatchSize,
		threshold: cfg.ConfidenceThreshold,
		logger:    logger.Named("relationships"),
	}
}

type judgePair struct {
	batch  prompts.TableContext
	target prompts.TableContext
}

// Infer judges every batch of source columns against every target. A pair
// that fails is logged and counted; it never fails the whole call.
func (r *RelationshipInferencer) Infer(ctx context.Context, source prompts.TableContext, targets []prompts.TableContext) (*InferenceResult, error) {
	result := &InferenceResult{
		ByType:    make(map[models.RelationshipType]int),
		BySubtype: make(map[string]int),
	}
	if len(source.Columns) == 0 || len(targets) == 0 {
		return result, nil
	}

	var pairs []judgePair
	var items []llm.WorkItem[[]models.RelationshipRecord]
	for bi, cols := range warehouse.Batches(source.Columns, r.batchSize) {
		batch := prompts.TableContext{Name: source.Name, RowCount: source.RowCount, Columns: cols}
		for _, target := range targets {
			pair := judgePair{batch: batch, target: target}
			pairs = append(pairs, pair)
			items = append(items, llm.WorkItem[[]models.RelationshipRecord]{
				ID: fmt.Sprintf("%s[%d]->%s", source.Name, bi, target.Name),
				Execute: func(ctx context.Context) ([]models.RelationshipRecord, error) {
					return r.judge.Judge(ctx, pair.batch, pair.target)
				},
			})
		}
	}
	result.Pairs = len(pairs)

	var kept []models.RelationshipRecord
	for i, res := range llm.Process(ctx, r.pool, items, nil) {
		if res.Err != nil {
			result.PairErrors++
			r.logger.Warn("Relationship judgement failed",
				zap.String("pair", res.ID),
				zap.Error(res.Err))
			continue
		}
		for _, rel := range res.Result {
			rel, ok := r.accept(rel, pairs[i])
			if !ok {
				result.Discarded++
				continue
			}
			kept = append(kept, rel)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result.Relationships = models.MergeRelationships(kept)
	for _, rel := range result.Relationships {
		result.ByType[rel.Type]++
		result.BySubtype[rel.Subtype]++
	}

	r.logger.Info("Relationship inference finished",
		zap.String("table", source.Name),
		zap.Int("targets", len(targets)),
		zap.Int("pairs", result.Pairs),
		zap.Int("pair_errors", result.PairErrors),
		zap.Int("relationships", len(result.Relationships)),
		zap.Int("discarded", result.Discarded))
	return result, nil
}

// accept validates a proposal against the pair it was judged for and fixes
// column name case. The proposal keeps the direction the judge gave it; the
// endpoint on the batch side must be one of the batch's columns.
func (r *RelationshipInferencer) accept(rel models.RelationshipRecord, pair judgePair) (models.RelationshipRecord, bool) {
	if !models.IsValidRelationshipType(rel.Type) || rel.Confidence < r.threshold || rel.Confidence > 1 {
		return rel, false
	}

	batchName, otherName := models.TableID(pair.batch.Name), models.TableID(pair.target.Name)
	srcCols, tgtCols := pair.batch.Columns, pair.target.Columns
	switch {
	case rel.SourceTable == batchName && rel.TargetTable == otherName:
	case rel.SourceTable == otherName && rel.TargetTable == batchName:
		srcCols, tgtCols = pair.target.Columns, pair.batch.Columns
	default:
		return rel, false
	}

	src, ok := findColumn(srcCols, rel.SourceColumn)
	if !ok {
		return rel, false
	}
	tgt, ok := findColumn(tgtCols, rel.TargetColumn)
	if !ok {
		return rel, false
	}
	if batchName == otherName && src == tgt {
		return rel, false
	}
	rel.SourceColumn, rel.TargetColumn = src, tgt
	return rel, true
}

func findColumn(cols []prompts.ColumnContext, name string) (string, bool) {
	for _, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return c.Name, true
		}
	}
	return "", false
}

// tableContext builds the model's view of a table from its stored columns.
func tableContext(table *models.TableRecord, columns []*models.ColumnRecord) prompts.TableContext {
	tc := prompts.TableContext{
		Name:     table.ID.String(),
		RowCount: table.RowCount,
		Columns:  make([]prompts.ColumnContext, 0, len(columns)),
	}
	for _, c := range columns {
		tc.Columns = append(tc.Columns, prompts.ColumnContext{
			Name:         c.ColumnName,
			DataType:     c.DataType,
			Role:         string(c.Role),
			SemanticType: string(c.SemanticTag),
			Aliases:      c.Aliases,
			Description:  c.Description,
			Cardinality:  c.Cardinality,
		})
	}
	return tc
}
