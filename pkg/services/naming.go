package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/prompts"
)

const (
	// maxAliases caps the aliases kept for one column.
	maxAliases = 5
	// minDescriptionLength is the shortest description a naming stage may return.
	minDescriptionLength = 20
)

// NamingInput is one column to name, with a sentence describing its table.
type NamingInput struct {
	Column       *models.ColumnRecord
	TableContext string
}

// NamingResult holds the aliases and description produced for a column.
// Source names the stage that produced them.
type NamingResult struct {
	Aliases     []string
	Description string
	Source      string
}

// Namer produces human-readable names for a column.
type Namer interface {
	Name(ctx context.Context, in NamingInput) (*NamingResult, error)
	Stage() string
}

// acceptable reports whether a stage result is good enough to stop the chain.
func (r *NamingResult) acceptable() bool {
	return r != nil && len(r.Aliases) > 0 && len(r.Description) > minDescriptionLength
}

// NamingChain tries each stage in order and returns the first acceptable
// result. The rule-based floor always answers, so Name never fails.
type NamingChain struct {
	stages []Namer
	floor  *RuleNamer
	logger *zap.Logger
}

var _ Namer = (*NamingChain)(nil)

// NewNamingChain builds a chain from ranked stages. Nil stages are skipped.
func NewNamingChain(logger *zap.Logger, stages ...Namer) *NamingChain {
	kept := make([]Namer, 0, len(stages))
	for _, s := range stages {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &NamingChain{
		stages: kept,
		floor:  NewRuleNamer(),
		logger: logger.Named("naming"),
	}
}

func (c *NamingChain) Stage() string { return "chain" }

// Stages returns the names of the configured stages, floor last.
func (c *NamingChain) Stages() []string {
	names := make([]string, 0, len(c.stages)+1)
	for _, s := range c.stages {
		names = append(names, s.Stage())
	}
	return append(names, c.floor.Stage())
}

func (c *NamingChain) Name(ctx context.Context, in NamingInput) (*NamingResult, error) {
	if in.Column == nil {
		return nil, fmt.Errorf("naming input has no column")
	}
	for _, stage := range c.stages {
		if ctx.Err() != nil {
			break
		}
		result, err := stage.Name(ctx, in)
		if err != nil {
			c.logger.Debug("Naming stage failed",
				zap.String("stage", stage.Stage()),
				zap.String("column", in.Column.FullName()),
				zap.Error(err))
			continue
		}
		if !result.acceptable() {
			c.logger.Debug("Naming stage result rejected",
				zap.String("stage", stage.Stage()),
				zap.String("column", in.Column.FullName()))
			continue
		}
		result.Source = stage.Stage()
		return result, nil
	}
	return c.floor.Name(ctx, in)
}

// describeTable renders the table sentence given to naming prompts, for
// example "contains 1200 rows of store visits".
func describeTable(id models.TableID, rowCount int64) string {
	words := strings.Join(nameTokens(id.Table()), " ")
	if words == "" {
		return ""
	}
	words = inflection.Plural(words)
	if rowCount <= 0 {
		return "contains " + words
	}
	return fmt.Sprintf("contains %d rows of %s", rowCount, words)
}

func namingContext(in NamingInput) prompts.NamingContext {
	col := in.Column
	return prompts.NamingContext{
		ColumnName:   col.ColumnName,
		DataType:     col.DataType,
		Role:         string(col.Role),
		SemanticType: string(col.SemanticTag),
		SampleValues: col.SampleValues,
		Min:          col.Min,
		Max:          col.Max,
		Cardinality:  col.Cardinality,
		TableContext: in.TableContext,
	}
}
