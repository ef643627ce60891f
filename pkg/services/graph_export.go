package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/embedding"
	"github.com/ekaya-inc/catalog-enricher/pkg/graph"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

const (
	summaryMaxColumns = 15
	summaryMaxAliases = 3
	summaryMaxSamples = 5
)

// derivedSuffixes mark pre-aggregated statistics columns such as
// "speed_avg" next to "speed".
var derivedSuffixes = []string{"_min", "_max", "_avg", "_sum", "_count", "_stddev"}

// ExportResult reports what one table export wrote.
type ExportResult struct {
	TableID           models.TableID
	Columns           int
	ExcludedColumns   []string
	Vectors           int
	EmbeddingFailures int
	PrunedColumns     []string       // Column nodes left by an earlier export and removed
	VectorSpaces      map[string]int // Vectors written per embedding space
	RelatedEdges      int
	PendingEdges      int // Relationships whose other table is not exported yet
}

// GraphExporter writes a table, its columns and its relationships into the
// graph store together with summary embeddings.
type GraphExporter struct {
	store    graph.Store
	embedder embedding.Embedder
	logger   *zap.Logger
}

func NewGraphExporter(store graph.Store, embedder embedding.Embedder, logger *zap.Logger) *GraphExporter {
	return &GraphExporter{
		store:    store,
		embedder: embedder,
		logger:   logger.Named("graph-export"),
	}
}

// ExportTable upserts the table node, one node per non-derived column with
// a HAS_COLUMN edge, and a RELATED_TO edge per relationship whose endpoints
// are both in the store. Re-exporting a table replaces what it wrote before:
// column nodes no longer exported are deleted with their edges, and a column
// whose embedding fails loses its old vector. Every vector is tagged with the
// embedding space that produced it.
func (e *GraphExporter) ExportTable(ctx context.Context, table *models.TableRecord, columns []*models.ColumnRecord, relationships []*models.RelationshipRecord) (*ExportResult, error) {
	kept, excluded := excludeDerivedColumns(columns)
	result := &ExportResult{
		TableID:         table.ID,
		Columns:         len(kept),
		ExcludedColumns: excluded,
		VectorSpaces:    map[string]int{},
	}

	summary := tableSummary(table, kept)
	tableVec, tableSpace, err := embedding.EmbedOneInSpace(ctx, e.embedder, summary)
	if err != nil {
		return nil, fmt.Errorf("failed to embed table summary: %w", err)
	}
	tableVec, err = embedding.Pad(tableVec, e.store.Dimension())
	if err != nil {
		return nil, fmt.Errorf("failed to pad table embedding: %w", err)
	}

	tableNode := graph.Node{
		Label: graph.LabelTable,
		Key:   table.ID.String(),
		Properties: map[string]any{
			"row_count":     table.RowCount,
			"column_count":  len(kept),
			"schema_status": string(table.SchemaStatus),
			"summary":       summary,
		},
	}
	if err := e.store.UpsertNode(ctx, tableNode); err != nil {
		return nil, fmt.Errorf("failed to upsert table node: %w", err)
	}
	if err := e.store.UpsertVector(ctx, tableNode.Ref(), tableSpace, tableVec); err != nil {
		return nil, fmt.Errorf("failed to upsert table vector: %w", err)
	}
	result.Vectors++
	result.VectorSpaces[tableSpace]++

	previous, err := e.store.Neighbors(ctx, tableNode.Ref(), graph.EdgeHasColumn)
	if err != nil {
		return nil, fmt.Errorf("failed to list exported columns: %w", err)
	}

	summaries := make([]string, len(kept))
	for i, c := range kept {
		summaries[i] = columnSummary(table.ID, c)
	}
	vectors, spaces := e.embedColumns(ctx, summaries)

	for i, c := range kept {
		node := graph.Node{
			Label: graph.LabelColumn,
			Key:   c.FullName(),
			Properties: map[string]any{
				"table":        table.ID.String(),
				"name":         c.ColumnName,
				"data_type":    c.DataType,
				"role":         string(c.Role),
				"semantic_tag": string(c.SemanticTag),
				"aliases":      c.Aliases,
				"description":  c.Description,
				"cardinality":  c.Cardinality,
				"summary":      summaries[i],
			},
		}
		if err := e.store.UpsertNode(ctx, node); err != nil {
			return nil, fmt.Errorf("failed to upsert column node %s: %w", c.ColumnName, err)
		}
		if err := e.store.UpsertEdge(ctx, graph.Edge{Type: graph.EdgeHasColumn, From: tableNode.Ref(), To: node.Ref()}); err != nil {
			return nil, fmt.Errorf("failed to link column %s: %w", c.ColumnName, err)
		}

		vec, err := padOrNil(vectors[i], e.store.Dimension())
		if err != nil || vec == nil {
			result.EmbeddingFailures++
			e.logger.Warn("Column exported without embedding",
				zap.String("column", c.FullName()),
				zap.Error(err))
			if err := e.store.DeleteVector(ctx, node.Ref()); err != nil {
				return nil, fmt.Errorf("failed to drop stale vector %s: %w", c.ColumnName, err)
			}
			continue
		}
		if err := e.store.UpsertVector(ctx, node.Ref(), spaces[i], vec); err != nil {
			return nil, fmt.Errorf("failed to upsert column vector %s: %w", c.ColumnName, err)
		}
		result.Vectors++
		result.VectorSpaces[spaces[i]]++
	}

	current := make(map[string]bool, len(kept))
	for _, c := range kept {
		current[c.FullName()] = true
	}
	for _, ref := range previous {
		if ref.Label != graph.LabelColumn || current[ref.Key] {
			continue
		}
		if err := e.store.DeleteNode(ctx, ref); err != nil {
			return nil, fmt.Errorf("failed to prune column %s: %w", ref.Key, err)
		}
		result.PrunedColumns = append(result.PrunedColumns, ref.Key)
	}

	for _, rel := range relationships {
		edge := graph.Edge{
			Type: graph.EdgeRelatedTo,
			From: graph.NodeRef{Label: graph.LabelColumn, Key: string(rel.SourceTable) + "." + rel.SourceColumn},
			To:   graph.NodeRef{Label: graph.LabelColumn, Key: string(rel.TargetTable) + "." + rel.TargetColumn},
			Properties: map[string]any{
				"relationship_type":    string(rel.Type),
				"relationship_subtype": rel.Subtype,
				"confidence":           rel.Confidence,
				"reasoning":            rel.Reasoning,
				"detected_by":          rel.DetectedBy,
			},
		}
		err := e.store.UpsertEdge(ctx, edge)
		switch {
		case errors.Is(err, graph.ErrNodeNotFound):
			result.PendingEdges++
		case err != nil:
			return nil, fmt.Errorf("failed to upsert relationship edge: %w", err)
		default:
			result.RelatedEdges++
		}
	}

	e.logger.Info("Table exported to graph",
		zap.String("table", table.ID.String()),
		zap.Int("columns", result.Columns),
		zap.Int("excluded", len(result.ExcludedColumns)),
		zap.Int("vectors", result.Vectors),
		zap.Any("vector_spaces", result.VectorSpaces),
		zap.Int("pruned", len(result.PrunedColumns)),
		zap.Int("related_edges", result.RelatedEdges),
		zap.Int("pending_edges", result.PendingEdges))
	return result, nil
}

// embedColumns embeds all summaries in one call and falls back to one call
// per summary when the batch fails. Entries that still fail are nil. The
// second slice holds each vector's embedding space.
func (e *GraphExporter) embedColumns(ctx context.Context, summaries []string) ([][]float32, []string) {
	if len(summaries) == 0 {
		return nil, nil
	}
	spaces := make([]string, len(summaries))
	vecs, space, err := embedding.EmbedInSpace(ctx, e.embedder, summaries)
	if err == nil && len(vecs) == len(summaries) {
		for i := range spaces {
			spaces[i] = space
		}
		return vecs, spaces
	}
	e.logger.Warn("Batch column embedding failed, embedding one by one", zap.Error(err))

	vecs = make([][]float32, len(summaries))
	for i, s := range summaries {
		if ctx.Err() != nil {
			break
		}
		v, space, err := embedding.EmbedOneInSpace(ctx, e.embedder, s)
		if err != nil {
			continue
		}
		vecs[i], spaces[i] = v, space
	}
	return vecs, spaces
}

func padOrNil(vec []float32, dim int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	return embedding.Pad(vec, dim)
}

// excludeDerivedColumns drops columns like "speed_avg" when "speed" exists.
func excludeDerivedColumns(columns []*models.ColumnRecord) (kept []*models.ColumnRecord, excluded []string) {
	names := make(map[string]bool, len(columns))
	for _, c := range columns {
		names[strings.ToLower(c.ColumnName)] = true
	}
	for _, c := range columns {
		if isDerivedColumn(strings.ToLower(c.ColumnName), names) {
			excluded = append(excluded, c.ColumnName)
			continue
		}
		kept = append(kept, c)
	}
	return kept, excluded
}

func isDerivedColumn(name string, names map[string]bool) bool {
	for _, suffix := range derivedSuffixes {
		if base, ok := strings.CutSuffix(name, suffix); ok && base != "" && names[base] {
			return true
		}
	}
	return false
}

func tableSummary(table *models.TableRecord, columns []*models.ColumnRecord) string {
	catalog, schema, name := table.ID.Parts()

	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", table.ID)
	fmt.Fprintf(&b, "Catalog: %s, Schema: %s, Table: %s\n", catalog, schema, name)
	fmt.Fprintf(&b, "Row count: %d\n", table.RowCount)
	fmt.Fprintf(&b, "Column count: %d\n", len(columns))
	fmt.Fprintf(&b, "Schema status: %s\n\n", table.SchemaStatus)
	b.WriteString("Columns:\n")
	for i, c := range columns {
		if i == summaryMaxColumns {
			b.WriteString("... and more columns\n")
			break
		}
		fmt.Fprintf(&b, "%s (%s, %s", c.ColumnName, c.DataType, orUnknown(string(c.Role)))
		if c.SemanticTag != models.SemanticTagNone {
			fmt.Fprintf(&b, " - %s", c.SemanticTag)
		}
		b.WriteString(")")
		if len(c.Aliases) > 0 {
			fmt.Fprintf(&b, " (aliases: %s)", strings.Join(firstN(c.Aliases, 2), ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nPurpose: Database table containing structured data with %d attributes across %d records.",
		len(columns), table.RowCount)
	return b.String()
}

func columnSummary(table models.TableID, c *models.ColumnRecord) string {
	role := orUnknown(string(c.Role))
	semantic := string(c.SemanticTag)
	if semantic == "" {
		semantic = "none"
	}
	aliases := "none"
	if len(c.Aliases) > 0 {
		aliases = strings.Join(firstN(c.Aliases, summaryMaxAliases), ", ")
	}
	samples := "no samples"
	if len(c.SampleValues) > 0 {
		samples = strings.Join(firstN(c.SampleValues, summaryMaxSamples), ", ")
	}
	cardinality := "unknown"
	if c.Cardinality > 0 {
		cardinality = fmt.Sprintf("%d", c.Cardinality)
	}
	usage := "analysis and filtering"
	if c.Role == models.ColumnRoleIdentifier {
		usage = "identification"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Column: %s in table %s\n", c.ColumnName, table)
	fmt.Fprintf(&b, "Data type: %s\n", c.DataType)
	fmt.Fprintf(&b, "Column type: %s\n", role)
	fmt.Fprintf(&b, "Semantic type: %s\n", semantic)
	fmt.Fprintf(&b, "Description: %s\n", c.Description)
	fmt.Fprintf(&b, "Aliases: %s\n", aliases)
	fmt.Fprintf(&b, "Cardinality: %s\n", cardinality)
	fmt.Fprintf(&b, "Null percentage: %.1f%%\n", c.NullPercentage)
	fmt.Fprintf(&b, "Sample values: %s\n\n", samples)
	fmt.Fprintf(&b, "Purpose: A %s column that stores %s data, used for %s.", role, semantic, usage)
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
