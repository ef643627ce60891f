package prompts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TableContext is the view of one catalog table given to the model.
type TableContext struct {
	Name     string          `json:"table_name"`
	RowCount int64           `json:"row_count,omitempty"`
	Columns  []ColumnContext `json:"columns"`
}

// ColumnContext is the enriched metadata of one column as the model sees it.
type ColumnContext struct {
	Name         string   `json:"name"`
	DataType     string   `json:"data_type"`
	Role         string   `json:"column_type,omitempty"`
	SemanticType string   `json:"semantic_type,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
	Description  string   `json:"description,omitempty"`
	Cardinality  int64    `json:"cardinality"`
}

// RelationshipSystemMessage describes the three relationship types, the
// subtype vocabulary and the confidence scale.
func RelationshipSystemMessage(minConfidence float64) string {
	var b strings.Builder

	b.WriteString("You are a database relationship analyst. You find every meaningful relationship between ")
	b.WriteString("the columns of a SOURCE table and the columns of a TARGET table using their catalog metadata: ")
	b.WriteString("names, aliases, data types, semantic types, descriptions, column roles and cardinality.\n\n")

	b.WriteString("## Relationship types\n\n")
	b.WriteString("**foreign_key**: referential links. Subtypes: one_to_many, many_to_many, self_referential, composite_key.\n")
	b.WriteString("Signals: the source column references an identifier of the target, types are compatible, ")
	b.WriteString("source cardinality is at least the target's.\n\n")
	b.WriteString("**semantic**: same business meaning or domain. Subtypes: geographic, temporal, hierarchical, ")
	b.WriteString("measurement, status_code, identifier_mapping, enumeration.\n")
	b.WriteString("Signals: equal semantic types (country and country, latitude and latitude), descriptions naming ")
	b.WriteString("the same entity, overlapping aliases.\n\n")
	b.WriteString("**name_based**: similar names suggesting a link. Subtypes: exact_match, partial_match, ")
	b.WriteString("business_logic, derived_field.\n\n")
	b.WriteString("When no listed subtype fits, invent a short snake_case subtype that describes the link.\n\n")

	b.WriteString("## Confidence\n\n")
	b.WriteString("- semantic type match plus name match: 0.85-0.95\n")
	b.WriteString("- semantic type match alone: 0.75-0.85\n")
	b.WriteString("- name match with compatible types: 0.65-0.75\n")
	fmt.Fprintf(&b, "Only report relationships with confidence >= %.2f. Prefer semantic type matches over name matches.\n\n", minConfidence)

	b.WriteString("## Output\n\n")
	b.WriteString("Respond with a JSON object:\n")
	b.WriteString("```json\n")
	b.WriteString(`{
  "relationships": [
    {
      "source_table": "catalog.schema.table",
      "source_column": "column_name",
      "target_table": "catalog.schema.table",
      "target_column": "column_name",
      "relationship_type": "foreign_key|semantic|name_based",
      "relationship_subtype": "one_to_many|geographic|exact_match|custom_subtype",
      "confidence": 0.9,
      "reasoning": "Why the columns are related and why this type and subtype"
    }
  ]
}
`)
	b.WriteString("```\n")
	b.WriteString("Return an empty relationships array when nothing qualifies.")

	return b.String()
}

// BuildRelationshipPrompt renders one source-column batch against one target table.
func BuildRelationshipPrompt(source, target TableContext) (string, error) {
	src, err := json.MarshalIndent(source, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal source table: %w", err)
	}
	tgt, err := json.MarshalIndent(target, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal target table: %w", err)
	}

	var b strings.Builder
	b.WriteString("Find all meaningful relationships between the SOURCE columns and the TARGET table.\n\n")
	b.WriteString("SOURCE TABLE:\n")
	b.Write(src)
	b.WriteString("\n\nTARGET TABLE:\n")
	b.Write(tgt)
	b.WriteString("\n\n")
	b.WriteString("Consider foreign keys, shared semantic meaning, hierarchies, geographic and temporal links ")
	b.WriteString("and lookup tables. For each relationship give the main type, a descriptive subtype, a ")
	b.WriteString("confidence and the reasoning. Use the exact table and column names shown above.\n")
	b.WriteString("Return ONLY the JSON object.")
	return b.String(), nil
}
