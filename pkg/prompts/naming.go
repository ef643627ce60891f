package prompts

import (
	"fmt"
	"strings"
)

// maxPromptSamples bounds the sample values quoted in a naming prompt.
const maxPromptSamples = 5

// NamingContext is what the model is told about one column.
type NamingContext struct {
	ColumnName   string
	DataType     string
	Role         string
	SemanticType string
	SampleValues []string
	Min, Max     *float64
	Cardinality  int64
	TableContext string // e.g. "contains 1200 rows of store visits"
}

// NamingSystemMessage sets the catalog-writer persona.
func NamingSystemMessage() string {
	return `You are a data catalog expert. You write clear, business-friendly names and descriptions for warehouse columns, including geographic data (coordinates, countries, administrative regions), points of interest and mapping datasets. Explain what the data means, not how it is stored.`
}

// BuildCombinedNamingPrompt asks for aliases and a description in one JSON object.
func BuildCombinedNamingPrompt(c NamingContext) string {
	var b strings.Builder
	b.WriteString("Generate aliases and a description for this database column.\n\n")
	writeColumnFacts(&b, c, true)

	b.WriteString("\nRequirements:\n")
	b.WriteString("- aliases: 3-5 readable alternative names, 2-4 words each, Title Case\n")
	b.WriteString("- description: 1-2 sentences (max 50 words) a non-technical user understands\n")
	b.WriteString("- do not repeat the column name verbatim or say \"value stored as <type>\"\n\n")
	b.WriteString("Respond with JSON only:\n")
	b.WriteString(`{"aliases": ["Alias One", "Alias Two", "Alias Three"], "description": "One or two sentences."}`)
	return b.String()
}

// BuildAliasPrompt asks for aliases only, comma separated.
func BuildAliasPrompt(c NamingContext) string {
	var b strings.Builder
	b.WriteString("Generate 3-5 clear, meaningful aliases for this database column.\n\n")
	writeColumnFacts(&b, c, false)

	b.WriteString("\nRequirements:\n")
	b.WriteString("- separate aliases with commas\n")
	b.WriteString("- 2-4 words each, proper capitalization and spaces\n")
	b.WriteString("- more readable than the technical column name\n\n")
	b.WriteString("Examples:\n")
	b.WriteString("- \"admin_level_2\": Administrative Level 2, State, Province, Region\n")
	b.WriteString("- \"poi_id\": POI ID, Location ID, Place Identifier\n")
	b.WriteString("- \"total_kms\": Total Distance (km), Length in Kilometers, Route Length\n\n")
	b.WriteString("Aliases (comma-separated):")
	return b.String()
}

// BuildDescriptionPrompt asks for a one or two sentence description as plain text.
func BuildDescriptionPrompt(c NamingContext) string {
	var b strings.Builder
	b.WriteString("Write a clear, concise description (1-2 sentences) for this database column.\n\n")
	writeColumnFacts(&b, c, true)

	b.WriteString("\nRequirements:\n")
	b.WriteString("- at most 50 words, in business terms\n")
	b.WriteString("- do not repeat the column name verbatim or say \"value stored as <type>\"\n")
	b.WriteString("- for location data, explain the geographic context\n\n")
	b.WriteString("Examples:\n")
	b.WriteString("- \"admin_level_2\": Name of the state, province, or primary administrative division where the location is situated.\n")
	b.WriteString("- \"has_h24x7\": Indicates whether the location operates 24 hours a day, 7 days a week.\n\n")
	b.WriteString("Description:")
	return b.String()
}

func writeColumnFacts(b *strings.Builder, c NamingContext, withStats bool) {
	fmt.Fprintf(b, "Column: %s\n", c.ColumnName)
	fmt.Fprintf(b, "Data Type: %s\n", c.DataType)
	if c.TableContext != "" {
		fmt.Fprintf(b, "Table: %s\n", c.TableContext)
	}
	if c.Role != "" {
		fmt.Fprintf(b, "Role: %s\n", c.Role)
	}
	if c.SemanticType != "" {
		fmt.Fprintf(b, "Semantic Type: %s\n", c.SemanticType)
	}
	if len(c.SampleValues) > 0 {
		samples := c.SampleValues
		if len(samples) > maxPromptSamples {
			samples = samples[:maxPromptSamples]
		}
		fmt.Fprintf(b, "Sample Values: %s\n", strings.Join(samples, ", "))
	}
	if !withStats {
		return
	}
	if c.Min != nil && c.Max != nil {
		fmt.Fprintf(b, "Range: %g to %g\n", *c.Min, *c.Max)
	}
	if c.Cardinality > 0 {
		fmt.Fprintf(b, "Distinct Values: %d\n", c.Cardinality)
	}
}
