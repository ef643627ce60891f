package services

import (
	"strings"

	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

// typeAliases maps spellings of the same type to one name so that
// "int4" and "INTEGER" compare equal.
var typeAliases = map[string]string{
	"INT":               "INTEGER",
	"INT2":              "SMALLINT",
	"INT4":              "INTEGER",
	"INT8":              "BIGINT",
	"FLOAT4":            "REAL",
	"FLOAT8":            "DOUBLE",
	"DOUBLE PRECISION":  "DOUBLE",
	"BOOL":              "BOOLEAN",
	"BIT":               "BOOLEAN",
	"CHARACTER VARYING": "VARCHAR",
	"NVARCHAR":          "VARCHAR",
	"CHARACTER":         "CHAR",
	"NCHAR":             "CHAR",
	"TIMESTAMPTZ":       "TIMESTAMP WITH TIME ZONE",
	"DATETIME2":         "DATETIME",
}

// normalizeType reduces a declared type to its base name without length or
// precision parameters.
func normalizeType(dataType string) string {
	base, _, _ := strings.Cut(strings.ToUpper(strings.TrimSpace(dataType)), "(")
	base = strings.Join(strings.Fields(base), " ")
	if alias, ok := typeAliases[base]; ok {
		return alias
	}
	return base
}

// compareSchemas diffs the stored columns of a table against the schema the
// warehouse reports now. The result is sorted; it is empty when nothing
// changed.
func compareSchemas(stored []*models.ColumnRecord, current []models.ColumnSchema) *models.SchemaChanges {
	old := make(map[string]string, len(stored))
	for _, c := range stored {
		old[c.ColumnName] = c.DataType
	}

	changes := &models.SchemaChanges{}
	seen := make(map[string]bool, len(current))
	for _, c := range current {
		seen[c.Name] = true
		oldType, ok := old[c.Name]
		if !ok {
			changes.NewColumns = append(changes.NewColumns, c.Name)
			continue
		}
		if normalizeType(oldType) != normalizeType(c.DataType) {
			changes.TypeChanges = append(changes.TypeChanges, models.TypeChange{
				Column:  c.Name,
				OldType: oldType,
				NewType: c.DataType,
			})
		}
	}
	for name := range old {
		if !seen[name] {
			changes.RemovedColumns = append(changes.RemovedColumns, name)
		}
	}

	changes.Sort()
	return changes
}
