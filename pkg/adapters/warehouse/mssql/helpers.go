package mssql

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

// quoteName brackets an identifier the way QUOTENAME() does, escaping ] as ]].
func quoteName(identifier string) string {
	escaped := strings.ReplaceAll(identifier, "]", "]]")
	return fmt.Sprintf("[%s]", escaped)
}

// buildFullyQualifiedName builds a three-part name: [catalog].[schema].[table]
func buildFullyQualifiedName(table models.TableID) string {
	catalog, schema, name := table.Parts()
	return fmt.Sprintf("%s.%s.%s", quoteName(catalog), quoteName(schema), quoteName(name))
}

// distinctOperand returns an expression COUNT(DISTINCT ...) accepts for the type.
// text, ntext, image and xml are not comparable and are cast to a bounded string.
func distinctOperand(quotedCol, dataType string) string {
	switch strings.ToLower(dataType) {
	case "text", "ntext", "xml", "image", "sql_variant", "geography", "geometry", "hierarchyid":
		return fmt.Sprintf("CAST(%s AS NVARCHAR(4000))", quotedCol)
	default:
		return quotedCol
	}
}

// isNumericType reports whether SQL Server can CAST the type to FLOAT.
func isNumericType(dataType string) bool {
	switch strings.ToLower(dataType) {
	case "tinyint", "smallint", "int", "bigint", "decimal", "numeric", "float", "real", "money", "smallmoney":
		return true
	default:
		return false
	}
}

// usesAzureAD reports whether a connection string asks for Azure AD authentication.
func usesAzureAD(connStr string) bool {
	lower := strings.ToLower(connStr)
	return strings.Contains(lower, "fedauth=")
}
