package warehouse

import (
	"fmt"
	"strings"
)

// DefaultStatsBatchSize is the number of columns analyzed per statistics query.
const DefaultStatsBatchSize = 15

var complexTypePrefixes = []string{"array", "map", "row", "struct", "json", "xml", "geography", "geometry", "hierarchyid"}

var numericTypeMarkers = []string{
	"bigint", "integer", "smallint", "tinyint", "int",
	"double", "float", "real", "decimal", "numeric",
}

// IsComplexType reports whether a type cannot be aggregated with MIN/MAX/AVG.
func IsComplexType(dataType string) bool {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if strings.HasSuffix(t, "[]") {
		return true
	}
	for _, p := range complexTypePrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

// IsNumericType reports whether a type holds numbers.
func IsNumericType(dataType string) bool {
	t := strings.ToLower(dataType)
	if IsComplexType(t) || strings.Contains(t, "interval") || strings.Contains(t, "point") {
		return false
	}
	for _, m := range numericTypeMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

// Batches splits items into consecutive chunks of at most size elements.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultStatsBatchSize
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// SampleValues extracts up to limit non-null values per column, rendered as
// strings, preserving row order.
func SampleValues(rows []map[string]any, limit int) map[string][]string {
	out := make(map[string][]string)
	for _, row := range rows {
		for col, v := range row {
			if v == nil || len(out[col]) >= limit {
				continue
			}
			s := FormatValue(v)
			if s == "" {
				continue
			}
			out[col] = append(out[col], s)
		}
	}
	return out
}

// FormatValue renders a driver value as text.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
