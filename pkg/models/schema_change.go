package models

import (
	"slices"
	"strings"
)

// SchemaStatus records whether the stored columns still match the warehouse.
type SchemaStatus string

const (
	SchemaStatusCurrent SchemaStatus = "CURRENT"
	SchemaStatusChanged SchemaStatus = "SCHEMA_CHANGED"
)

// ColumnSchema is a column as declared by the warehouse.
type ColumnSchema struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// TypeChange describes one column whose declared type changed.
type TypeChange struct {
	Column  string `json:"column"`
	OldType string `json:"old_type"`
	NewType string `json:"new_type"`
}

// SchemaChanges is the diff between the stored and the current warehouse schema.
type SchemaChanges struct {
	NewColumns     []string     `json:"new_columns,omitempty"`
	RemovedColumns []string     `json:"removed_columns,omitempty"`
	TypeChanges    []TypeChange `json:"type_changes,omitempty"`
}

// HasChanges reports whether any difference was found.
func (c *SchemaChanges) HasChanges() bool {
	return c != nil && (len(c.NewColumns) > 0 || len(c.RemovedColumns) > 0 || len(c.TypeChanges) > 0)
}

// Summary renders the diff as a single log-friendly line.
func (c *SchemaChanges) Summary() string {
	if !c.HasChanges() {
		return "no changes"
	}
	var parts []string
	if len(c.NewColumns) > 0 {
		parts = append(parts, "new: "+strings.Join(c.NewColumns, ", "))
	}
	if len(c.RemovedColumns) > 0 {
		parts = append(parts, "removed: "+strings.Join(c.RemovedColumns, ", "))
	}
	for _, tc := range c.TypeChanges {
		parts = append(parts, tc.Column+": "+tc.OldType+" -> "+tc.NewType)
	}
	return strings.Join(parts, "; ")
}

// Sort orders every list so diffs compare deterministically.
func (c *SchemaChanges) Sort() {
	slices.Sort(c.NewColumns)
	slices.Sort(c.RemovedColumns)
	slices.SortFunc(c.TypeChanges, func(a, b TypeChange) int {
		return strings.Compare(a.Column, b.Column)
	})
}
