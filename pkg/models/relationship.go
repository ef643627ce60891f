package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// RelationshipType is the fixed main type of an inferred relationship.
// Subtypes are free-form and chosen by the inferencer.
type RelationshipType string

const (
	RelationshipTypeForeignKey RelationshipType = "foreign_key"
	RelationshipTypeSemantic   RelationshipType = "semantic"
	RelationshipTypeNameBased  RelationshipType = "name_based"
)

// ValidRelationshipTypes contains all valid main relationship types.
var ValidRelationshipTypes = []RelationshipType{
	RelationshipTypeForeignKey,
	RelationshipTypeSemantic,
	RelationshipTypeNameBased,
}

// IsValidRelationshipType checks if the given type is valid.
func IsValidRelationshipType(t RelationshipType) bool {
	return slices.Contains(ValidRelationshipTypes, t)
}

// ColumnRef points at one column of one table.
type ColumnRef struct {
	Table  TableID `json:"table"`
	Column string  `json:"column"`
}

// Less orders column refs by table then column.
func (r ColumnRef) Less(o ColumnRef) bool {
	if r.Table != o.Table {
		return r.Table < o.Table
	}
	return r.Column < o.Column
}

// RelationshipKey is the direction-independent identity of a relationship:
// the unordered pair of endpoints plus the main type.
type RelationshipKey struct {
	Low  ColumnRef
	High ColumnRef
	Type RelationshipType
}

// RelationshipRecord is one inferred relationship between two columns.
type RelationshipRecord struct {
	ID           uuid.UUID        `json:"id"`
	SourceTable  TableID          `json:"source_table"`
	SourceColumn string           `json:"source_column"`
	TargetTable  TableID          `json:"target_table"`
	TargetColumn string           `json:"target_column"`
	Type         RelationshipType `json:"relationship_type"`
	Subtype      string           `json:"relationship_subtype"`
	Confidence   float64          `json:"confidence"`
	Reasoning    string           `json:"reasoning"`
	DetectedBy   string           `json:"detected_by"` // Detector identity and version
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Source returns the source endpoint.
func (r *RelationshipRecord) Source() ColumnRef {
	return ColumnRef{Table: r.SourceTable, Column: r.SourceColumn}
}

// Target returns the target endpoint.
func (r *RelationshipRecord) Target() ColumnRef {
	return ColumnRef{Table: r.TargetTable, Column: r.TargetColumn}
}

// CanonicalKey returns the dedup key shared by A->B and B->A discoveries.
func (r *RelationshipRecord) CanonicalKey() RelationshipKey {
	src, tgt := r.Source(), r.Target()
	if tgt.Less(src) {
		src, tgt = tgt, src
	}
	return RelationshipKey{Low: src, High: tgt, Type: r.Type}
}

// MergeRelationships collapses records sharing a canonical key, keeping the
// highest confidence and the first non-empty reasoning. Endpoints are never
// reordered: the surviving record keeps the direction it was reported in.
// Output order follows first occurrence.
func MergeRelationships(records []RelationshipRecord) []RelationshipRecord {
	index := make(map[RelationshipKey]int, len(records))
	out := make([]RelationshipRecord, 0, len(records))
	for _, rec := range records {
		key := rec.CanonicalKey()
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			out = append(out, rec)
			continue
		}
		existing := &out[i]
		if rec.Confidence > existing.Confidence {
			reasoning := existing.Reasoning
			*existing = rec
			if existing.Reasoning == "" {
				existing.Reasoning = reasoning
			}
			continue
		}
		if existing.Reasoning == "" {
			existing.Reasoning = rec.Reasoning
		}
	}
	return out
}
