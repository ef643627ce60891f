package models

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ekaya-inc/catalog-enricher/pkg/apperrors"
)

// ============================================================================
// Table Identity
// ============================================================================

// TableID is the fully-qualified catalog.schema.table identifier of a warehouse table.
// It is the immutable key of a TableRecord.
type TableID string

// NewTableID joins the three parts of a table identifier.
func NewTableID(catalog, schema, table string) TableID {
	return TableID(catalog + "." + schema + "." + table)
}

// ParseTableID validates s as a catalog.schema.table identifier.
func ParseTableID(s string) (TableID, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidTableID, s)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%w: %q", apperrors.ErrInvalidTableID, s)
		}
	}
	return TableID(strings.Join(parts, ".")), nil
}

// Parts splits the identifier into catalog, schema and table name.
// Malformed identifiers yield empty leading parts.
func (id TableID) Parts() (catalog, schema, table string) {
	parts := strings.SplitN(string(id), ".", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return "", parts[0], parts[1]
	default:
		return "", "", string(id)
	}
}

// Table returns the unqualified table name.
func (id TableID) Table() string {
	_, _, t := id.Parts()
	return t
}

func (id TableID) String() string {
	return string(id)
}

// ============================================================================
// Column Roles
// ============================================================================

// ColumnRole is the structural role assigned by the column classifier.
type ColumnRole string

const (
	ColumnRoleIdentifier ColumnRole = "identifier"
	ColumnRoleDimension  ColumnRole = "dimension"
	ColumnRoleMeasure    ColumnRole = "measure"
	ColumnRoleTimestamp  ColumnRole = "timestamp"
	ColumnRoleDetail     ColumnRole = "detail"
)

// ValidColumnRoles contains all valid column role values.
var ValidColumnRoles = []ColumnRole{
	ColumnRoleIdentifier,
	ColumnRoleDimension,
	ColumnRoleMeasure,
	ColumnRoleTimestamp,
	ColumnRoleDetail,
}

// IsValidColumnRole checks if the given role is valid.
func IsValidColumnRole(r ColumnRole) bool {
	return slices.Contains(ValidColumnRoles, r)
}

// ============================================================================
// Semantic Tags
// ============================================================================

// SemanticTag describes the real-world meaning of a column.
// The empty tag means no semantic meaning was detected.
type SemanticTag string

const (
	SemanticTagNone            SemanticTag = ""
	SemanticTagCountry         SemanticTag = "country"
	SemanticTagState           SemanticTag = "state"
	SemanticTagCity            SemanticTag = "city"
	SemanticTagLocality        SemanticTag = "locality"
	SemanticTagLatitude        SemanticTag = "latitude"
	SemanticTagLongitude       SemanticTag = "longitude"
	SemanticTagWKTGeometry     SemanticTag = "wkt_geometry"
	SemanticTagGeoJSONGeometry SemanticTag = "geojson_geometry"
	SemanticTagGeometryType    SemanticTag = "geometry_type"
)

// ValidSemanticTags contains all non-empty semantic tag values.
var ValidSemanticTags = []SemanticTag{
	SemanticTagCountry,
	SemanticTagState,
	SemanticTagCity,
	SemanticTagLocality,
	SemanticTagLatitude,
	SemanticTagLongitude,
	SemanticTagWKTGeometry,
	SemanticTagGeoJSONGeometry,
	SemanticTagGeometryType,
}

// IsValidSemanticTag reports whether t is a known tag or the empty tag.
func IsValidSemanticTag(t SemanticTag) bool {
	return t == SemanticTagNone || slices.Contains(ValidSemanticTags, t)
}

// IsGeometry reports whether the tag marks a geometry-bearing column.
func (t SemanticTag) IsGeometry() bool {
	return t == SemanticTagWKTGeometry || t == SemanticTagGeoJSONGeometry || t == SemanticTagGeometryType
}

// ============================================================================
// Records
// ============================================================================

// TableRecord is the catalog entry of one warehouse table together with its
// pipeline progress on the three status axes.
type TableRecord struct {
	ID            TableID        `json:"id"`
	RowCount      int64          `json:"row_count"`
	ColumnCount   int            `json:"column_count"`
	SchemaStatus  SchemaStatus   `json:"schema_status"`
	SchemaChanges *SchemaChanges `json:"schema_changes,omitempty"` // Set only when SchemaStatus is SCHEMA_CHANGED

	Enrichment    StatusAxis `json:"enrichment"`
	Relationships StatusAxis `json:"relationships"`
	GraphImport   StatusAxis `json:"graph_import"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTableRecord returns a record with every axis NOT_STARTED.
func NewTableRecord(id TableID) *TableRecord {
	return &TableRecord{
		ID:            id,
		SchemaStatus:  SchemaStatusCurrent,
		Enrichment:    StatusAxis{Axis: AxisEnrichment, State: AxisStateNotStarted},
		Relationships: StatusAxis{Axis: AxisRelationships, State: AxisStateNotStarted},
		GraphImport:   StatusAxis{Axis: AxisGraphImport, State: AxisStateNotStarted},
	}
}

// Status returns the status axis a of the table.
func (t *TableRecord) Status(a Axis) *StatusAxis {
	switch a {
	case AxisEnrichment:
		return &t.Enrichment
	case AxisRelationships:
		return &t.Relationships
	case AxisGraphImport:
		return &t.GraphImport
	}
	return nil
}

// ColumnRecord is the single column representation shared by the classifier,
// the geographic detector, the naming generator and the graph exporter.
type ColumnRecord struct {
	TableID    TableID `json:"table_id"`
	ColumnName string  `json:"column_name"`
	DataType   string  `json:"data_type"`

	Role        ColumnRole  `json:"role"`
	SemanticTag SemanticTag `json:"semantic_tag,omitempty"`
	Aliases     []string    `json:"aliases,omitempty"`
	Description string      `json:"description,omitempty"`

	Cardinality    int64    `json:"cardinality"`
	NullCount      int64    `json:"null_count"`
	NullPercentage float64  `json:"null_percentage"`
	Min            *float64 `json:"min,omitempty"` // Numeric columns only
	Max            *float64 `json:"max,omitempty"`
	Avg            *float64 `json:"avg,omitempty"`
	SampleValues   []string `json:"sample_values,omitempty"` // At most MaxSampleValues entries

	UpdatedAt time.Time `json:"updated_at"`
}

// MaxSampleValues bounds the sample values kept per column.
const MaxSampleValues = 10

// FullName returns catalog.schema.table.column.
func (c *ColumnRecord) FullName() string {
	return string(c.TableID) + "." + c.ColumnName
}

// ColumnFieldsUpdate is a direct edit of the human-curated column fields.
// Nil fields are left unchanged.
type ColumnFieldsUpdate struct {
	Aliases     []string
	Description *string
	SemanticTag *SemanticTag
}

// IsEmpty reports whether the update changes nothing.
func (u ColumnFieldsUpdate) IsEmpty() bool {
	return u.Aliases == nil && u.Description == nil && u.SemanticTag == nil
}
