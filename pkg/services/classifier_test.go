package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

func column(name, dataType string, cardinality int64) *models.ColumnRecord {
	return &models.ColumnRecord{ColumnName: name, DataType: dataType, Cardinality: cardinality}
}

func TestColumnClassifier_Classify(t *testing.T) {
	c := NewColumnClassifier(config.ClassifierConfig{})

	tests := []struct {
		name     string
		col      *models.ColumnRecord
		rowCount int64
		want     models.ColumnRole
	}{
		{"unique id", column("customer_id", "bigint", 950), 1000, models.ColumnRoleIdentifier},
		{"repeating id", column("customer_id", "bigint", 200), 1000, models.ColumnRoleDimension},
		{"low cardinality id", column("customer_id", "bigint", 50), 1000, models.ColumnRoleDimension},
		{"uuid primary", column("uuid", "varchar", 10000), 10000, models.ColumnRoleIdentifier},
		{"camel case parent", column("parentId", "bigint", 40), 5000, models.ColumnRoleDimension},
		{"unknown row count falls back to cardinality", column("order_key", "varchar", 5000), 0, models.ColumnRoleIdentifier},
		{"timestamp type", column("created", "timestamp(3)", 9000), 10000, models.ColumnRoleTimestamp},
		{"date type", column("order_day", "DATE", 365), 10000, models.ColumnRoleTimestamp},
		{"measure by keyword", column("total_amount", "double", 15), 10000, models.ColumnRoleMeasure},
		{"measure by cardinality", column("weight", "decimal(10,2)", 800), 10000, models.ColumnRoleMeasure},
		{"low cardinality text", column("status", "varchar", 5), 10000, models.ColumnRoleDimension},
		{"id inside a word is not an id", column("valid", "varchar", 2), 10000, models.ColumnRoleDimension},
		{"run-together unique id", column("customerid", "bigint", 9900), 10000, models.ColumnRoleIdentifier},
		{"run-together unique key", column("userkey", "varchar", 9900), 10000, models.ColumnRoleIdentifier},
		{"run-together repeating code", column("zipcode", "varchar", 80), 10000, models.ColumnRoleDimension},
		{"paid is not a key", column("amount_paid", "double", 9900), 10000, models.ColumnRoleMeasure},
		{"free text", column("comment", "varchar", 5000), 10000, models.ColumnRoleDetail},
		{"mid cardinality text", column("segment", "varchar", 60), 10000, models.ColumnRoleDimension},
		{"nil column", nil, 10, models.ColumnRoleDimension},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.col, tt.rowCount))
		})
	}
}

func TestColumnClassifier_Deterministic(t *testing.T) {
	c := NewColumnClassifier(DefaultClassifierConfig())
	col := column("link_id", "bigint", 123456)

	first := c.Classify(col, 130000)
	for range 20 {
		assert.Equal(t, first, c.Classify(col, 130000))
	}
}

func TestColumnClassifier_ConfigOverrides(t *testing.T) {
	strict := NewColumnClassifier(config.ClassifierConfig{UniquenessThreshold: 0.99})
	col := column("customer_id", "bigint", 950)

	assert.Equal(t, models.ColumnRoleDimension, strict.Classify(col, 1000))
	assert.Equal(t, models.ColumnRoleIdentifier, NewColumnClassifier(config.ClassifierConfig{}).Classify(col, 1000))
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"parentId":     "parent_id",
		"PARENT-ID":    "parent_id",
		"__road id__":  "road_id",
		"AdminLevel2":  "admin_level2",
		"total_km":     "total_km",
		"":             "",
		"GeoJSONShape": "geo_jsonshape",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeName(in), in)
	}
	assert.Equal(t, []string{"parent", "id"}, nameTokens("parentId"))
	assert.Nil(t, nameTokens("--"))
}

func TestMatchesAny(t *testing.T) {
	assert.True(t, matchesAny("parent_id", []string{"id"}))
	assert.True(t, matchesAny("parent_id", []string{"parent_id"}))
	assert.False(t, matchesAny("valid", []string{"id"}))
	assert.False(t, matchesAny("paid_amount", []string{"id"}))
}

func TestEndsWithAny(t *testing.T) {
	for _, name := range []string{"customerid", "userkey", "zipcode", "order_customerid"} {
		assert.True(t, endsWithAny(name, genericIDPatterns), name)
	}
	for _, name := range []string{"id", "key", "valid", "amount_paid", "grid_ref", "xid", "unicode_text"} {
		assert.False(t, endsWithAny(name, genericIDPatterns), name)
	}
}
