package services

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/catalog-enricher/pkg/adapters/warehouse"
	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

var (
	primaryIDPatterns  = []string{"link_id", "road_id", "uuid", "guid", "pk", "primary"}
	foreignKeyPatterns = []string{"pvid", "fk", "ref_id", "parent_id"}
	genericIDPatterns  = []string{"id", "key", "code"}

	// Ordinary words ending in a generic id pattern; they never name a key.
	idSuffixWords = map[string]bool{
		"paid": true, "valid": true, "invalid": true, "void": true, "avoid": true,
		"grid": true, "hybrid": true, "solid": true, "rapid": true, "fluid": true,
		"liquid": true, "humid": true, "lipid": true, "acid": true, "squid": true,
		"monkey": true, "turkey": true, "hockey": true, "jockey": true, "donkey": true,
		"decode": true, "encode": true, "unicode": true, "opcode": true,
	}

	measureKeywords = []string{
		"kms", "kilometers", "distance", "length", "count", "total", "sum", "avg",
		"amount", "value", "price", "cost", "rate",
		"latitude", "longitude", "lat", "lon", "coord",
	}

	temporalTypeMarkers = []string{"timestamp", "datetime", "date", "time"}

	camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	nameSeparator = regexp.MustCompile(`[^a-z0-9]+`)
)

// DefaultClassifierConfig mirrors the env-default tags of config.ClassifierConfig.
func DefaultClassifierConfig() config.ClassifierConfig {
	return config.ClassifierConfig{
		UniquenessThreshold:        0.8,
		IdentifierCardinality:      1000,
		ForeignKeyCardinality:      100,
		LowCardinalityThreshold:    20,
		DetailCardinalityThreshold: 100,
	}
}

// ColumnClassifier assigns a structural role to a column from its name,
// declared type and cardinality. It is pure and safe for concurrent use.
type ColumnClassifier struct {
	cfg config.ClassifierConfig
}

// NewColumnClassifier creates a classifier. Zero thresholds take their defaults.
func NewColumnClassifier(cfg config.ClassifierConfig) *ColumnClassifier {
	def := DefaultClassifierConfig()
	if cfg.UniquenessThreshold <= 0 {
		cfg.UniquenessThreshold = def.UniquenessThreshold
	}
	if cfg.IdentifierCardinality <= 0 {
		cfg.IdentifierCardinality = def.IdentifierCardinality
	}
	if cfg.ForeignKeyCardinality <= 0 {
		cfg.ForeignKeyCardinality = def.ForeignKeyCardinality
	}
	if cfg.LowCardinalityThreshold <= 0 {
		cfg.LowCardinalityThreshold = def.LowCardinalityThreshold
	}
	if cfg.DetailCardinalityThreshold <= 0 {
		cfg.DetailCardinalityThreshold = def.DetailCardinalityThreshold
	}
	return &ColumnClassifier{cfg: cfg}
}

// Classify returns the role of col in a table of rowCount rows. A rowCount of
// zero means unknown; uniqueness rules then fall back to absolute cardinality.
// The first matching rule wins.
func (c *ColumnClassifier) Classify(col *models.ColumnRecord, rowCount int64) models.ColumnRole {
	if col == nil {
		return models.ColumnRoleDimension
	}

	name := normalizeName(col.ColumnName)
	dataType := strings.ToLower(col.DataType)
	numeric := warehouse.IsNumericType(dataType)
	cardinality := col.Cardinality

	if isTemporalType(dataType) {
		return models.ColumnRoleTimestamp
	}

	primary := matchesAny(name, primaryIDPatterns)
	generic := matchesAny(name, genericIDPatterns) || endsWithAny(name, genericIDPatterns)

	if (primary || generic) && c.looksUnique(cardinality, rowCount) {
		return models.ColumnRoleIdentifier
	}

	// Repeating keys group rows, so they are dimensions rather than identifiers.
	if (matchesAny(name, foreignKeyPatterns) || generic) && c.looksRepeating(cardinality, rowCount) {
		return models.ColumnRoleDimension
	}

	if numeric && (matchesAny(name, measureKeywords) || cardinality > c.cfg.LowCardinalityThreshold) {
		return models.ColumnRoleMeasure
	}

	if cardinality <= c.cfg.LowCardinalityThreshold {
		return models.ColumnRoleDimension
	}

	if !numeric && cardinality > c.cfg.DetailCardinalityThreshold {
		return models.ColumnRoleDetail
	}

	if numeric {
		return models.ColumnRoleMeasure
	}
	return models.ColumnRoleDimension
}

func (c *ColumnClassifier) looksUnique(cardinality, rowCount int64) bool {
	if rowCount > 0 {
		return float64(cardinality)/float64(rowCount) > c.cfg.UniquenessThreshold
	}
	return cardinality > c.cfg.IdentifierCardinality
}

func (c *ColumnClassifier) looksRepeating(cardinality, rowCount int64) bool {
	if rowCount > 0 {
		uniqueness := float64(cardinality) / float64(rowCount)
		if uniqueness < c.cfg.UniquenessThreshold && cardinality < c.cfg.IdentifierCardinality {
			return true
		}
	}
	return cardinality <= c.cfg.ForeignKeyCardinality
}

func isTemporalType(dataType string) bool {
	for _, m := range temporalTypeMarkers {
		if strings.Contains(dataType, m) {
			return true
		}
	}
	return false
}

// normalizeName lowercases a column name and joins its words with single
// underscores, splitting camelCase: "parentId" and "PARENT-ID" both become
// "parent_id".
func normalizeName(name string) string {
	name = camelBoundary.ReplaceAllString(name, "${1}_${2}")
	name = nameSeparator.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(name, "_")
}

// nameTokens splits a column name into lowercase words.
func nameTokens(name string) []string {
	n := normalizeName(name)
	if n == "" {
		return nil
	}
	return strings.Split(n, "_")
}

// matchesAny reports whether a normalized name contains one of the patterns
// as a whole word sequence.
func matchesAny(normalized string, patterns []string) bool {
	padded := "_" + normalized + "_"
	for _, p := range patterns {
		if strings.Contains(padded, "_"+p+"_") {
			return true
		}
	}
	return false
}

// endsWithAny reports whether a word of the normalized name is a run-together
// key name such as "customerid" or "zipcode": a pattern preceded by at least
// two letters.
func endsWithAny(normalized string, patterns []string) bool {
	for _, token := range strings.Split(normalized, "_") {
		if idSuffixWords[token] {
			continue
		}
		for _, p := range patterns {
			if len(token) >= len(p)+2 && strings.HasSuffix(token, p) {
				return true
			}
		}
	}
	return false
}
