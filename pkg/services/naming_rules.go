package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

var abbreviations = map[string]string{
	"addr":  "Address",
	"amt":   "Amount",
	"avg":   "Average",
	"qty":   "Quantity",
	"cust":  "Customer",
	"desc":  "Description",
	"dept":  "Department",
	"emp":   "Employee",
	"lat":   "Latitude",
	"lon":   "Longitude",
	"lng":   "Longitude",
	"max":   "Maximum",
	"min":   "Minimum",
	"num":   "Number",
	"pct":   "Percentage",
	"std":   "Standard",
	"temp":  "Temperature",
	"ts":    "Timestamp",
	"ttl":   "Total",
	"cnt":   "Count",
	"id":    "ID",
	"cd":    "Code",
	"dt":    "Date",
	"tm":    "Time",
	"val":   "Value",
	"ref":   "Reference",
	"seq":   "Sequence",
	"src":   "Source",
	"dst":   "Destination",
	"pos":   "Position",
	"dir":   "Direction",
	"dist":  "Distance",
	"coord": "Coordinate",
	"geo":   "Geographic",
	"usd":   "USD",
	"eur":   "EUR",
	"gbp":   "GBP",
	"pvid":  "ID",
	"admin": "Administrative",
	"km":    "Kilometers",
	"kms":   "Kilometers",
	"poi":   "POI",
	"uuid":  "UUID",
	"guid":  "GUID",
	"url":   "URL",
	"iso":   "ISO",
	"wkt":   "WKT",
}

var tagAliases = map[models.SemanticTag][]string{
	models.SemanticTagLatitude:        {"Latitude Coordinate", "Lat", "North-South Position"},
	models.SemanticTagLongitude:       {"Longitude Coordinate", "Lon", "East-West Position"},
	models.SemanticTagCountry:         {"Country Name", "Nation", "Country Code"},
	models.SemanticTagCity:            {"City Name"},
	models.SemanticTagState:           {"Province Name", "State Name"},
	models.SemanticTagLocality:        {"District Name", "Locality Name"},
	models.SemanticTagWKTGeometry:     {"Geometry", "Shape (WKT)"},
	models.SemanticTagGeoJSONGeometry: {"Geometry", "Shape (GeoJSON)"},
	models.SemanticTagGeometryType:    {"Geometry Type", "Shape Type"},
}

var tagDescriptions = map[models.SemanticTag]string{
	models.SemanticTagLatitude:        "Geographic coordinate representing the north-south position, measured in decimal degrees (-90 to +90).",
	models.SemanticTagLongitude:       "Geographic coordinate representing the east-west position, measured in decimal degrees (-180 to +180).",
	models.SemanticTagCountry:         "Country name or ISO country code identifying the nation where the record applies.",
	models.SemanticTagState:           "Name of the province, state, or first-level administrative division.",
	models.SemanticTagCity:            "Name of the city, town, or municipality.",
	models.SemanticTagLocality:        "Name of the district, locality, or sub-municipal administrative area.",
	models.SemanticTagWKTGeometry:     "Geometry of the record encoded as Well-Known Text.",
	models.SemanticTagGeoJSONGeometry: "Geometry of the record encoded as a GeoJSON object.",
	models.SemanticTagGeometryType:    "Kind of geometry the record holds, such as point, line or polygon.",
}

// adminLevel is a numbered administrative division spelled in a column name.
type adminLevel struct {
	markers []string
	aliases []string
	idDesc  string
	nameTag models.SemanticTag
}

var adminLevels = []adminLevel{
	{
		markers: []string{"l1", "level1", "level_1"},
		aliases: []string{"Province Identifier", "Level 1 Region ID", "State Code"},
		idDesc:  "Unique identifier for top-level administrative regions such as provinces or states.",
	},
	{
		markers: []string{"l2", "level2", "level_2"},
		aliases: []string{"Province Name", "State Name", "Level 2 Region"},
		idDesc:  "Unique identifier for second-level administrative divisions.",
		nameTag: models.SemanticTagState,
	},
	{
		markers: []string{"l3", "level3", "level_3"},
		aliases: []string{"City Name", "Municipality", "Level 3 Region"},
		idDesc:  "Unique identifier for third-level administrative areas such as cities or municipalities.",
		nameTag: models.SemanticTagCity,
	},
	{
		markers: []string{"l4", "level4", "level_4"},
		aliases: []string{"District Name", "Locality", "Level 4 Region"},
		idDesc:  "Unique identifier for fourth-level administrative areas such as districts or localities.",
		nameTag: models.SemanticTagLocality,
	},
}

var idTokens = map[string]bool{"id": true, "pvid": true, "uuid": true, "guid": true}

// RuleNamer names columns from their name, tag and type alone. It always
// returns at least one alias and a description.
type RuleNamer struct{}

var _ Namer = (*RuleNamer)(nil)

func NewRuleNamer() *RuleNamer { return &RuleNamer{} }

func (n *RuleNamer) Stage() string { return "rules" }

func (n *RuleNamer) Name(_ context.Context, in NamingInput) (*NamingResult, error) {
	if in.Column == nil {
		return nil, fmt.Errorf("naming input has no column")
	}
	return &NamingResult{
		Aliases:     ruleAliases(in.Column),
		Description: ruleDescription(in.Column),
		Source:      n.Stage(),
	}, nil
}

func expandedName(tokens []string) string {
	words := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if full, ok := abbreviations[t]; ok {
			words = append(words, full)
			continue
		}
		words = append(words, capitalize(t))
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func isIDName(tokens []string) bool {
	for _, t := range tokens {
		if idTokens[t] {
			return true
		}
	}
	return false
}

func matchAdminLevel(name string) *adminLevel {
	if !strings.Contains(name, "admin") {
		return nil
	}
	for i := range adminLevels {
		if containsAny(name, adminLevels[i].markers) {
			return &adminLevels[i]
		}
	}
	return nil
}

func isDistanceName(name string) bool {
	return strings.Contains(name, "km") || strings.Contains(name, "kilometer")
}

func isCategoryName(name string) bool {
	return strings.Contains(name, "class") || strings.Contains(name, "type")
}

func ruleAliases(col *models.ColumnRecord) []string {
	name := normalizeName(col.ColumnName)
	tokens := nameTokens(col.ColumnName)
	base := expandedName(tokens)
	if base == "" {
		base = col.ColumnName
	}

	aliases := []string{base}
	if isIDName(tokens) && strings.HasSuffix(base, " ID") {
		stem := strings.TrimSuffix(base, " ID")
		aliases = append(aliases, stem+" Identifier", stem+" Code")
	}
	if lvl := matchAdminLevel(name); lvl != nil {
		aliases = append(aliases, lvl.aliases...)
	}
	if isDistanceName(name) {
		aliases = append(aliases, "Distance (km)", "Length in Kilometers", "Total Distance")
	}
	aliases = append(aliases, tagAliases[col.SemanticTag]...)
	if isCategoryName(name) {
		aliases = append(aliases, base+" Category", base+" Type")
	}

	// Canned aliases are short, so only the base alias can be dropped for
	// length; fall back to the raw name then.
	out := normalizeAliases(aliases)
	if len(out) == 0 {
		out = []string{col.ColumnName}
	}
	return out
}

func ruleDescription(col *models.ColumnRecord) string {
	name := normalizeName(col.ColumnName)
	tokens := nameTokens(col.ColumnName)
	dataType := strings.ToLower(col.DataType)

	if isIDName(tokens) || col.Role == models.ColumnRoleIdentifier {
		if strings.Contains(name, "admin") {
			if lvl := matchAdminLevel(name); lvl != nil {
				return lvl.idDesc
			}
			return "Unique identifier for an administrative region."
		}
		return fmt.Sprintf("Unique identifier for the %s entity.", entityName(tokens))
	}

	if d, ok := tagDescriptions[col.SemanticTag]; ok {
		return d
	}
	if lvl := matchAdminLevel(name); lvl != nil && lvl.nameTag != models.SemanticTagNone {
		return tagDescriptions[lvl.nameTag]
	}

	if isDistanceName(name) {
		return "Total distance or length measured in kilometers."
	}

	if isCategoryName(name) {
		subject := strings.Join(withoutTokens(tokens, "class", "type"), " ")
		if subject == "" {
			subject = "this record"
		}
		desc := fmt.Sprintf("Classification or category for %s.", subject)
		if col.Cardinality > 0 && col.Cardinality < 20 {
			desc += fmt.Sprintf(" Contains %d distinct categories.", col.Cardinality)
		}
		return desc
	}

	if strings.Contains(name, "date") || isTemporalType(dataType) {
		switch {
		case containsAny(name, []string{"change", "update", "modified"}):
			return "Date and time when the record was last changed or updated."
		case containsAny(name, []string{"create", "insert"}):
			return "Date and time when the record was created or inserted."
		}
		return fmt.Sprintf("Date and time value for %s.", strings.Join(tokens, " "))
	}

	human := make([]string, len(tokens))
	for i, t := range tokens {
		human[i] = capitalize(t)
	}
	if len(human) == 0 {
		human = []string{col.ColumnName}
	}
	return fmt.Sprintf("%s value stored as %s.", strings.Join(human, " "), col.DataType)
}

// entityName is the thing an id column identifies: "customer_id" names a customer.
func entityName(tokens []string) string {
	rest := withoutTokens(tokens, "id", "pvid", "uuid", "guid")
	if len(rest) == 0 {
		return "record"
	}
	rest[len(rest)-1] = inflection.Singular(rest[len(rest)-1])
	return strings.Join(rest, " ")
}

func withoutTokens(tokens []string, drop ...string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !slices.Contains(drop, t) {
			out = append(out, t)
		}
	}
	return out
}
