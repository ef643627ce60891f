package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/geocode"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

var (
	geometryVocabulary = map[string]bool{
		"point":              true,
		"linestring":         true,
		"polygon":            true,
		"multipoint":         true,
		"multilinestring":    true,
		"multipolygon":       true,
		"geometrycollection": true,
	}

	geoTemporalKeywords   = []string{"day", "month", "year", "date", "time", "timestamp"}
	geoDistanceKeywords   = []string{"km", "kilometer", "mile", "meter", "distance", "length", "total_km", "total"}
	geometryTypeKeywords  = []string{"geo_type", "geotype", "geometry_type", "geom_type", "shape_type"}
	geoJSONNameKeywords   = []string{"geojson", "geo_json", "json_geometry"}
	geometryNameKeywords  = []string{"geometry", "geom", "shape", "location"}
	wktNameKeywords       = []string{"geometry", "geom", "shape", "wkt", "location"}
	latitudeNamePatterns  = []string{"lat", "latitude", "_lat", "lat_"}
	longitudeNamePatterns = []string{"lon", "lng", "longitude", "_lon", "_lng", "lon_", "lng_"}

	stateNamePatterns = []string{
		"province", "state", "admin_level_2", "admin_level2", "admin_l2", "level_2", "level2",
	}
	cityNamePatterns = []string{
		"city", "town", "municipality", "admin_level_3", "admin_level3", "admin_l3", "level_3", "level3",
	}
	localityNamePatterns = []string{
		"district", "locality", "neighborhood", "neighbourhood",
		"admin_level_4", "admin_level4", "admin_l4", "level_4", "level4",
	}

	adminKeywords = []string{
		"admin", "region", "area", "zone", "location", "place",
		"province", "state", "city", "town", "district", "county",
	}
	adminExcludeKeywords = []string{
		"type", "category", "feature", "class", "kind", "code",
		"id", "name", "description", "address", "street",
	}

	wktPattern        = regexp.MustCompile(`(?i)^(POINT|LINESTRING|POLYGON|MULTIPOINT|MULTILINESTRING|MULTIPOLYGON|GEOMETRYCOLLECTION)\s*\(`)
	structTypePattern = regexp.MustCompile(`(?i)type=(\w+)`)
)

const (
	geometryTypeSampleSize = 20
	geometrySampleSize     = 10
	minGeometryMatches     = 3
	countrySampleSize      = 20
	maxCountryMatches      = 10
	coordinateSampleSize   = 10
	minCoordinateStdDev    = 0.001
	adminSampleSize        = 10
	codeSampleSize         = 5
	maxCodeCardinality     = 5
	codeRatio              = 0.6
	adminStateCardinality  = 500
	adminCityCardinality   = 50000
)

// DefaultDetectorConfig mirrors the env-default tags of config.DetectorConfig.
func DefaultDetectorConfig() config.DetectorConfig {
	return config.DetectorConfig{
		GeometryRatio:       0.3,
		CountryRatio:        0.5,
		CoordinateRatio:     0.95,
		AdminMinMatches:     5,
		AdminMinCardinality: 10,
		AdminMaxCardinality: 200000,
	}
}

// GeoDetector tags columns with a geographic or geometric meaning.
// Apart from the optional geocoder lookup it is a pure function of the column.
type GeoDetector struct {
	cfg       config.DetectorConfig
	geocoder  geocode.Geocoder
	countries *countryIndex
	logger    *zap.Logger
}

// NewGeoDetector creates a detector. geocoder may be nil, which disables
// content-based administrative detection.
func NewGeoDetector(cfg config.DetectorConfig, geocoder geocode.Geocoder, logger *zap.Logger) *GeoDetector {
	def := DefaultDetectorConfig()
	if cfg.GeometryRatio <= 0 {
		cfg.GeometryRatio = def.GeometryRatio
	}
	if cfg.CountryRatio <= 0 {
		cfg.CountryRatio = def.CountryRatio
	}
	if cfg.CoordinateRatio <= 0 {
		cfg.CoordinateRatio = def.CoordinateRatio
	}
	if cfg.AdminMinMatches <= 0 {
		cfg.AdminMinMatches = def.AdminMinMatches
	}
	if cfg.AdminMinCardinality <= 0 {
		cfg.AdminMinCardinality = def.AdminMinCardinality
	}
	if cfg.AdminMaxCardinality <= 0 {
		cfg.AdminMaxCardinality = def.AdminMaxCardinality
	}
	return &GeoDetector{
		cfg:       cfg,
		geocoder:  geocoder,
		countries: newCountryIndex(),
		logger:    logger.Named("geo-detector"),
	}
}

// Detect returns the semantic tag of col, or SemanticTagNone.
// The first matching rule wins.
func (d *GeoDetector) Detect(ctx context.Context, col *models.ColumnRecord) models.SemanticTag {
	if col == nil {
		return models.SemanticTagNone
	}
	name := strings.ToLower(col.ColumnName)
	dataType := strings.ToLower(strings.TrimSpace(col.DataType))
	samples := col.SampleValues

	switch {
	case containsAny(name, geoTemporalKeywords),
		containsAny(name, geoDistanceKeywords),
		strings.Contains(name, "address") && strings.Contains(name, "range"),
		isCodeColumn(samples, col.Cardinality):
		return models.SemanticTagNone
	}

	switch {
	case d.isGeometryTypeColumn(name, samples):
		return models.SemanticTagGeometryType
	case d.isGeoJSONColumn(name, dataType, samples):
		return models.SemanticTagGeoJSONGeometry
	case d.isWKTColumn(name, dataType, col.DataType, samples):
		return models.SemanticTagWKTGeometry
	case d.isLatitudeColumn(name, dataType, col):
		return models.SemanticTagLatitude
	case d.isLongitudeColumn(name, dataType, col):
		return models.SemanticTagLongitude
	case d.isCountryColumn(name, dataType, samples):
		return models.SemanticTagCountry
	}

	if isTextType(dataType) {
		return d.detectAdministrative(ctx, col.TableID, name, samples, col.Cardinality)
	}
	return models.SemanticTagNone
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func firstN(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

func isTextType(dataType string) bool {
	return strings.Contains(dataType, "char") || strings.Contains(dataType, "text") || strings.Contains(dataType, "string")
}

// isCodeColumn spots short enumerations of codes such as "APAC_MAP_231C0".
func isCodeColumn(samples []string, cardinality int64) bool {
	if cardinality > maxCodeCardinality || len(samples) == 0 {
		return false
	}
	head := firstN(samples, codeSampleSize)
	codes := 0
	for _, v := range head {
		if v == "" {
			continue
		}
		if (strings.Contains(v, "_") || strings.ContainsAny(v, "0123456789")) && v == strings.ToUpper(v) {
			codes++
		}
	}
	return float64(codes) >= float64(len(head))*codeRatio
}

func (d *GeoDetector) isGeometryTypeColumn(name string, samples []string) bool {
	if !containsAny(name, geometryTypeKeywords) || len(samples) == 0 {
		return false
	}
	head := firstN(samples, geometryTypeSampleSize)
	matches := 0
	for _, v := range head {
		if geometryVocabulary[strings.ToLower(strings.TrimSpace(v))] {
			matches++
		}
	}
	return float64(matches) >= float64(len(head))*d.cfg.GeometryRatio
}

func (d *GeoDetector) geometryThreshold(n int) float64 {
	return math.Max(minGeometryMatches, float64(n)*d.cfg.GeometryRatio)
}

func (d *GeoDetector) isGeoJSONColumn(name, dataType string, samples []string) bool {
	if !containsAny(name, geoJSONNameKeywords) && !containsAny(name, geometryNameKeywords) {
		return false
	}
	if !isTextType(dataType) && !strings.Contains(dataType, "json") {
		return false
	}
	head := firstN(samples, geometrySampleSize)
	if len(head) == 0 {
		return false
	}

	valid := 0
	for _, v := range head {
		var obj struct {
			Type        string          `json:"type"`
			Coordinates json.RawMessage `json:"coordinates"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &obj); err != nil {
			continue
		}
		if obj.Coordinates != nil && geometryVocabulary[strings.ToLower(obj.Type)] {
			valid++
		}
	}
	return float64(valid) >= d.geometryThreshold(len(head))
}

func (d *GeoDetector) isWKTColumn(name, dataType, rawType string, samples []string) bool {
	if !containsAny(name, wktNameKeywords) {
		return false
	}
	structured := strings.Contains(dataType, "struct") || strings.Contains(dataType, "row")
	if !isTextType(dataType) && !structured {
		return false
	}
	if structured && strings.Contains(strings.ToLower(rawType), "type") && strings.Contains(strings.ToLower(rawType), "coordinates") {
		return true
	}
	head := firstN(samples, geometrySampleSize)
	if len(head) == 0 {
		return false
	}

	valid := 0
	for _, v := range head {
		v = strings.TrimSpace(v)
		if wktPattern.MatchString(v) {
			valid++
			continue
		}
		if strings.HasPrefix(v, "{") && strings.Contains(v, "type=") && strings.Contains(v, "coordinates=") {
			if m := structTypePattern.FindStringSubmatch(v); m != nil && geometryVocabulary[strings.ToLower(m[1])] {
				valid++
			}
		}
	}
	return float64(valid) >= d.geometryThreshold(len(head))
}

func isCoordinateType(dataType string) bool {
	base, _, _ := strings.Cut(dataType, "(")
	base = strings.TrimSpace(base)
	for _, t := range []string{"double", "float", "decimal", "numeric", "real"} {
		if strings.HasPrefix(base, t) {
			return true
		}
	}
	return false
}

func (d *GeoDetector) isLatitudeColumn(name, dataType string, col *models.ColumnRecord) bool {
	if !containsAny(name, latitudeNamePatterns) || strings.Contains(name, "lon") || strings.Contains(name, "lng") {
		return false
	}
	return isCoordinateType(dataType) && d.withinRange(col, 90)
}

func (d *GeoDetector) isLongitudeColumn(name, dataType string, col *models.ColumnRecord) bool {
	if !containsAny(name, longitudeNamePatterns) {
		return false
	}
	return isCoordinateType(dataType) && d.withinRange(col, 180)
}

// withinRange accepts a coordinate column whose observed range lies inside
// [-limit, limit], or failing that whose samples mostly do and are neither
// all zero nor constant.
func (d *GeoDetector) withinRange(col *models.ColumnRecord, limit float64) bool {
	if col.Min != nil && col.Max != nil && *col.Min >= -limit && *col.Max <= limit {
		return true
	}

	var values []float64
	for _, s := range firstN(col.SampleValues, coordinateSampleSize) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) {
			continue
		}
		values = append(values, f)
	}
	if len(values) == 0 {
		return false
	}

	valid, nonZero := 0, 0
	for _, v := range values {
		if v >= -limit && v <= limit {
			valid++
		}
		if math.Abs(v) > 0.0001 {
			nonZero++
		}
	}
	if nonZero == 0 {
		return false
	}
	if len(values) > 10 && stdDev(values) < minCoordinateStdDev {
		return false
	}
	return float64(valid)/float64(len(values)) >= d.cfg.CoordinateRatio
}

// stdDev is the sample standard deviation.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

func (d *GeoDetector) isCountryColumn(name, dataType string, samples []string) bool {
	if !strings.Contains(name, "country") || !isTextType(dataType) || len(samples) == 0 {
		return false
	}
	matches := 0
	for _, v := range firstN(samples, countrySampleSize) {
		if d.countries.Matches(v) {
			matches++
		}
	}
	need := math.Min(maxCountryMatches, float64(len(samples))*d.cfg.CountryRatio)
	return float64(matches) >= need
}

func (d *GeoDetector) detectAdministrative(ctx context.Context, table models.TableID, name string, samples []string, cardinality int64) models.SemanticTag {
	switch {
	case containsAny(name, stateNamePatterns):
		return models.SemanticTagState
	case containsAny(name, cityNamePatterns):
		return models.SemanticTagCity
	case containsAny(name, localityNamePatterns):
		return models.SemanticTagLocality
	}

	if d.geocoder == nil ||
		cardinality < d.cfg.AdminMinCardinality || cardinality > d.cfg.AdminMaxCardinality ||
		!containsAny(name, adminKeywords) || containsAny(name, adminExcludeKeywords) {
		return models.SemanticTagNone
	}

	if d.countPlaceMatches(ctx, samples) < d.cfg.AdminMinMatches {
		return models.SemanticTagNone
	}

	d.logger.Debug("Administrative column detected from content",
		zap.String("table", table.String()),
		zap.String("column", name),
		zap.Int64("cardinality", cardinality))

	switch {
	case cardinality < adminStateCardinality:
		return models.SemanticTagState
	case cardinality < adminCityCardinality:
		return models.SemanticTagCity
	default:
		return models.SemanticTagLocality
	}
}

// countPlaceMatches geocodes up to ten non-empty samples. A value the
// geocoder could not answer for counts as half a match. The total is
// truncated to a whole number.
func (d *GeoDetector) countPlaceMatches(ctx context.Context, samples []string) float64 {
	var score float64
	checked := 0
	for _, v := range samples {
		if checked == adminSampleSize || ctx.Err() != nil {
			break
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		checked++

		found, err := d.geocoder.Geocode(ctx, v)
		switch {
		case err == nil && found:
			score++
		case errors.Is(err, geocode.ErrUnavailable):
			score += 0.5
		case err != nil:
			d.logger.Debug("Geocoder lookup failed", zap.String("value", v), zap.Error(err))
		}
	}
	return math.Trunc(score)
}
