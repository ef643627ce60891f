package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/geocode"
	"github.com/ekaya-inc/catalog-enricher/pkg/models"
)

// fakeGeocoder answers from a fixed table; unknown places fall through to err.
type fakeGeocoder struct {
	mu     sync.Mutex
	places map[string]bool
	err    error
	calls  int
}

var _ geocode.Geocoder = (*fakeGeocoder)(nil)

func (g *fakeGeocoder) Geocode(_ context.Context, query string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if found, ok := g.places[strings.ToLower(query)]; ok {
		return found, nil
	}
	if g.err != nil {
		return false, g.err
	}
	return false, nil
}

func newTestDetector(g geocode.Geocoder) *GeoDetector {
	return NewGeoDetector(config.DetectorConfig{}, g, zap.NewNop())
}

func sampled(name, dataType string, cardinality int64, samples ...string) *models.ColumnRecord {
	return &models.ColumnRecord{
		ColumnName:   name,
		DataType:     dataType,
		Cardinality:  cardinality,
		SampleValues: samples,
	}
}

func repeat(v string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestGeoDetector_Coordinates(t *testing.T) {
	d := newTestDetector(nil)
	ctx := context.Background()

	inRange := []string{"45.1", "45.2", "45.3", "45.4", "45.5", "45.6", "45.7", "45.8", "45.9", "46.0"}
	lat := sampled("lat", "double", 5000, inRange...)
	assert.Equal(t, models.SemanticTagLatitude, d.Detect(ctx, lat))

	// One out-of-range value in ten drops the valid ratio below 0.95.
	outlier := append(append([]string{}, inRange[:9]...), "95")
	lat = sampled("lat", "double", 5000, outlier...)
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, lat))

	lon := sampled("longitude", "DOUBLE", 5000, "120.5", "-73.9", "2.35")
	assert.Equal(t, models.SemanticTagLongitude, d.Detect(ctx, lon))

	minLat, maxLat := -33.9, 51.5
	ranged := &models.ColumnRecord{ColumnName: "pickup_lat", DataType: "decimal(9,6)", Cardinality: 4000, Min: &minLat, Max: &maxLat}
	assert.Equal(t, models.SemanticTagLatitude, d.Detect(ctx, ranged), "observed range decides before samples")

	zeros := sampled("lat", "double", 1, repeat("0", 10)...)
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, zeros))

	text := sampled("lat", "varchar", 5000, inRange...)
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, text), "coordinates need a floating type")
}

func TestGeoDetector_Country(t *testing.T) {
	d := newTestDetector(nil)
	ctx := context.Background()

	names := []string{"Germany", "France", "Japan", "Brazil", "Kenya", "Canada", "India", "Spain", "Norway", "Chile"}
	samples := append(append([]string{}, names...), repeat("n/a", 10)...)
	assert.Equal(t, models.SemanticTagCountry, d.Detect(ctx, sampled("country", "varchar", 80, samples...)))

	samples = append([]string{"DE", "USA"}, repeat("n/a", 18)...)
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, sampled("country", "varchar", 80, samples...)))

	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, sampled("country", "bigint", 80, names...)))
}

func TestCountryIndex_Matches(t *testing.T) {
	idx := newCountryIndex()
	for _, v := range []string{"Germany", "de", "DEU", " united states ", "Korea"} {
		assert.True(t, idx.Matches(v), v)
	}
	for _, v := range []string{"", "us-east", "n/a", "xx", "widget"} {
		assert.False(t, idx.Matches(v), v)
	}
}

func TestGeoDetector_Geometry(t *testing.T) {
	d := newTestDetector(nil)
	ctx := context.Background()

	geoType := sampled("geo_type", "varchar", 3, "Point", "LineString", "Polygon")
	assert.Equal(t, models.SemanticTagGeometryType, d.Detect(ctx, geoType))

	geoJSON := sampled("geojson", "varchar", 900,
		`{"type":"Point","coordinates":[1,2]}`,
		`{"type":"LineString","coordinates":[[1,2],[3,4]]}`,
		`{"type":"Point","coordinates":[5,6]}`,
		`not json`)
	assert.Equal(t, models.SemanticTagGeoJSONGeometry, d.Detect(ctx, geoJSON))

	wkt := sampled("geometry", "varchar", 900,
		"POINT (30 10)", "LINESTRING (30 10, 10 30, 40 40)", "POLYGON ((30 10, 40 40, 20 40, 30 10))")
	assert.Equal(t, models.SemanticTagWKTGeometry, d.Detect(ctx, wkt))

	structWKT := sampled("geom", "varchar", 900,
		"{type=LineString, coordinates=[[1,2]]}", "{type=Point, coordinates=[1,2]}", "{type=Polygon, coordinates=[]}")
	assert.Equal(t, models.SemanticTagWKTGeometry, d.Detect(ctx, structWKT))

	structType := sampled("shape", "row(type varchar, coordinates array(double))", 900)
	assert.Equal(t, models.SemanticTagWKTGeometry, d.Detect(ctx, structType))

	tooFew := sampled("geometry", "varchar", 900, "POINT (30 10)", "hello", "world")
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, tooFew))
}

func TestGeoDetector_Exclusions(t *testing.T) {
	d := newTestDetector(&fakeGeocoder{err: geocode.ErrUnavailable})
	ctx := context.Background()

	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, sampled("update_date", "varchar", 400, "2024-01-01")))
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, sampled("total_km", "double", 900, "12.5")))
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, sampled("address_range", "varchar", 900, "1-99")))
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx,
		sampled("region", "varchar", 3, "APAC_MAP_231C0", "EMEA_MAP_11", "NA_MAP_2")), "code enumerations")
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, nil))
}

func TestGeoDetector_AdministrativeByName(t *testing.T) {
	d := newTestDetector(nil)
	ctx := context.Background()

	assert.Equal(t, models.SemanticTagState, d.Detect(ctx, sampled("province", "varchar", 30, "Ontario")))
	assert.Equal(t, models.SemanticTagCity, d.Detect(ctx, sampled("city", "varchar", 3000, "Lyon")))
	assert.Equal(t, models.SemanticTagLocality, d.Detect(ctx, sampled("admin_level_4", "varchar", 30000, "Mitte")))
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, sampled("city", "bigint", 3000, "1")), "name rules only apply to text")
}

func TestGeoDetector_AdministrativeByContent(t *testing.T) {
	ctx := context.Background()
	places := []string{"Bavaria", "Hesse", "Saxony", "Berlin", "Bremen", "Hamburg", "Thuringia", "Brandenburg", "Saarland", "Lower Saxony"}

	known := map[string]bool{}
	for _, p := range places[:6] {
		known[strings.ToLower(p)] = true
	}
	g := &fakeGeocoder{places: known}
	d := newTestDetector(g)

	assert.Equal(t, models.SemanticTagState, d.Detect(ctx, sampled("region", "varchar", 300, places...)))
	assert.Equal(t, 10, g.calls, "at most ten samples are geocoded")
	assert.Equal(t, models.SemanticTagCity, d.Detect(ctx, sampled("region", "varchar", 3000, places...)))
	assert.Equal(t, models.SemanticTagLocality, d.Detect(ctx, sampled("region", "varchar", 60000, places...)))

	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, sampled("region_name", "varchar", 300, places...)), "excluded keyword")
	assert.Equal(t, models.SemanticTagNone, d.Detect(ctx, sampled("region", "varchar", 5, places...)), "cardinality too low")

	few := &fakeGeocoder{places: map[string]bool{"bavaria": true, "hesse": true}}
	assert.Equal(t, models.SemanticTagNone, newTestDetector(few).Detect(ctx, sampled("region", "varchar", 300, places...)))
}

func TestGeoDetector_UnavailableCountsHalf(t *testing.T) {
	ctx := context.Background()
	places := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9", "a10"}

	// Ten unanswered lookups make five matches.
	down := &fakeGeocoder{err: geocode.ErrUnavailable}
	assert.Equal(t, models.SemanticTagState, newTestDetector(down).Detect(ctx, sampled("zone", "varchar", 300, places...)))

	// Nine make four and a half, truncated to four.
	assert.Equal(t, models.SemanticTagNone, newTestDetector(down).Detect(ctx, sampled("zone", "varchar", 300, append(append([]string{}, places[:9]...), "")...)))

	broken := &fakeGeocoder{err: errors.New("boom")}
	assert.Equal(t, models.SemanticTagNone, newTestDetector(broken).Detect(ctx, sampled("zone", "varchar", 300, places...)),
		"other errors never count and never escape")
}

func TestGeoDetector_Deterministic(t *testing.T) {
	d := newTestDetector(nil)
	col := sampled("country", "varchar", 80, "Germany", "France", "Japan")
	first := d.Detect(context.Background(), col)
	for range 10 {
		assert.Equal(t, first, d.Detect(context.Background(), col))
	}
}
