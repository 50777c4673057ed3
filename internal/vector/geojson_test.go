package vector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/crs"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const gridFixture = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::32632"}},
  "features": [
    {"type": "Feature", "id": 1, "properties": {"cellId": 1},
     "geometry": {"type": "Polygon", "coordinates": [[[500000,5000000],[500235,5000000],[500235,5000235],[500000,5000235],[500000,5000000]]]}},
    {"type": "Feature", "properties": {"cellId": 2},
     "geometry": {"type": "Banana", "coordinates": []}},
    {"type": "Feature", "properties": {"cellId": 3}, "geometry": null},
    {"type": "Feature", "properties": {"cellId": 4},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[0,0],[1,0],[1,1],[0,0]]]]}}
  ]
}`

func TestReadGeoJSON_NamedCRS(t *testing.T) {
	layer, err := ReadGeoJSON([]byte(gridFixture))
	require.NoError(t, err)

	assert.Equal(t, crs.UTM32N, layer.CRS)
	require.Len(t, layer.Features, 4)

	for i, f := range layer.Features {
		assert.Equal(t, i, f.Index)
	}

	poly, ok := layer.Features[0].Geometry.(*geom.Polygon)
	require.True(t, ok)
	assert.Equal(t, 5, poly.NumCoords())
	assert.NoError(t, layer.Features[0].Err)

	assert.Error(t, layer.Features[1].Err)
	assert.Nil(t, layer.Features[1].Geometry)

	assert.NoError(t, layer.Features[2].Err)
	assert.Nil(t, layer.Features[2].Geometry)

	_, ok = layer.Features[3].Geometry.(*geom.MultiPolygon)
	assert.True(t, ok)
}

func TestReadGeoJSON_DefaultsToWGS84(t *testing.T) {
	data := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"name":"Milano"},"geometry":{"type":"Polygon","coordinates":[[[9,45],[9.1,45],[9.1,45.1],[9,45]]]}}
	]}`
	layer, err := ReadGeoJSON([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, crs.WGS84, layer.CRS)
	require.Len(t, layer.Features, 1)

	name, ok := layer.Features[0].String("PROVINCIA", "name")
	assert.True(t, ok)
	assert.Equal(t, "Milano", name)
}

func TestReadGeoJSON_EPSGTypedCRS(t *testing.T) {
	data := `{"type":"FeatureCollection","crs":{"type":"EPSG","properties":{"code":3857}},"features":[]}`
	layer, err := ReadGeoJSON([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, crs.WebMercator, layer.CRS)
	assert.Empty(t, layer.Features)
}

func TestReadGeoJSON_Errors(t *testing.T) {
	_, err := ReadGeoJSON([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ReadGeoJSON([]byte(`{"type":"Feature","geometry":null,"properties":{}}`))
	assert.Error(t, err)

	_, err = ReadGeoJSON([]byte(`{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"EPSG:999999"}},"features":[]}`))
	assert.ErrorIs(t, err, crs.ErrUnsupported)
}

func TestRead_DispatchesByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "milano-grid.geojson")
	require.NoError(t, os.WriteFile(path, []byte(gridFixture), 0o644))

	layer, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, path, layer.Path)
	assert.Len(t, layer.Features, 4)

	_, err = Read(filepath.Join(dir, "grid.kml"))
	assert.Error(t, err)

	_, err = Read(filepath.Join(dir, "missing.geojson"))
	assert.Error(t, err)
}

func TestFeatureHelpers(t *testing.T) {
	f := Feature{Properties: map[string]any{
		"PROVINCIA":  " Monza E Della Brianza ",
		"POP":        "873935",
		"population": 3265327.0,
		"blank":      "",
		"bad":        "n/a",
	}}

	v, ok := f.String("provincia")
	assert.True(t, ok)
	assert.Equal(t, "Monza E Della Brianza", v)

	_, ok = f.String("blank", "missing")
	assert.False(t, ok)

	n, ok := f.Int("pop")
	assert.True(t, ok)
	assert.Equal(t, int64(873935), n)

	n, ok = f.Int("population")
	assert.True(t, ok)
	assert.Equal(t, int64(3265327), n)

	_, ok = f.Int("bad")
	assert.False(t, ok)
	_, ok = f.Int("missing")
	assert.False(t, ok)
}
