package vector

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/crs"
)

// ReadGeoJSONFile reads a GeoJSON FeatureCollection from disk.
func ReadGeoJSONFile(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: read %s", path)
	}
	layer, err := ReadGeoJSON(data)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: decode %s", path)
	}
	layer.Path = path
	return layer, nil
}

// ReadGeoJSON decodes a FeatureCollection. Features are decoded one at a
// time so a single malformed geometry does not discard the collection. The
// legacy "crs" member is honoured; without it coordinates are WGS84.
func ReadGeoJSON(data []byte) (*Layer, error) {
	if !gjson.ValidBytes(data) {
		return nil, eris.New("vector: invalid JSON")
	}
	if t := gjson.GetBytes(data, "type").String(); t != "FeatureCollection" {
		return nil, eris.Errorf("vector: expected FeatureCollection, got %q", t)
	}

	code, err := geoJSONCRS(data)
	if err != nil {
		return nil, err
	}

	layer := &Layer{CRS: code}
	var failed int
	gjson.GetBytes(data, "features").ForEach(func(_, raw gjson.Result) bool {
		f := Feature{Index: len(layer.Features)}

		var gf geojson.Feature
		if err := json.Unmarshal([]byte(raw.Raw), &gf); err != nil {
			f.Err = eris.Wrapf(err, "vector: feature %d", f.Index)
			failed++
		} else {
			f.Geometry = gf.Geometry
			f.Properties = gf.Properties
		}
		layer.Features = append(layer.Features, f)
		return true
	})

	if failed > 0 {
		zap.L().Debug("vector: undecodable GeoJSON features",
			zap.Int("failed", failed),
			zap.Int("total", len(layer.Features)),
		)
	}
	return layer, nil
}

// geoJSONCRS resolves the 2008-style named or EPSG-typed crs member.
func geoJSONCRS(data []byte) (crs.EPSG, error) {
	member := gjson.GetBytes(data, "crs")
	if !member.Exists() || member.Type == gjson.Null {
		return crs.WGS84, nil
	}
	if name := member.Get("properties.name"); name.Exists() {
		return crs.Parse(name.String())
	}
	if code := member.Get("properties.code"); code.Exists() {
		return crs.Parse(code.String())
	}
	return 0, eris.Errorf("vector: unsupported crs member %s", member.Raw)
}
