// Package vector reads polygon layers from GeoJSON and ESRI Shapefile sources
// into go-geom geometries together with the CRS the source declares.
package vector

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/cdr-etl/internal/crs"
)

// Feature is one record of a layer. Index is the zero-based position in the
// source, kept even when the geometry could not be decoded.
type Feature struct {
	Index      int
	Geometry   geom.T
	Properties map[string]any
	Err        error
}

// Layer is the decoded content of one vector file.
type Layer struct {
	Path     string
	CRS      crs.EPSG
	Features []Feature
}

// Read decodes path, choosing the reader by file extension.
func Read(path string) (*Layer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return ReadGeoJSONFile(path)
	case ".shp":
		return ReadShapefile(path)
	default:
		return nil, eris.Errorf("vector: unsupported file type %q", filepath.Ext(path))
	}
}

// Property returns the value stored under key, matched case-insensitively.
func (f Feature) Property(key string) (any, bool) {
	if v, ok := f.Properties[key]; ok {
		return v, true
	}
	for k, v := range f.Properties {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// String returns the first non-empty text value among keys.
func (f Feature) String(keys ...string) (string, bool) {
	for _, key := range keys {
		v, ok := f.Property(key)
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, true
		}
	}
	return "", false
}

// Int returns the value under key as an integer. Text values are parsed;
// fractional numbers are truncated.
func (f Feature) Int(key string) (int64, bool) {
	v, ok := f.Property(key)
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if fl, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(fl) && !math.IsInf(fl, 0) {
			return int64(fl), true
		}
	}
	return 0, false
}
