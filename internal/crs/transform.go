package crs

import (
	"math"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/wroge/wgs84"
)

var (
	registryOnce sync.Once
	registry     map[EPSG]wgs84.CoordinateReferenceSystem
)

// registered returns every EPSG code the wgs84 repository can build.
func registered() map[EPSG]wgs84.CoordinateReferenceSystem {
	registryOnce.Do(func() {
		repo := wgs84.EPSG()
		codes := repo.Codes()
		registry = make(map[EPSG]wgs84.CoordinateReferenceSystem, len(codes))
		for _, c := range codes {
			registry[EPSG(c)] = repo.Code(c)
		}
	})
	return registry
}

// Transform converts coordinates from one CRS to another.
type Transform struct {
	From EPSG
	To   EPSG

	fn func(a, b, c float64) (float64, float64, float64)
}

// NewTransform returns a Transform between two supported codes.
func NewTransform(from, to EPSG) (*Transform, error) {
	reg := registered()
	src, ok := reg[from]
	if !ok {
		return nil, eris.Wrapf(ErrUnsupported, "crs: source %s", from)
	}
	dst, ok := reg[to]
	if !ok {
		return nil, eris.Wrapf(ErrUnsupported, "crs: target %s", to)
	}
	return &Transform{From: from, To: to, fn: wgs84.Transform(src, dst)}, nil
}

// Identity reports whether the transform leaves coordinates unchanged.
// WGS84 and ETRS89 differ by well under a metre in Europe and are treated as
// the same frame.
func (t *Transform) Identity() bool {
	if t.From == t.To {
		return true
	}
	same := func(c EPSG) bool { return c == WGS84 || c == ETRS89 }
	return same(t.From) && same(t.To)
}

// Point transforms a single x/y pair. Geographic coordinates are lon/lat in
// degrees.
func (t *Transform) Point(x, y float64) (float64, float64) {
	if t.Identity() {
		return x, y
	}
	a, b, _ := t.fn(x, y, 0)
	return a, b
}

// Apply returns a reprojected copy of g with its SRID set to the target code.
// The input geometry is not modified.
func (t *Transform) Apply(g geom.T) (geom.T, error) {
	var out geom.T
	switch g := g.(type) {
	case *geom.Point:
		out = g.Clone().SetSRID(int(t.To))
	case *geom.LineString:
		out = g.Clone().SetSRID(int(t.To))
	case *geom.Polygon:
		out = g.Clone().SetSRID(int(t.To))
	case *geom.MultiPoint:
		out = g.Clone().SetSRID(int(t.To))
	case *geom.MultiLineString:
		out = g.Clone().SetSRID(int(t.To))
	case *geom.MultiPolygon:
		out = g.Clone().SetSRID(int(t.To))
	default:
		return nil, eris.Errorf("crs: cannot transform %T", g)
	}

	if t.Identity() {
		return out, nil
	}

	flat := out.FlatCoords()
	stride := out.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		flat[i], flat[i+1] = t.Point(flat[i], flat[i+1])
		if math.IsNaN(flat[i]) || math.IsNaN(flat[i+1]) || math.IsInf(flat[i], 0) || math.IsInf(flat[i+1], 0) {
			return nil, eris.Errorf("crs: coordinate %d not representable in %s", i/stride, t.To)
		}
	}
	return out, nil
}
