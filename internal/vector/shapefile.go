package vector

import (
	"errors"
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/crs"
)

// ReadShapefile reads a polygon shapefile and its .dbf attributes. The CRS
// comes from the sibling .prj; without one coordinates are taken as WGS84.
func ReadShapefile(path string) (*Layer, error) {
	code, err := shapefileCRS(path)
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	layer := &Layer{Path: path, CRS: code}
	var failed int
	for reader.Next() {
		idx, shape := reader.Shape()

		props := make(map[string]any, len(names))
		for i, name := range names {
			val := strings.TrimRight(reader.Attribute(i), "\x00")
			props[name] = strings.TrimSpace(val)
		}

		f := Feature{Index: idx, Properties: props}
		f.Geometry, f.Err = shapeToGeom(shape)
		if f.Err != nil {
			failed++
		}
		layer.Features = append(layer.Features, f)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "vector: read shapefile %s", path)
	}

	if failed > 0 {
		zap.L().Debug("vector: unsupported shapefile records",
			zap.String("path", path),
			zap.Int("failed", failed),
		)
	}
	return layer, nil
}

func shapefileCRS(path string) (crs.EPSG, error) {
	prj := strings.TrimSuffix(path, ".shp") + ".prj"
	if strings.HasSuffix(path, ".SHP") {
		prj = strings.TrimSuffix(path, ".SHP") + ".PRJ"
	}
	data, err := os.ReadFile(prj)
	if errors.Is(err, os.ErrNotExist) {
		return crs.WGS84, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "vector: read %s", prj)
	}
	code, err := crs.FromWKT(string(data))
	if err != nil {
		return 0, eris.Wrapf(err, "vector: %s", prj)
	}
	return code, nil
}

// shapeToGeom converts a go-shp record. Null shapes yield a nil geometry.
func shapeToGeom(shape shp.Shape) (geom.T, error) {
	switch s := shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Polygon:
		return ringsToGeom(s.Parts, s.Points)
	case *shp.PolygonZ:
		return ringsToGeom(s.Parts, s.Points)
	case *shp.PolygonM:
		return ringsToGeom(s.Parts, s.Points)
	default:
		return nil, eris.Errorf("vector: unsupported shape type %T", shape)
	}
}

// ringsToGeom assembles shapefile rings into polygons. Clockwise rings are
// shells and counter-clockwise rings are holes of the preceding shell. A
// single shell becomes a Polygon, several a MultiPolygon.
func ringsToGeom(parts []int32, points []shp.Point) (geom.T, error) {
	if len(parts) == 0 || len(points) == 0 {
		return nil, nil
	}

	var polys []*geom.Polygon
	for i := range parts {
		start := int(parts[i])
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if start < 0 || end > len(points) || end-start < 4 {
			return nil, eris.Errorf("vector: ring %d has invalid bounds [%d,%d)", i, start, end)
		}

		flat := make([]float64, 0, (end-start)*2)
		for _, p := range points[start:end] {
			flat = append(flat, p.X, p.Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) <= 0 || len(polys) == 0 {
			polys = append(polys, geom.NewPolygon(geom.XY))
		}
		if err := polys[len(polys)-1].Push(ring); err != nil {
			return nil, eris.Wrapf(err, "vector: ring %d", i)
		}
	}

	if len(polys) == 1 {
		return polys[0], nil
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range polys {
		if err := mp.Push(p); err != nil {
			return nil, eris.Wrap(err, "vector: assemble multipolygon")
		}
	}
	return mp, nil
}

// signedArea is positive for counter-clockwise rings (shoelace formula).
func signedArea(flat []float64) float64 {
	var sum float64
	for i := 0; i+3 < len(flat); i += 2 {
		sum += flat[i]*flat[i+3] - flat[i+2]*flat[i+1]
	}
	return sum / 2
}
