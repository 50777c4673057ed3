package geometry

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/crs"
	"github.com/sells-group/cdr-etl/internal/gate"
	"github.com/sells-group/cdr-etl/internal/vector"
)

// MaxCellID is the largest valid grid cell identifier.
const MaxCellID = 9999

var gridColumns = []string{"cell_id", "geometry", "bounds"}

// GridCell is one prepared dim_grid_milan row.
type GridCell struct {
	CellID   int
	Geometry *geom.Polygon
	Bounds   string
}

// LoadGrid loads dim_grid_milan from path unless it is already populated. A
// populated grid only gets its missing bounds backfilled.
func (l *Loader) LoadGrid(ctx context.Context, path string) (*Result, error) {
	log := zap.L().With(zap.String("component", "geometry.grid"), zap.String("path", path))
	res := &Result{Entity: GridEntity.Name}

	decision, err := l.gate.Check(ctx, GridEntity)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: grid gate")
	}
	if decision == gate.Populated {
		res.AlreadyLoaded = true
		log.Info("grid already loaded, skipping")
		if n, err := l.BackfillBounds(ctx); err != nil {
			log.Warn("bounds backfill failed", zap.Error(err))
		} else if n > 0 {
			log.Info("bounds backfilled", zap.Int64("rows", n))
		}
		return res, nil
	}

	start := time.Now()
	layer, tr, err := l.readLayer(path)
	if err != nil {
		return nil, err
	}
	res.Reprojected = !tr.Identity()

	cells, skipped := BuildGrid(layer, tr)
	res.Skipped = skipped

	rows := make([][]any, 0, len(cells))
	for _, c := range cells {
		data, err := encodeEWKB(c.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "geometry: cell %d", c.CellID)
		}
		rows = append(rows, []any{c.CellID, data, c.Bounds})
	}

	n, err := l.insert(ctx, GridEntity.Table, gridColumns, rows)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: insert grid")
	}
	res.Loaded = n

	log.Info("grid loaded",
		zap.Int64("cells", n),
		zap.Int("skipped", skipped),
		zap.String("source_crs", layer.CRS.String()),
		zap.Duration("elapsed", time.Since(start)),
	)
	if skipped > 0 {
		log.Warn("grid features skipped", zap.Int("skipped", skipped))
	}
	return res, nil
}

// BuildGrid turns layer features into grid cells. The cell id is the
// feature's position in the file; features that cannot become a polygon, or
// whose position exceeds MaxCellID, are skipped and counted.
func BuildGrid(layer *vector.Layer, tr *crs.Transform) ([]GridCell, int) {
	cells := make([]GridCell, 0, len(layer.Features))
	var skipped int

	for _, f := range layer.Features {
		if f.Err != nil || f.Index > MaxCellID {
			skipped++
			continue
		}
		poly := asPolygon(f.Geometry)
		if poly == nil || poly.Empty() {
			skipped++
			continue
		}
		g, err := tr.Apply(poly)
		if err != nil {
			skipped++
			continue
		}
		poly = g.(*geom.Polygon)
		cells = append(cells, GridCell{
			CellID:   f.Index,
			Geometry: poly,
			Bounds:   FormatBounds(poly.Bounds()),
		})
	}
	return cells, skipped
}

// asPolygon unwraps single-member multipolygons.
func asPolygon(g geom.T) *geom.Polygon {
	switch t := g.(type) {
	case *geom.Polygon:
		return t
	case *geom.MultiPolygon:
		if t.NumPolygons() == 1 {
			return t.Polygon(0)
		}
	}
	return nil
}

// FormatBounds renders b as "minx,miny,maxx,maxy".
func FormatBounds(b *geom.Bounds) string {
	parts := []string{
		strconv.FormatFloat(b.Min(0), 'f', -1, 64),
		strconv.FormatFloat(b.Min(1), 'f', -1, 64),
		strconv.FormatFloat(b.Max(0), 'f', -1, 64),
		strconv.FormatFloat(b.Max(1), 'f', -1, 64),
	}
	return strings.Join(parts, ",")
}

// BackfillBounds fills bounds on grid rows where it is NULL.
func (l *Loader) BackfillBounds(ctx context.Context) (int64, error) {
	tag, err := l.pool.Exec(ctx, `
		UPDATE dim_grid_milan
		SET bounds = concat_ws(',', ST_XMin(geometry), ST_YMin(geometry), ST_XMax(geometry), ST_YMax(geometry))
		WHERE bounds IS NULL`)
	if err != nil {
		return 0, eris.Wrap(err, "geometry: backfill bounds")
	}
	return tag.RowsAffected(), nil
}
