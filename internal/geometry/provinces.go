package geometry

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/crs"
	"github.com/sells-group/cdr-etl/internal/gate"
	"github.com/sells-group/cdr-etl/internal/vector"
)

// maxProvinceName matches the width of dim_provinces_it.provincia.
const maxProvinceName = 50

var provinceColumns = []string{"provincia", "geometry", "population"}

// provinceNameKeys are the source attributes holding the province name, in
// order of preference.
var provinceNameKeys = []string{"PROVINCIA", "name"}

// Province is one prepared dim_provinces_it row.
type Province struct {
	Name       string
	Geometry   *geom.MultiPolygon
	Population int32
}

// LoadProvinces loads dim_provinces_it from path unless it is already
// populated.
func (l *Loader) LoadProvinces(ctx context.Context, path string) (*Result, error) {
	log := zap.L().With(zap.String("component", "geometry.provinces"), zap.String("path", path))
	res := &Result{Entity: ProvincesEntity.Name}

	decision, err := l.gate.Check(ctx, ProvincesEntity)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: provinces gate")
	}
	if decision == gate.Populated {
		res.AlreadyLoaded = true
		log.Info("provinces already loaded, skipping")
		return res, nil
	}

	start := time.Now()
	layer, tr, err := l.readLayer(path)
	if err != nil {
		return nil, err
	}
	res.Reprojected = !tr.Identity()

	provinces, skipped := BuildProvinces(layer, tr)
	res.Skipped = skipped

	rows := make([][]any, 0, len(provinces))
	for _, p := range provinces {
		data, err := encodeEWKB(p.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "geometry: province %s", p.Name)
		}
		rows = append(rows, []any{p.Name, data, p.Population})
	}

	n, err := l.insert(ctx, ProvincesEntity.Table, provinceColumns, rows)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: insert provinces")
	}
	res.Loaded = n

	log.Info("provinces loaded",
		zap.Int64("provinces", n),
		zap.Int("skipped", skipped),
		zap.String("source_crs", layer.CRS.String()),
		zap.Duration("elapsed", time.Since(start)),
	)
	if skipped > 0 {
		log.Warn("province features skipped", zap.Int("skipped", skipped))
	}
	return res, nil
}

// BuildProvinces turns layer features into province rows. Polygons are
// promoted to multipolygons; negative, unparsable or out-of-range populations
// become 0.
// Features without a name or an areal geometry, over-long names and repeated
// names are skipped and counted.
func BuildProvinces(layer *vector.Layer, tr *crs.Transform) ([]Province, int) {
	out := make([]Province, 0, len(layer.Features))
	seen := make(map[string]bool, len(layer.Features))
	var skipped int

	for _, f := range layer.Features {
		name, ok := f.String(provinceNameKeys...)
		if f.Err != nil || !ok || len([]rune(name)) > maxProvinceName || seen[name] {
			skipped++
			continue
		}
		mp := asMultiPolygon(f.Geometry)
		if mp == nil || mp.Empty() {
			skipped++
			continue
		}
		g, err := tr.Apply(mp)
		if err != nil {
			skipped++
			continue
		}

		pop, _ := f.Int("population")
		if pop < 0 || pop > math.MaxInt32 {
			pop = 0
		}

		seen[name] = true
		out = append(out, Province{Name: name, Geometry: g.(*geom.MultiPolygon), Population: int32(pop)})
	}
	return out, skipped
}

func asMultiPolygon(g geom.T) *geom.MultiPolygon {
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(t.Layout())
		if err := mp.Push(t); err != nil {
			return nil
		}
		return mp
	}
	return nil
}
