// Package geometry loads the grid and province dimension tables from vector
// files, reprojecting to the store's CRS.
package geometry

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/cdr-etl/internal/crs"
	"github.com/sells-group/cdr-etl/internal/db"
	"github.com/sells-group/cdr-etl/internal/gate"
	"github.com/sells-group/cdr-etl/internal/vector"
)

// Dimension entities.
var (
	GridEntity      = gate.Entity{Name: "grid", Table: "dim_grid_milan", Kind: gate.Dimension}
	ProvincesEntity = gate.Entity{Name: "provinces", Table: "dim_provinces_it", Kind: gate.Dimension}
)

// Result summarises one dimension load.
type Result struct {
	Entity        string
	Loaded        int64
	Skipped       int
	Reprojected   bool
	AlreadyLoaded bool
}

// Loader loads dimension tables.
type Loader struct {
	pool      db.Pool
	gate      *gate.Gate
	target    crs.EPSG
	batchSize int
}

// NewLoader creates a Loader writing geometries in target.
func NewLoader(pool db.Pool, target crs.EPSG, batchSize int) *Loader {
	return &Loader{
		pool:      pool,
		gate:      gate.New(pool),
		target:    target,
		batchSize: batchSize,
	}
}

// readLayer decodes path and prepares the transform into the target CRS.
func (l *Loader) readLayer(path string) (*vector.Layer, *crs.Transform, error) {
	layer, err := vector.Read(path)
	if err != nil {
		return nil, nil, err
	}
	tr, err := crs.NewTransform(layer.CRS, l.target)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "geometry: %s", path)
	}
	return layer, tr, nil
}

// insert COPYs rows into table inside a single transaction.
func (l *Loader) insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, db.NewStorageError("begin", table, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := db.CopyInBatches(ctx, tx, table, columns, rows, l.batchSize)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, db.NewStorageError("commit", table, err)
	}
	return n, nil
}

// encodeEWKB serialises g with its SRID for COPY into a geometry column.
func encodeEWKB(g geom.T) ([]byte, error) {
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: encode EWKB")
	}
	return data, nil
}
