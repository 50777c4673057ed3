// Package report runs read-only smoke queries against a loaded store.
package report

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/db"
)

// CellLoad is a cell's average hourly activity.
type CellLoad struct {
	CellID  int32
	AvgLoad float64
}

const topCellsQuery = `
	SELECT cell_id, AVG(total_activity)::float8 AS avg_load
	FROM v_hourly_traffic
	WHERE hour >= $1
	GROUP BY cell_id
	ORDER BY avg_load DESC, cell_id
	LIMIT $2`

// TopCells returns the n cells with the highest average hourly activity
// since the given instant. Ties are broken by cell id.
func TopCells(ctx context.Context, pool db.Pool, since time.Time, n int) ([]CellLoad, error) {
	if n <= 0 {
		return nil, eris.Errorf("report: top-n must be positive, got %d", n)
	}
	log := zap.L().With(zap.String("component", "report.top_cells"))

	rows, err := pool.Query(ctx, topCellsQuery, since, n)
	if err != nil {
		return nil, db.NewStorageError("query", "v_hourly_traffic", err)
	}
	defer rows.Close()

	var out []CellLoad
	for rows.Next() {
		var c CellLoad
		if err := rows.Scan(&c.CellID, &c.AvgLoad); err != nil {
			return nil, eris.Wrap(err, "report: scan top cell")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStorageError("query", "v_hourly_traffic", err)
	}

	log.Info("top cells", zap.Int("requested", n), zap.Int("returned", len(out)), zap.Time("since", since))
	return out, nil
}
