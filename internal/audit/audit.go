// Package audit counts rows that violate the schema's invariants. It never
// modifies data; violations are reported, not fixed.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/db"
)

// Check is one (table, predicate) pair. A row matching Predicate violates
// the invariant.
type Check struct {
	Name      string
	Table     string
	Predicate string
}

// Finding is the outcome of a check.
type Finding struct {
	Check
	Violations int64
}

// Checks covers every invariant of the dimension and fact tables.
var Checks = []Check{
	{"grid_cell_range", "dim_grid_milan", "cell_id NOT BETWEEN 0 AND 9999"},
	{"grid_geometry_null", "dim_grid_milan", "geometry IS NULL"},
	{"province_population_negative", "dim_provinces_it", "population < 0"},
	{"province_geometry_null", "dim_provinces_it", "geometry IS NULL"},
	{"traffic_smsin_negative", "fact_traffic_milan", "smsin < 0"},
	{"traffic_smsout_negative", "fact_traffic_milan", "smsout < 0"},
	{"traffic_callin_negative", "fact_traffic_milan", "callin < 0"},
	{"traffic_callout_negative", "fact_traffic_milan", "callout < 0"},
	{"traffic_internet_negative", "fact_traffic_milan", "internet < 0"},
	{"traffic_datetime_null", "fact_traffic_milan", "datetime IS NULL"},
	{"traffic_cell_range", "fact_traffic_milan", "cell_id NOT BETWEEN 0 AND 9999"},
	{"traffic_orphan_cell", "fact_traffic_milan",
		"NOT EXISTS (SELECT 1 FROM dim_grid_milan g WHERE g.cell_id = fact_traffic_milan.cell_id)"},
	{"mobility_cell2province_negative", "fact_mobility_provinces", "cell2province < 0"},
	{"mobility_province2cell_negative", "fact_mobility_provinces", "province2cell < 0"},
	{"mobility_datetime_null", "fact_mobility_provinces", "datetime IS NULL"},
	{"mobility_cell_range", "fact_mobility_provinces", "cell_id NOT BETWEEN 0 AND 9999"},
	{"mobility_orphan_cell", "fact_mobility_provinces",
		"NOT EXISTS (SELECT 1 FROM dim_grid_milan g WHERE g.cell_id = fact_mobility_provinces.cell_id)"},
	{"mobility_orphan_province", "fact_mobility_provinces",
		"NOT EXISTS (SELECT 1 FROM dim_provinces_it p WHERE p.provincia = fact_mobility_provinces.provincia)"},
}

// Query returns the counting statement for c.
func (c Check) Query() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", db.Identifier(c.Table).Sanitize(), c.Predicate)
}

// Auditor runs checks against the store.
type Auditor struct {
	pool   db.Pool
	checks []Check
}

// New creates an Auditor running Checks.
func New(pool db.Pool) *Auditor {
	return &Auditor{pool: pool, checks: Checks}
}

// Run executes every check in order and returns one finding per check.
// Nonzero counts are logged as warnings. A failing query aborts the audit.
func (a *Auditor) Run(ctx context.Context) ([]Finding, error) {
	log := zap.L().With(zap.String("component", "audit.run"))
	start := time.Now()

	findings := make([]Finding, 0, len(a.checks))
	var dirty int
	for _, c := range a.checks {
		var n int64
		if err := a.pool.QueryRow(ctx, c.Query()).Scan(&n); err != nil {
			return findings, eris.Wrapf(db.NewStorageError("audit", c.Table, err), "audit: %s", c.Name)
		}
		findings = append(findings, Finding{Check: c, Violations: n})
		if n > 0 {
			dirty++
			log.Warn("constraint violated",
				zap.String("check", c.Name),
				zap.String("table", c.Table),
				zap.Int64("rows", n),
			)
		}
	}

	log.Info("audit complete",
		zap.Int("checks", len(findings)),
		zap.Int("violated", dirty),
		zap.Duration("elapsed", time.Since(start)),
	)
	return findings, nil
}

// Violated returns the findings with at least one violating row.
func Violated(findings []Finding) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Violations > 0 {
			out = append(out, f)
		}
	}
	return out
}
