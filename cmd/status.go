package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cdr-etl/internal/checkpoint"
	"github.com/sells-group/cdr-etl/internal/db"
	"github.com/sells-group/cdr-etl/internal/report"
)

// printStatus displays the checkpoint ledger.
func printStatus(ctx context.Context, w io.Writer, pool db.Pool) error {
	entries, err := checkpoint.NewLedger(pool).List(ctx)
	if err != nil {
		return eris.Wrap(err, "status: list checkpoints")
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No files loaded yet")
		return nil
	}

	fmt.Fprintf(w, "%-9s %-40s %10s %10s %s\n", "Entity", "File", "Loaded", "Rejected", "Loaded At")
	fmt.Fprintln(w, strings.Repeat("-", 90))

	var loaded, rejected int64
	for _, e := range entries {
		fmt.Fprintf(w, "%-9s %-40s %10d %10d %s\n",
			e.Entity, e.FileName, e.RowsLoaded, e.RowsRejected, e.LoadedAt.Format("2006-01-02 15:04"))
		loaded += e.RowsLoaded
		rejected += e.RowsRejected
	}
	fmt.Fprintln(w, strings.Repeat("-", 90))
	fmt.Fprintf(w, "%-9s %-40s %10d %10d\n", "total", fmt.Sprintf("%d files", len(entries)), loaded, rejected)
	return nil
}

// printTopCells runs the smoke-test query and prints the busiest cells.
func printTopCells(ctx context.Context, w io.Writer, pool db.Pool) error {
	since, err := time.Parse(time.RFC3339, cfg.Report.Since)
	if err != nil {
		return eris.Wrap(err, "test: parse report.since")
	}

	cells, err := report.TopCells(ctx, pool, since, cfg.Report.TopN)
	if err != nil {
		return eris.Wrap(err, "test")
	}

	if len(cells) == 0 {
		fmt.Fprintln(w, "No traffic loaded yet")
		return nil
	}

	fmt.Fprintf(w, "Top %d cells by average hourly activity since %s\n", cfg.Report.TopN, since.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "%-4s %-8s %14s\n", "#", "Cell", "Avg load")
	for i, c := range cells {
		fmt.Fprintf(w, "%-4d %-8d %14.2f\n", i+1, c.CellID, c.AvgLoad)
	}
	return nil
}
