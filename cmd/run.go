package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/audit"
	"github.com/sells-group/cdr-etl/internal/db"
	"github.com/sells-group/cdr-etl/internal/pipeline"
	"github.com/sells-group/cdr-etl/internal/schema"
)

// actions is the set of steps selected on the command line.
type actions struct {
	setup      bool
	geo        bool
	data       bool
	audit      bool
	test       bool
	status     bool
	limitFiles int
}

func (a actions) none() bool {
	return !a.setup && !a.geo && !a.data && !a.audit && !a.test && !a.status
}

// parseActions reads the step flags. --all turns on every step except
// --status.
func parseActions(cmd *cobra.Command, defaultLimit int) (actions, error) {
	f := cmd.Flags()
	var a actions
	a.setup, _ = f.GetBool("setup")
	a.geo, _ = f.GetBool("load-geo")
	a.data, _ = f.GetBool("load-data")
	a.audit, _ = f.GetBool("audit")
	a.test, _ = f.GetBool("test")
	a.status, _ = f.GetBool("status")
	a.limitFiles, _ = f.GetInt("limit-files")

	if all, _ := f.GetBool("all"); all {
		a.setup, a.geo, a.data, a.audit, a.test = true, true, true, true, true
	}
	if !f.Changed("limit-files") {
		a.limitFiles = defaultLimit
	}
	if a.limitFiles < 0 {
		return a, eris.Errorf("--limit-files must be >= 0, got %d", a.limitFiles)
	}
	return a, nil
}

func runETL(cmd *cobra.Command, _ []string) error {
	a, err := parseActions(cmd, cfg.Load.LimitFiles)
	if err != nil {
		return err
	}
	if a.none() {
		return cmd.Help()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	log := zap.L().With(zap.String("command", "cdr-etl"))

	if a.setup {
		if err := setupDatabase(ctx, out); err != nil {
			return err
		}
	}

	pool, err := db.NewPool(ctx, cfg.Database.DSN(), &db.PoolConfig{MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return eris.Wrap(err, "connect")
	}
	defer pool.Close()

	if a.setup {
		if err := schema.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "setup: migrate")
		}
		if version, err := schema.PostGISVersion(ctx, pool); err == nil {
			fmt.Fprintf(out, "PostGIS: %s\n", version)
		}
		fmt.Fprintln(out, "Schema ready")
	}

	if a.geo || a.data || a.audit {
		res, err := pipeline.New(cfg, pool).Run(ctx, pipeline.Options{
			Geo:        a.geo,
			Data:       a.data,
			Audit:      a.audit,
			LimitFiles: a.limitFiles,
		})
		if res != nil {
			printRunSummary(out, res)
		}
		if err != nil {
			return err
		}
	}

	if a.test {
		if err := printTopCells(ctx, out, pool); err != nil {
			return err
		}
	}

	if a.status {
		if err := printStatus(ctx, out, pool); err != nil {
			return err
		}
	}

	log.Info("done")
	return nil
}

// setupDatabase creates the target database from the maintenance database.
func setupDatabase(ctx context.Context, out io.Writer) error {
	maint, err := db.NewPool(ctx, cfg.Database.MaintenanceDSN(), &db.PoolConfig{MaxConns: 1})
	if err != nil {
		return eris.Wrap(err, "setup: connect to maintenance database")
	}
	defer maint.Close()

	name := cfg.Database.DatabaseName()
	created, err := schema.EnsureDatabase(ctx, maint, name)
	if err != nil {
		return eris.Wrap(err, "setup")
	}
	if created {
		fmt.Fprintf(out, "Created database %s\n", name)
	} else {
		fmt.Fprintf(out, "Database %s already exists\n", name)
	}
	return nil
}

// printRunSummary prints one line per executed step.
func printRunSummary(w io.Writer, res *pipeline.Result) {
	if len(res.Steps) == 0 {
		return
	}
	fmt.Fprintf(w, "Run %s\n", res.RunID)
	fmt.Fprintf(w, "%-10s %-9s %10s %10s %10s\n", "Step", "Status", "Loaded", "Rejected", "Duration")
	fmt.Fprintln(w, strings.Repeat("-", 53))
	for _, s := range res.Steps {
		fmt.Fprintf(w, "%-10s %-9s %10d %10d %10s\n",
			s.Name, s.Status, s.Loaded, s.Rejected, s.Duration.Round(time.Millisecond))
	}

	if len(res.Findings) > 0 {
		fmt.Fprintln(w)
		printFindings(w, res)
	}
}

// printFindings prints the audit checks with violations, or a clean bill.
func printFindings(w io.Writer, res *pipeline.Result) {
	violated := audit.Violated(res.Findings)
	if len(violated) == 0 {
		fmt.Fprintf(w, "Audit: %d checks, no violations\n", len(res.Findings))
		return
	}
	fmt.Fprintln(w, "Constraint violations:")
	for _, f := range violated {
		fmt.Fprintf(w, "  %-34s %-24s %d\n", f.Name, f.Table, f.Violations)
	}
}
