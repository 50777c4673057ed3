package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cdr-etl",
	Short: "Load the Milan telecom dataset into PostGIS",
	Long: `Loads the Milan cell grid, Italian provinces, cell traffic and cell-to-province
mobility files into a PostGIS database, then audits the loaded tables.

Steps are selected with flags and always run in dependency order:
setup, grid and provinces, traffic and mobility, audit, top-N report.
Loads are idempotent: populated dimensions and checkpointed files are skipped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	RunE: runETL,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	addFlags(rootCmd)
}

// addFlags registers the step flags on cmd.
func addFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("setup", false, "create the database if missing, enable PostGIS and apply migrations")
	f.Bool("load-geo", false, "load the grid and province dimensions")
	f.Bool("load-data", false, "load traffic and mobility files")
	f.Int("limit-files", 0, "load at most N files per measurement type (default: from config, 0 = all)")
	f.Bool("test", false, "print the busiest cells")
	f.Bool("audit", false, "count constraint violations in the loaded tables")
	f.Bool("status", false, "print the per-file load checkpoints")
	f.Bool("all", false, "setup, load-geo, load-data, audit and test")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("cdr-etl failed", zap.Error(err))
		os.Exit(1)
	}
}
