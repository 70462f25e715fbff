package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/edukpi/internal/aggregate"
	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/internal/output"
)

// aggregateCmd represents the aggregate command
var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Rebuild the master table from existing per-family tables",
	Long: `Reads every per-family CSV table in the output directory, normalizes
entity identifiers and writes master_kpi.csv (and .parquet). Fails when two
tables disagree on a column type.

Example:
  go run ./cmd/kpi aggregate --output data/output`,
	Args: cobra.NoArgs,
	RunE: runAggregate,
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	paths, err := output.TablePaths(cfg.Pipeline.OutputDir)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("no family tables in %s", cfg.Pipeline.OutputDir)
	}

	PrintHeader("Aggregation")

	tables := make([]contracts.Table, 0, len(paths))
	for _, p := range paths {
		t, err := aggregate.LoadTable(p)
		if err != nil {
			return err
		}
		PrintKeyValue(t.Family, fmt.Sprintf("%d rows", len(t.Rows)), 20)
		tables = append(tables, t)
	}

	master, err := aggregate.Merge(tables)
	if err != nil {
		PrintError(err.Error())
		return err
	}

	written, err := output.NewWriter(cfg.Pipeline.OutputDir, cfg.Pipeline.WriteParquet, log).WriteTable(master)
	if err != nil {
		return err
	}

	PrintSeparator()
	PrintList(written)
	PrintSuccess(fmt.Sprintf("Master table rebuilt: %d rows from %d tables", len(master.Rows), len(tables)))
	return nil
}
