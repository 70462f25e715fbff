package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/wonny/edukpi/pkg/config"
	"github.com/wonny/edukpi/pkg/logger"
)

var (
	// Global flags, override the environment when set
	configDir string
	inputDir  string
	outputDir string
	workers   int
	noParquet bool
	verbose   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kpi",
	Short: "Education KPI extraction engine",
	Long: `Education KPI extraction engine

Converts yearly education data extracts into one long-format KPI table:
one row per (entity, year, demographic group, metric).

Usage:
  go run ./cmd/kpi [command]

Examples:
  go run ./cmd/kpi check
  go run ./cmd/kpi run
  go run ./cmd/kpi run graduation attendance
  go run ./cmd/kpi aggregate`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "family configuration directory (default $KPI_CONFIG_DIR)")
	rootCmd.PersistentFlags().StringVar(&inputDir, "input", "", "raw input root (default $KPI_INPUT_DIR)")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output", "", "output directory (default $KPI_OUTPUT_DIR)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "families processed in parallel (default $KPI_WORKERS)")
	rootCmd.PersistentFlags().BoolVar(&noParquet, "no-parquet", false, "skip Parquet outputs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads the environment and applies flag overrides
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	if configDir != "" {
		cfg.Pipeline.ConfigDir = configDir
	}
	if inputDir != "" {
		cfg.Pipeline.InputDir = inputDir
	}
	if outputDir != "" {
		cfg.Pipeline.OutputDir = outputDir
	}
	if workers > 0 {
		cfg.Pipeline.Workers = workers
	}
	if noParquet {
		cfg.Pipeline.WriteParquet = false
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, logger.New(cfg), nil
}
