package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/internal/familyconfig"
	"github.com/wonny/edukpi/internal/output"
	"github.com/wonny/edukpi/internal/pipeline"
	"github.com/wonny/edukpi/internal/store"
	"github.com/wonny/edukpi/pkg/config"
	"github.com/wonny/edukpi/pkg/database"
	"github.com/wonny/edukpi/pkg/logger"
	"github.com/wonny/edukpi/pkg/objectstore"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [family...]",
	Short: "Extract KPI tables for all or selected families",
	Long: `Runs every configured family (or only those named), writes the
per-family tables, the master table, the demographic audit and the run
summary. When DATABASE_URL or MINIO_ENDPOINT is set the results are also
stored in PostgreSQL or published to object storage.

Example:
  go run ./cmd/kpi run
  go run ./cmd/kpi run graduation --output data/output`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	PrintHeader("KPI extraction")
	PrintKeyValue("Input", cfg.Pipeline.InputDir, 10)
	PrintKeyValue("Output", cfg.Pipeline.OutputDir, 10)
	PrintKeyValue("Workers", strconv.Itoa(cfg.Pipeline.Workers), 10)
	PrintSeparator()

	start := time.Now()
	res, paths, err := extract(cmd.Context(), cfg, log, args)
	if err != nil {
		PrintError(err.Error())
		return err
	}

	printRunSummary(res)
	fmt.Println()
	if res.Partial {
		PrintWarning("Subset run: master table and combined audit kept from the last full run, run 'kpi aggregate' to rebuild the master table")
	}
	PrintSuccess(fmt.Sprintf("Run %s completed in %.2fs (%d master rows, %d files written)",
		res.RunID, time.Since(start).Seconds(), len(res.Master.Rows), len(paths)))

	return nil
}

// extract runs the selected families end to end: tables, audit and
// summary on disk, then the optional database and object store sinks.
// Family configs are read on every call so edits apply to the next run.
func extract(ctx context.Context, cfg *config.Config, log *logger.Logger, families []string) (*pipeline.Result, []string, error) {
	configs, err := familyconfig.LoadDir(cfg.Pipeline.ConfigDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load family configs: %w", err)
	}
	selected, err := selectFamilies(configs, families)
	if err != nil {
		return nil, nil, err
	}

	res, err := pipeline.NewEngine(selected, cfg.Pipeline.InputDir, cfg.Pipeline.Workers, log).Run(ctx)
	if err != nil {
		return nil, nil, err
	}
	res.Partial = len(selected) < len(configs)

	paths, err := res.Export(output.NewWriter(cfg.Pipeline.OutputDir, cfg.Pipeline.WriteParquet, log))
	if err != nil {
		return nil, nil, fmt.Errorf("write outputs: %w", err)
	}

	if err := saveToDatabase(ctx, cfg, log, res); err != nil {
		return nil, nil, err
	}
	if err := publish(ctx, cfg, log, res.RunID, paths); err != nil {
		return nil, nil, err
	}
	return res, paths, nil
}

// selectFamilies keeps the named families, all when none are named
func selectFamilies(configs []*familyconfig.Config, names []string) ([]*familyconfig.Config, error) {
	if len(names) == 0 {
		return configs, nil
	}

	byName := make(map[string]*familyconfig.Config, len(configs))
	for _, c := range configs {
		byName[c.Family] = c
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := byName[n]; !ok {
			return nil, fmt.Errorf("unknown family %q", n)
		}
		wanted[n] = true
	}

	// keep family-key order
	selected := make([]*familyconfig.Config, 0, len(wanted))
	for _, c := range configs {
		if wanted[c.Family] {
			selected = append(selected, c)
		}
	}
	return selected, nil
}

func saveToDatabase(ctx context.Context, cfg *config.Config, log *logger.Logger, res *pipeline.Result) error {
	db, err := database.New(ctx, cfg)
	if errors.Is(err, database.ErrNotConfigured) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	repo := store.NewRepository(db.Pool, log)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := repo.SaveRun(ctx, res); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	log.WithField("run_id", res.RunID).Info("Results stored in PostgreSQL")
	return nil
}

func publish(ctx context.Context, cfg *config.Config, log *logger.Logger, runID string, paths []string) error {
	client, err := objectstore.New(cfg.MinIO)
	if errors.Is(err, objectstore.ErrNotConfigured) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := objectstore.NewPublisher(client, cfg.MinIO, log).Publish(ctx, runID, paths); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func printRunSummary(res *pipeline.Result) {
	fmt.Println()
	widths := []int{20, 7, 8, 9, 11, 9}
	PrintTableHeader([]string{"FAMILY", "FILES", "SKIPPED", "ROWS", "SUPPRESSED", "FINDINGS"}, widths)

	for _, fr := range res.Families {
		findings := 0
		for _, e := range fr.Audit {
			findings += len(e.Findings())
		}
		PrintTableRow([]string{
			fr.Family,
			strconv.Itoa(fr.FilesProcessed),
			strconv.Itoa(len(fr.Skipped)),
			strconv.Itoa(len(fr.Table.Rows)),
			strconv.Itoa(fr.SuppressedRows),
			strconv.Itoa(findings),
		}, widths)
	}

	for _, w := range skipWarnings(res.Families) {
		PrintWarning(w)
	}
}

// skipWarnings lists skipped files in pipeline stage order
func skipWarnings(families []*pipeline.FamilyResult) []string {
	var out []string
	for _, stage := range contracts.AllStages() {
		for _, fr := range families {
			for _, s := range fr.Skipped {
				if s.Stage != stage {
					continue
				}
				out = append(out, fmt.Sprintf("%s/%s skipped during %s: %s",
					fr.Family, s.File, stage.Description(), s.Reason))
			}
		}
	}
	return out
}
