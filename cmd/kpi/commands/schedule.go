package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/edukpi/internal/scheduler"
	"github.com/wonny/edukpi/pkg/config"
	"github.com/wonny/edukpi/pkg/logger"
)

var (
	scheduleCron string
	scheduleNow  bool
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule [family...]",
	Short: "Re-run extraction on a cron schedule",
	Long: `Keeps running and re-extracts all or the named families on a cron
schedule (seconds field first). Stops on SIGINT/SIGTERM.

Example:
  go run ./cmd/kpi schedule --cron "0 0 3 * * *"
  go run ./cmd/kpi schedule --cron "@every 6h" --now graduation`,
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "0 0 3 * * *", "cron expression")
	scheduleCmd.Flags().BoolVar(&scheduleNow, "now", false, "run once immediately before waiting")
	rootCmd.AddCommand(scheduleCmd)
}

// extractJob adapts one extraction run to the scheduler
type extractJob struct {
	cfg      *config.Config
	log      *logger.Logger
	families []string
	schedule string
}

func (j *extractJob) Name() string     { return "extract" }
func (j *extractJob) Schedule() string { return j.schedule }

func (j *extractJob) Run(ctx context.Context) error {
	res, paths, err := extract(ctx, j.cfg, j.log, j.families)
	if err != nil {
		return err
	}
	j.log.WithFields(map[string]interface{}{
		"run_id":      res.RunID,
		"master_rows": len(res.Master.Rows),
		"files":       len(paths),
		"findings":    res.FindingCount(),
	}).Info("Scheduled extraction completed")
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s := scheduler.New(scheduler.DefaultOptions, log)
	job := &extractJob{cfg: cfg, log: log, families: args, schedule: scheduleCron}
	if err := s.AddJob(job); err != nil {
		return err
	}

	PrintHeader("KPI scheduler")
	PrintKeyValue("Cron", scheduleCron, 8)
	PrintKeyValue("Output", cfg.Pipeline.OutputDir, 8)
	PrintSeparator()

	ctx := cmd.Context()
	if scheduleNow {
		if res, err := s.RunNow(ctx, job.Name()); err != nil || !res.Success {
			PrintWarning("Initial run failed, see logs")
		}
	}

	s.Start()
	<-ctx.Done()
	s.Stop()

	hist, err := s.History(job.Name())
	if err != nil {
		return err
	}
	PrintSuccess(stopMessage(hist))
	return nil
}

func stopMessage(hist scheduler.History) string {
	last, ok := hist.Last()
	if !ok {
		return "Scheduler stopped before the first run"
	}
	status := "succeeded"
	if !last.Success {
		status = "failed: " + last.Error
	}
	return fmt.Sprintf("Scheduler stopped after %d runs (%.0f%% succeeded), last run at %s %s",
		len(hist.Results), hist.SuccessRate()*100, last.StartTime.Format(time.RFC3339), status)
}
