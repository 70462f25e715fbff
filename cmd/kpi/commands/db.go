package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/edukpi/internal/familyconfig"
	"github.com/wonny/edukpi/internal/store"
	"github.com/wonny/edukpi/pkg/database"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Check the PostgreSQL sink and show stored row counts",
	Long: `Connects to DATABASE_URL, pings it, creates the kpi schema when missing
and prints pool statistics and the stored KPI row count per family.

Example:
  go run ./cmd/kpi db`,
	Args: cobra.NoArgs,
	RunE: runDB,
}

func init() {
	rootCmd.AddCommand(dbCmd)
}

func runDB(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	PrintHeader("PostgreSQL sink")
	PrintKeyValue("URL", maskPassword(cfg.Database.URL), 10)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, cfg)
	if errors.Is(err, database.ErrNotConfigured) {
		PrintWarning("DATABASE_URL is not set")
		return nil
	}
	if err != nil {
		PrintError(err.Error())
		return err
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		PrintError(err.Error())
		return err
	}
	PrintSuccess("Ping successful")

	repo := store.NewRepository(db.Pool, log)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	stats := db.Pool.Stat()
	PrintKeyValue("MaxConns", strconv.Itoa(int(stats.MaxConns())), 10)
	PrintKeyValue("Total", strconv.Itoa(int(stats.TotalConns())), 10)
	PrintKeyValue("Idle", strconv.Itoa(int(stats.IdleConns())), 10)

	configs, err := familyconfig.LoadDir(cfg.Pipeline.ConfigDir)
	if err != nil {
		return fmt.Errorf("load family configs: %w", err)
	}

	fmt.Println()
	widths := []int{20, 10}
	PrintTableHeader([]string{"FAMILY", "ROWS"}, widths)
	for _, fc := range configs {
		n, err := repo.CountRows(ctx, fc.Family)
		if err != nil {
			return err
		}
		PrintTableRow([]string{fc.Family, strconv.Itoa(n)}, widths)
	}
	return nil
}

// maskPassword hides the password of a connection URL
func maskPassword(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
