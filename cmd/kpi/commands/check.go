package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/edukpi/internal/familyconfig"
	"github.com/wonny/edukpi/internal/source"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate family configurations and list their input files",
	Long: `Loads every family configuration, fails on the first invalid one and
prints recommended-practice warnings, the config hash and the number of
input files found for each family.

Example:
  go run ./cmd/kpi check --config-dir configs/families`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configs, err := familyconfig.LoadDir(cfg.Pipeline.ConfigDir)
	if err != nil {
		PrintError(err.Error())
		return err
	}

	for _, fc := range configs {
		PrintHeader(fc.Family)

		hash, err := familyconfig.Hash(fc)
		if err != nil {
			return err
		}
		PrintKeyValue("Hash", hash[:16], 8)
		PrintKeyValue("Metrics", strconv.Itoa(len(fc.Metrics)), 8)
		PrintKeyValue("Fields", strconv.Itoa(len(fc.Fields)), 8)

		pattern, _ := fc.YearPattern()
		dir := fc.InputDir(cfg.Pipeline.InputDir)
		files, err := source.Discover(fc.Family, dir, fc.FilePatterns, pattern)
		switch {
		case errors.Is(err, os.ErrNotExist):
			PrintKeyValue("Files", "input directory missing: "+dir, 8)
		case err != nil:
			return err
		default:
			PrintKeyValue("Files", strconv.Itoa(len(files)), 8)
		}

		for _, w := range familyconfig.Warn(fc) {
			PrintWarning(fmt.Sprintf("[%s] %s", w.Code, w.Message))
		}
	}

	fmt.Println()
	PrintSuccess(fmt.Sprintf("%d family configurations valid", len(configs)))
	return nil
}
