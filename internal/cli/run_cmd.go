package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Lllllllleong/gisrequestflow/internal/app"
	"github.com/Lllllllleong/gisrequestflow/internal/config"
	"github.com/Lllllllleong/gisrequestflow/internal/models"
	"github.com/Lllllllleong/gisrequestflow/internal/services"
	"github.com/spf13/cobra"
)

// errRunFailed is returned after the report was printed, so Execute only sets the exit code.
var errRunFailed = errors.New("fulfillment run failed")

func newRunCmd(st *state) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fulfill every pending request once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := runOnce(cmd.Context(), st.cfg, dryRun)
			if report.RunID != "" {
				if perr := printReport(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
			}
			if err != nil {
				if report.RunID != "" {
					return fmt.Errorf("%w: %v", errRunFailed, err)
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log notifications instead of sending them")
	return cmd
}

// runOnce performs one logged run. The run log is discarded when nothing was pending.
func runOnce(ctx context.Context, cfg *config.Config, dryRun bool) (models.RunReport, error) {
	level, err := config.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return models.RunReport{}, err
	}
	logger, runLog := config.SetupRunLogger(cfg.Logging.Dir, level, time.Now())
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, app.Options{DryRun: dryRun})
	if err != nil {
		slog.Error("Failed to initialize the fulfillment pipeline.", "error", err)
		_ = runLog.Close()
		return models.RunReport{}, err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Failed to close clients.", "error", err)
		}
	}()

	report, err := a.Run(ctx, services.RunOptions{LogFile: runLog.Path})
	if err == nil && report.NothingPending {
		if derr := runLog.Discard(); derr != nil {
			slog.Warn("Failed to remove empty run log.", "error", derr)
		}
		return report, nil
	}
	_ = runLog.Close()
	return report, err
}

func printReport(w io.Writer, report models.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
