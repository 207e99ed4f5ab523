package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/gisrequestflow/internal/config"
	"github.com/Lllllllleong/gisrequestflow/internal/services"
	"github.com/spf13/cobra"
)

func newWatchCmd(st *state) *cobra.Command {
	var (
		dryRun   bool
		schedule string
		runNow   bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run fulfillment on a schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := config.ParseLevel(st.cfg.Logging.Level)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			if schedule == "" {
				schedule = st.cfg.Schedule.Cron
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			run := func(ctx context.Context) error {
				report, err := runOnce(ctx, st.cfg, dryRun)
				if err != nil {
					return err
				}
				if !report.NothingPending {
					logger.Info("Scheduled run finished.", "runId", report.RunID, "status", report.Status, "fulfilled", len(report.Fulfilled))
				}
				return nil
			}

			s, err := services.NewScheduler(schedule, run, logger)
			if err != nil {
				return err
			}
			if runNow {
				if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("Initial run failed.", "error", err)
				}
			}
			s.Start(ctx)
			<-ctx.Done()
			logger.Info("Shutdown signal received, waiting for the current run.")
			<-s.Stop().Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log notifications instead of sending them")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron expression overriding schedule.cron")
	cmd.Flags().BoolVar(&runNow, "now", false, "Run once immediately before waiting for the schedule")
	return cmd
}
