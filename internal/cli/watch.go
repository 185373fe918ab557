package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appsync "github.com/nhle/attachsync/internal/sync"
)

func (a *App) newWatchCommand() *cobra.Command {
	var schedule string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run incremental syncs on a schedule until interrupted",
		Long: `watch runs an incremental sync immediately and then on the configured
cron schedule (watch.schedule). A sync still running when the next one is
due causes that run to be skipped. Authentication failures stop the watch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if schedule == "" {
				schedule = a.cfg.Watch.Schedule
			}

			log := a.logger
			s, err := appsync.NewScheduler(schedule, func(ctx context.Context) (appsync.Result, error) {
				// A fresh session per run; idle IMAP connections get dropped
				// between scheduled runs.
				cfg, closeFn, err := a.incrementalConfig(ctx)
				if err != nil {
					return appsync.Result{}, err
				}
				defer closeFn()
				return appsync.Incremental(ctx, cfg)
			}, log.Named("scheduler"))
			if err != nil {
				return err
			}

			log.Info("watch starting", zap.String("schedule", schedule))
			return s.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule, overrides watch.schedule (e.g. \"@every 30m\")")
	return cmd
}
