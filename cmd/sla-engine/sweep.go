package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/service"
	"github.com/spec-kit/sla-engine/internal/worker"
)

func sweepCmd() *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Enqueue SLA reminders and breaches",
		Long:  "Runs a single threshold sweep, or sweeps on a cron schedule when --schedule is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			watcher := service.NewThresholdWatcher(service.WatcherDependencies{
				UnitOfWork:   rt.uow,
				StatusRepo:   rt.statuses,
				PolicyRepo:   rt.policies,
				CalendarRepo: rt.calendars,
				Directory:    rt.directory,
				Writer:       rt.writer,
				Metrics:      rt.metrics,
				Logger:       rt.logger,
				BatchSize:    rt.cfg.Sweep.BatchSize,
			})

			var leases worker.LeaseAcquirer
			if rt.redis != nil {
				leases = worker.RedisLeases{Redis: rt.redis}
			}
			if cmd.Flags().Changed("schedule") && schedule == "" {
				schedule = rt.cfg.Sweep.Schedule
			}
			runner := worker.NewSweepRunner(watcher, leases, worker.SweepRunnerConfig{
				Schedule: schedule,
				LeaseKey: rt.cfg.Sweep.LeaseKey,
				LeaseTTL: rt.cfg.Sweep.LeaseTTL(),
			}, rt.logger)

			if schedule == "" {
				_, skipped, err := runner.RunOnce(ctx)
				if skipped {
					rt.logger.Info("sweep skipped; another instance holds the lease")
				}
				return err
			}

			rt.serveOps(ctx)
			rt.logger.Info("sweeping on schedule", zap.String("schedule", schedule))
			return runner.RunScheduled(ctx)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", `cron schedule, e.g. "@every 1m"; an empty value uses SWEEP_SCHEDULE`)
	return cmd
}
