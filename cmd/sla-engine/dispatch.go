package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/sla-engine/internal/mailer"
	"github.com/spec-kit/sla-engine/internal/outbox"
	"github.com/spec-kit/sla-engine/internal/worker"
)

func dispatchCmd() *cobra.Command {
	var (
		workers int
		once    bool
	)
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Deliver pending outbox messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			m, err := mailer.New(rt.cfg.Mailer, rt.logger)
			if err != nil {
				return fmt.Errorf("init mailer: %w", err)
			}
			renderer, err := outbox.NewRenderer(nil)
			if err != nil {
				return err
			}

			dc := rt.cfg.Dispatcher
			if workers > 0 {
				dc.Workers = workers
			}
			dispatcher := worker.NewOutboxDispatcher(worker.DispatcherDependencies{
				UnitOfWork: rt.uow,
				Outbox:     rt.outbox,
				Directory:  rt.directory,
				Renderer:   renderer,
				Mailer:     m,
				Metrics:    rt.metrics,
				Logger:     rt.logger,
				Config: worker.DispatcherConfig{
					Workers:       dc.Workers,
					BatchSize:     dc.BatchSize,
					IdleInterval:  dc.IdleInterval(),
					BatchTimeout:  dc.BatchTimeout(),
					SendTimeout:   rt.cfg.Mailer.Timeout(),
					MaxAttempts:   dc.MaxAttempts,
					BackoffBase:   dc.BackoffBase(),
					BackoffMax:    dc.BackoffMax(),
					RatePerSecond: rt.cfg.Mailer.RatePerSecond,
					Burst:         rt.cfg.Mailer.Burst,
				},
			})

			if once {
				_, err := dispatcher.DispatchBatch(ctx)
				return err
			}

			rt.serveOps(ctx)
			return dispatcher.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent workers (defaults to DISPATCH_WORKERS)")
	cmd.Flags().BoolVar(&once, "once", false, "dispatch a single batch and exit")
	return cmd
}
