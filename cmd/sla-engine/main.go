// Command sla-engine runs the SLA timer sweep and the notification outbox
// dispatcher.
//
// Usage:
//
//	sla-engine migrate
//	sla-engine sweep [--schedule "@every 1m"]
//	sla-engine dispatch [--workers 4]
//	sla-engine publish --file events.jsonl
//	sla-engine status <ticket-id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "sla-engine",
		Short:         "SLA timers and notification outbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(dispatchCmd())
	root.AddCommand(publishCmd())
	root.AddCommand(statusCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}
