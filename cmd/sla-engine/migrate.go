package main

import (
	"github.com/spf13/cobra"

	"github.com/spec-kit/sla-engine/internal/persistence"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			// Already applied while opening the runtime.
			if rt.cfg.Postgres.RunMigrations {
				return nil
			}
			return persistence.RunMigrations(cmd.Context(), rt.pg.PoolHandle(), rt.logger)
		},
	}
}
