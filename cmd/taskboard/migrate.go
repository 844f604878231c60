package main

import (
	"errors"

	"taskboard-sync-backend/pkg/database"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL schema migrations",
		Long: `Apply the embedded PostgreSQL schema migrations to POSTGRES_DSN.

Examples:
  taskboard migrate              # migrate to the latest version
  taskboard migrate --steps -1   # roll back one migration`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.PostgresDSN == "" {
				return errors.New("POSTGRES_DSN is required to migrate")
			}
			return database.Migrate(cmd.Context(), a.cfg.PostgresDSN, steps)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (negative rolls back; 0 applies all)")
	return cmd
}
