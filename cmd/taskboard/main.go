// Command taskboard runs the task board sync service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"taskboard-sync-backend/pkg/config"
	"taskboard-sync-backend/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries what every subcommand needs once PersistentPreRunE has run.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "taskboard",
		Short:         "Collaborative task board backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.cfg = config.GetCached()
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			a.logger = logger.New(logger.Options{
				Level:      a.cfg.LogLevel,
				Production: a.cfg.IsProduction(),
			})
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newServeCmd(a), newMigrateCmd(a), newTokenCmd(a))
	return cmd
}
