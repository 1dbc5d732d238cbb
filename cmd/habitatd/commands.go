package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartcat/habitat-core/internal/command"
	"github.com/smartcat/habitat-core/internal/infrastructure/database"
)

// NewCommandsCommand creates the hardware command queue maintenance group.
func NewCommandsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Maintain the hardware command queue",
	}

	var timeout time.Duration
	reset := &cobra.Command{
		Use:   "reset-stale",
		Short: "Return claims older than --timeout to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if timeout <= 0 {
				return fmt.Errorf("--timeout must be positive")
			}
			return withDatabase(cmd.Context(), rootOpts, func(ctx context.Context, db *database.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				n, err := command.NewQueue(db.DB, 1).ResetStale(ctx, timeout)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d stale command(s)\n", n)
				return nil
			})
		},
	}
	reset.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "claim age after which a command is stale")
	cmd.AddCommand(reset)

	return cmd
}
