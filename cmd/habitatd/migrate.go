package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartcat/habitat-core/internal/infrastructure/config"
	"github.com/smartcat/habitat-core/internal/infrastructure/database"
	_ "github.com/smartcat/habitat-core/migrations" // registers the schema
)

// MigrateOptions holds flags for the migrate commands.
type MigrateOptions struct {
	*RootOptions
	Steps int
}

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), opts.RootOptions, func(ctx context.Context, db *database.DB) error {
				if err := db.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.Steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			return withDatabase(cmd.Context(), opts.RootOptions, func(ctx context.Context, db *database.DB) error {
				for i := 0; i < opts.Steps; i++ {
					if err := db.MigrateDown(ctx); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", opts.Steps)
				return nil
			})
		},
	}
	down.Flags().IntVar(&opts.Steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), opts.RootOptions, func(ctx context.Context, db *database.DB) error {
				applied, pending, err := db.GetMigrationStatus(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT")
				for _, m := range applied {
					fmt.Fprintf(tw, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.UTC().Format(time.RFC3339))
				}
				for _, m := range pending {
					fmt.Fprintf(tw, "%s\tpending\t-\n", m.Version)
				}
				return tw.Flush()
			})
		},
	})

	return cmd
}

// withDatabase loads the config, opens the database and runs fn.
func withDatabase(ctx context.Context, opts *RootOptions, fn func(context.Context, *database.DB) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // CLI exit path
	return fn(ctx, db)
}

func openDatabase(cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
