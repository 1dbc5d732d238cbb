package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smartcat/habitat-core/internal/infrastructure/config"
)

// defaultConfigPath is used when neither --config nor HABITAT_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the habitatd command tree. Running it without a
// subcommand serves.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "habitatd",
		Short:         "Smart cat habitat backend",
		Long:          "habitatd ingests habitat readings, raises alerts, delivers push notifications and queues hardware commands.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $HABITAT_CONFIG or "+defaultConfigPath+")")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCommandsCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// configPath resolves the flag, then HABITAT_CONFIG, then the default.
func (o *RootOptions) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	if path := os.Getenv("HABITAT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}
