package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"classwatch/internal/app"
	"classwatch/internal/config"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger := commonRun(cmd, cfg)

			// OpenStore migrates every SQL driver before returning
			store, err := app.OpenStore(cfg, logger)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}

			if cfg.Database.Driver == config.DriverMemory {
				fmt.Fprintln(cmd.OutOrStdout(), "memory driver has no schema")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", cfg.Database.Driver)
			return nil
		},
	}
}
