package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"classwatch/internal/app"
	"classwatch/internal/config"
)

const programName = "classwatch"

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "devel"

type configKey struct{}

type globalFlags struct {
	debug      bool
	configFile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		// cobra has already printed the error
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Session and WebRTC signaling coordinator for classroom screen monitoring",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd)
		},
	}

	rootCmd.PersistentFlags().
		BoolVarP(&flags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&flags.configFile, "config", "", "path to YAML config file")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags.configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if flags.debug {
			cfg.Log.Level = "debug"
		}
		cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(tokenCommand())
	rootCmd.AddCommand(versionCommand())
	return rootCmd
}

func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return config.DefaultConfig()
}

// commonRun builds the process logger; logs go to stderr so command output stays clean
func commonRun(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	logger := app.NewLogger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return logger
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", programName, version)
		},
	}
}
