package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"classwatch/internal/app"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and WebSocket signaling server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd)
		},
	}
}

// serveRun blocks until SIGINT/SIGTERM or a fatal serve error, then shuts
// down within the configured timeout
func serveRun(cmd *cobra.Command) error {
	cfg := configFrom(cmd)
	logger := commonRun(cmd, cfg)

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		logger.Info(fmt.Sprintf(format, v...), "component", programName)
	}))
	if err != nil {
		return fmt.Errorf("failed to set GOMAXPROCS: %w", err)
	}
	defer undo()

	logger.Info("version: "+version, "component", programName)

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return errors.Join(err, application.Stop(context.Background()))
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal", "component", programName)
	case err := <-application.Err():
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", "component", programName, "error", err)
		return errors.Join(runErr, err)
	}
	return runErr
}
