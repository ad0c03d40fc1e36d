// Package app assembles the coordinator and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/samber/do/v2"

	"classwatch/internal/config"
	"classwatch/internal/hub"
	"classwatch/internal/participant"
	"classwatch/internal/websocket"
	"classwatch/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config       *config.Config
	logger       *slog.Logger
	store        interfaces.Store
	participants *participant.Registry
	registry     *websocket.Registry
	hub          *hub.Hub
	wsHandler    *websocket.Handler
	handler      http.Handler
	httpServer   *http.Server
	listener     net.Listener
	serveErr     chan error
}

// NewApplication resolves the dependency graph. The store is opened and
// migrated here; nothing listens until Start.
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	injector := do.New()
	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, logger)
	RegisterDI(injector)

	store, err := do.Invoke[interfaces.Store](injector)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	handler, err := do.Invoke[http.Handler](injector)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	app := &Application{
		config:       cfg,
		logger:       logger.With("component", "app"),
		store:        store,
		participants: do.MustInvoke[*participant.Registry](injector),
		registry:     do.MustInvoke[*websocket.Registry](injector),
		hub:          do.MustInvoke[*hub.Hub](injector),
		wsHandler:    do.MustInvoke[*websocket.Handler](injector),
		handler:      handler,
	}
	app.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

// Handler is the root HTTP handler (API, /ws, /health, /metrics)
func (app *Application) Handler() http.Handler {
	return app.handler
}

// Prepare runs the startup work that must precede traffic: stale
// participant rows are closed and the hub's background loop starts.
func (app *Application) Prepare(ctx context.Context) error {
	if _, err := app.participants.Reconcile(ctx); err != nil {
		return fmt.Errorf("failed to reconcile participants: %w", err)
	}
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	return nil
}

// Start prepares the components and begins serving
func (app *Application) Start(ctx context.Context) error {
	if err := app.Prepare(ctx); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener
	app.serveErr = make(chan error, 1)

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.serveErr)
	}()

	app.logger.Info("classwatch started", "addr", listener.Addr().String(), "driver", app.config.Database.Driver)
	return nil
}

// Err reports a fatal serve error; the channel closes when serving stops
func (app *Application) Err() <-chan error {
	return app.serveErr
}

// Addr returns the bound address once started, else the configured one
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Stop shuts down in reverse dependency order: HTTP, live connections, hub, store.
// FUNCTIONAL DISCOVERY: http.Server.Shutdown does not touch hijacked
// connections, so every websocket is closed explicitly and its leave runs
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")
	var errs []error

	if app.listener != nil {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}

	for _, conn := range app.registry.Connections() {
		_ = conn.Close()
	}
	if err := app.wsHandler.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for connections: %w", err))
	}

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}

	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store shutdown: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		app.logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	app.logger.Info("shutdown complete")
	return nil
}
