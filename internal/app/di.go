package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do/v2"

	"classwatch/internal/api"
	"classwatch/internal/auth"
	"classwatch/internal/config"
	"classwatch/internal/database"
	"classwatch/internal/database/memory"
	"classwatch/internal/database/postgres"
	"classwatch/internal/hub"
	"classwatch/internal/lifecycle"
	"classwatch/internal/metrics"
	"classwatch/internal/participant"
	"classwatch/internal/router"
	"classwatch/internal/session"
	"classwatch/internal/websocket"
	"classwatch/pkg/interfaces"
)

// RegisterDI provides every component. *config.Config and *slog.Logger
// must already be in the injector.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*prometheus.Registry, error) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return reg, nil
	})

	do.Provide(injector, func(i do.Injector) (*metrics.Metrics, error) {
		return metrics.New(do.MustInvoke[*prometheus.Registry](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (interfaces.Store, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return OpenStore(cfg, logger)
	})

	do.Provide(injector, func(i do.Injector) (*session.Registry, error) {
		return session.NewRegistry(
			do.MustInvoke[interfaces.Store](i),
			session.WithLogger(do.MustInvoke[*slog.Logger](i)),
			session.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*participant.Registry, error) {
		return participant.NewRegistry(do.MustInvoke[interfaces.Store](i), do.MustInvoke[*slog.Logger](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (*websocket.Registry, error) {
		return websocket.NewRegistry(do.MustInvoke[*metrics.Metrics](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (*router.Router, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return router.NewRouter(
			do.MustInvoke[*websocket.Registry](i),
			router.WithSameRoomCheck(cfg.Signaling.RequireSameRoom),
			router.WithLogger(do.MustInvoke[*slog.Logger](i)),
			router.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*lifecycle.Manager, error) {
		return lifecycle.NewManager(
			do.MustInvoke[*session.Registry](i),
			do.MustInvoke[*participant.Registry](i),
			do.MustInvoke[*websocket.Registry](i),
			lifecycle.WithLogger(do.MustInvoke[*slog.Logger](i)),
			lifecycle.WithMetrics(do.MustInvoke[*metrics.Metrics](i)),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*hub.Hub, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return hub.NewHub(
			do.MustInvoke[*lifecycle.Manager](i),
			do.MustInvoke[*router.Router](i),
			hub.NewRateLimiter(cfg.RateLimit.EventsPerMinute),
			do.MustInvoke[*slog.Logger](i),
		), nil
	})

	do.Provide(injector, func(i do.Injector) (*websocket.Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return websocket.NewHandler(do.MustInvoke[*hub.Hub](i), cfg.WebSocket, do.MustInvoke[*slog.Logger](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (interfaces.IdentityProvider, error) {
		provider, err := auth.NewJWTProvider(do.MustInvoke[*config.Config](i).Auth)
		if err != nil {
			return nil, err
		}
		return provider, nil
	})

	do.Provide(injector, func(i do.Injector) (*api.Server, error) {
		identity, err := do.Invoke[interfaces.IdentityProvider](i)
		if err != nil {
			return nil, err
		}
		store := do.MustInvoke[interfaces.Store](i)
		return api.NewServer(api.Dependencies{
			Sessions:     do.MustInvoke[*session.Registry](i),
			Participants: do.MustInvoke[*participant.Registry](i),
			Identity:     identity,
			Health:       store,
			Stats:        do.MustInvoke[*websocket.Registry](i),
			Metrics:      promhttp.HandlerFor(do.MustInvoke[*prometheus.Registry](i), promhttp.HandlerOpts{}),
			WebSocket:    do.MustInvoke[*websocket.Handler](i),
		}, do.MustInvoke[*slog.Logger](i)), nil
	})

	do.Provide(injector, func(i do.Injector) (http.Handler, error) {
		server, err := do.Invoke[*api.Server](i)
		if err != nil {
			return nil, err
		}
		return server, nil
	})
}

// OpenStore opens the configured store and brings its schema up to date
func OpenStore(cfg *config.Config, logger *slog.Logger) (interfaces.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	defer cancel()

	switch cfg.Database.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Database.Path); dir != "." && !strings.HasPrefix(cfg.Database.Path, ":memory:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		manager, err := database.NewManager(cfg.SQLite(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		if _, err := manager.Migrate(ctx); err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
		return manager, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
