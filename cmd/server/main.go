// Command server runs the fieldguide admission API: it accepts research
// requests, serves completed research and exposes windowed metrics. Jobs are
// processed separately by the worker binary against the same stores.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rezkam/fieldguide/internal/config"
	"github.com/rezkam/fieldguide/internal/httpapi"
	"github.com/rezkam/fieldguide/internal/observer"
	"github.com/rezkam/fieldguide/internal/queue"
	"github.com/rezkam/fieldguide/internal/storage/kv"
	"github.com/rezkam/fieldguide/internal/storage/kv/postgres"
	"github.com/rezkam/fieldguide/internal/storage/kv/sqlite"
	"github.com/rezkam/fieldguide/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		// slog may not be initialized if config loading fails.
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Root context for all normal operations, cancelled on SIGTERM/SIGINT.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	providers, err := observability.Init(ctx, cfg.Observability.ServiceName, cfg.Observability.OTelEnabled)
	if err != nil {
		return fmt.Errorf("failed to init observability: %w", err)
	}
	defer func() {
		// Bounded so an unreachable collector cannot hang process exit.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown telemetry providers", "error", err)
		}
	}()
	slog.SetDefault(providers.Logger)

	slog.InfoContext(ctx, "starting fieldguide server", "port", cfg.HTTP.Port, "store_driver", cfg.Store.Driver)

	queueStore, observerStore, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.CloseAll(); err != nil {
			slog.Error("failed to close stores", "error", err)
		}
	}()

	switch cfg.Store.Driver {
	case "postgres":
		slog.InfoContext(ctx, "storage initialized", "driver", cfg.Store.Driver, "url", maskPassword(cfg.Store.PostgresURL))
	default:
		slog.InfoContext(ctx, "storage initialized", "driver", cfg.Store.Driver,
			"queue_db", cfg.Store.QueueDBPath, "observer_db", cfg.Store.ObserverDBPath)
	}

	obs := observer.New(observerStore,
		observer.WithPadWidth(cfg.Store.TimestampPadLength),
		observer.WithAlertPolicy(cfg.Observer.DefaultMetricsWindowMs, cfg.Observer.FailureRateThreshold),
	)

	q := queue.New(queueStore,
		queue.WithPadWidth(cfg.Store.TimestampPadLength),
		queue.WithRecorder(obs),
	)

	serverCfg := httpapi.ServerConfig{
		Host:              cfg.HTTP.Host,
		Port:              cfg.HTTP.Port,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
		MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
	}

	handler := httpapi.NewHandler(q, obs, slog.Default())
	router := httpapi.NewRouter(handler, obs, serverCfg)

	// otelhttp creates a span per incoming request and propagates trace
	// context; a no-op when telemetry is disabled.
	srv := httpapi.NewAPIServer(otelhttp.NewHandler(router, "fieldguide-api"), serverCfg)

	errResult := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errResult <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")

		// Fresh context: the main one is already cancelled, but outstanding
		// requests still get a drain window.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "HTTP server shutdown timed out", "error", err)
		} else {
			slog.InfoContext(shutdownCtx, "HTTP server shutdown complete")
		}
		return nil
	case err := <-errResult:
		return err
	}
}

// openStores opens the queue and observer stores for the configured driver.
// Handles are cached per path, so under postgres both logical stores share
// one connection pool.
func openStores(ctx context.Context, cfg config.StoreConfig) (queueStore, observerStore kv.Store, err error) {
	switch cfg.Driver {
	case "sqlite":
		queueStore, err = kv.Acquire(cfg.QueueDBPath, func() (kv.Store, error) {
			return sqlite.Open(cfg.QueueDBPath)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open queue store: %w", err)
		}
		observerStore, err = kv.Acquire(cfg.ObserverDBPath, func() (kv.Store, error) {
			return sqlite.Open(cfg.ObserverDBPath)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open observer store: %w", err)
		}
		return queueStore, observerStore, nil

	case "postgres":
		store, err := kv.Acquire(cfg.PostgresURL, func() (kv.Store, error) {
			return postgres.Open(ctx, postgres.Config{DSN: cfg.PostgresURL})
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, store, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER: %s", cfg.Driver)
	}
}

// maskPassword masks the password in a connection string for logging.
func maskPassword(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil {
		return "[REDACTED]"
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxxx")
		}
	}
	return u.String()
}
