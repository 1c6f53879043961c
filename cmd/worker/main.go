// Command worker runs the fieldguide research fleet: polling workers that
// claim queued jobs, look the subject up on Wikipedia and write the result
// back, retrying failures with exponential backoff.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rezkam/fieldguide/internal/archive"
	archivefs "github.com/rezkam/fieldguide/internal/archive/fs"
	archivegcs "github.com/rezkam/fieldguide/internal/archive/gcs"
	"github.com/rezkam/fieldguide/internal/config"
	"github.com/rezkam/fieldguide/internal/observer"
	"github.com/rezkam/fieldguide/internal/queue"
	"github.com/rezkam/fieldguide/internal/research"
	"github.com/rezkam/fieldguide/internal/storage/kv"
	"github.com/rezkam/fieldguide/internal/storage/kv/postgres"
	"github.com/rezkam/fieldguide/internal/storage/kv/sqlite"
	"github.com/rezkam/fieldguide/internal/worker"
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
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Root context for all normal operations, cancelled on SIGTERM/SIGINT.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	providers, err := observability.Init(ctx, cfg.Observability.ServiceName+"-worker", cfg.Observability.OTelEnabled)
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

	queueStore, observerStore, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.CloseAll(); err != nil {
			slog.Error("failed to close stores", "error", err)
		}
	}()

	obs := observer.New(observerStore,
		observer.WithPadWidth(cfg.Store.TimestampPadLength),
		observer.WithAlertPolicy(cfg.Observer.DefaultMetricsWindowMs, cfg.Observer.FailureRateThreshold),
	)

	q := queue.New(queueStore,
		queue.WithPadWidth(cfg.Store.TimestampPadLength),
		queue.WithRecorder(obs),
	)

	researcher := research.New(
		research.WithBaseURL(cfg.Research.WikipediaBaseURL),
		research.WithTimeout(cfg.Research.Timeout),
	)

	sink, closeSink, err := newArchiveSink(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	if closeSink != nil {
		defer closeSink()
	}

	slog.InfoContext(ctx, "starting worker fleet",
		"concurrency", cfg.Concurrency,
		"poll_interval", cfg.PollInterval().String(),
		"max_retries", cfg.MaxRetries,
		"store_driver", cfg.Store.Driver,
		"archive_type", cfg.Archive.Type,
	)

	opts := []worker.Option{
		worker.WithRecorder(obs),
		worker.WithPollInterval(cfg.PollInterval()),
		worker.WithRetryPolicy(worker.RetryPolicy{
			BaseDelay:  cfg.BaseDelay(),
			MaxRetries: cfg.MaxRetries,
		}),
	}
	if sink != nil {
		opts = append(opts, worker.WithArchiver(sink))
	}

	g, gctx := errgroup.WithContext(ctx)
	for range cfg.Concurrency {
		w := worker.New(q, researcher, opts...)
		g.Go(func() error {
			return w.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker fleet failed: %w", err)
	}

	slog.Info("worker fleet stopped")
	return nil
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

// newArchiveSink builds the configured archive sink. A nil sink means
// archiving is disabled. The returned cleanup releases sink resources.
func newArchiveSink(ctx context.Context, cfg config.ArchiveConfig) (archive.Sink, func(), error) {
	switch cfg.Type {
	case "":
		return nil, nil, nil
	case "fs":
		sink, err := archivefs.New(cfg.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create fs archive sink: %w", err)
		}
		return sink, nil, nil
	case "gcs":
		sink, err := archivegcs.New(ctx, cfg.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gcs archive sink: %w", err)
		}
		cleanup := func() {
			if err := sink.Close(); err != nil {
				slog.Error("failed to close gcs archive sink", "error", err)
			}
		}
		return sink, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown ARCHIVE_TYPE: %s", cfg.Type)
	}
}
