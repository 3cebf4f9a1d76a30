package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/daimoniac/vigil/internal/api"
	"github.com/daimoniac/vigil/internal/config"
	"github.com/daimoniac/vigil/internal/observability"
	"github.com/daimoniac/vigil/internal/policy"
	"github.com/daimoniac/vigil/internal/statestore"
	"github.com/daimoniac/vigil/internal/types"
	"github.com/daimoniac/vigil/internal/watcher"
	"github.com/daimoniac/vigil/internal/worker"
	"github.com/joho/godotenv"
)

// errPolicyFailed is returned by a single run that produced FAIL violations
var errPolicyFailed = errors.New("policy violations in FAIL state")

func main() {
	err := run()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if errors.Is(err, errPolicyFailed) {
		os.Exit(2)
	}
	os.Exit(1)
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel)
	logger.Info("starting vigil",
		"catalog_path", cfg.CatalogPath,
		"interval", cfg.Worker.Interval,
		"log_level", cfg.Observability.LogLevel)

	_ = observability.GetMetrics()

	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.RegisterComponent(observability.ComponentCatalog)
	healthChecker.RegisterComponent(observability.ComponentEvaluator)

	var store statestore.StateStore
	if cfg.StateStore.Type == "sqlite" {
		logger.Debug("initializing state store",
			"path", cfg.StateStore.SQLitePath)
		sqliteStore, err := statestore.NewSQLiteStore(cfg.StateStore.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		store = sqliteStore
		healthChecker.RegisterComponent(observability.ComponentStateStore)
		healthChecker.UpdateComponentHealth(observability.ComponentStateStore, observability.StatusHealthy, "")
		defer closeStore(store, logger)
	}

	workerConfig := worker.Config{
		Concurrency:   cfg.Worker.Concurrency,
		Interval:      cfg.Worker.Interval,
		RetryAttempts: cfg.Worker.RetryAttempts,
		RetryBackoff:  cfg.Worker.RetryBackoff,
		KeepRuns:      cfg.Worker.KeepRuns,
	}
	catalogWorker := worker.NewCatalogWorker(
		worker.FileSource(cfg.CatalogPath),
		store,
		healthChecker,
		workerConfig,
		logger,
		policy.WithEmptyPolicyMode(policy.EmptyPolicyMode(cfg.Engine.EmptyPolicyMode)),
	)

	if !cfg.Daemon() {
		return runOnce(ctx, cfg, catalogWorker)
	}

	return runDaemon(ctx, cancel, cfg, catalogWorker, store, healthChecker, logger)
}

// runOnce evaluates the catalog a single time
func runOnce(ctx context.Context, cfg *config.Config, w *worker.CatalogWorker) error {
	report, err := w.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	if cfg.FailOnViolation && report.HasFailures() {
		return fmt.Errorf("%w: %d violations", errPolicyFailed, report.Count(types.ViolationStateFail))
	}
	return nil
}

// runDaemon evaluates the catalog on every interval and serves metrics,
// health and the API until signalled
func runDaemon(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg *config.Config,
	w *worker.CatalogWorker,
	store statestore.StateStore,
	healthChecker *observability.HealthChecker,
	logger *slog.Logger,
) error {
	if store != nil {
		observability.RegisterDatabaseCollector(store, logger)
		go healthChecker.StartPeriodicChecks(ctx, 30*time.Second, map[string]observability.HealthCheckFunc{
			observability.ComponentStateStore: func(ctx context.Context) error {
				_, err := store.ListRuns(ctx, 1)
				return err
			},
		})
	}

	obsServer := observability.NewServer(
		cfg.Observability.MetricsPort,
		cfg.Observability.HealthCheckPort,
		logger,
		healthChecker,
	)

	var apiServer *api.APIServer
	if cfg.API.Enabled && store != nil {
		logger.Debug("initializing API server",
			"port", cfg.API.Port,
			"read_only", cfg.API.ReadOnly)
		apiServer = api.NewAPIServer(&cfg.API, store, w, logger)
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := obsServer.Start(ctx); err != nil {
			errChan <- fmt.Errorf("observability server error: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("starting worker")
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker error",
				"error", err.Error())
			errChan <- fmt.Errorf("worker error: %w", err)
		}
		logger.Debug("worker stopped")
	}()

	if cfg.Watcher.PollInterval > 0 {
		catalogWatcher := watcher.NewWatcher(cfg.CatalogPath, w, watcher.Config{
			PollInterval: cfg.Watcher.PollInterval,
		}, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := catalogWatcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("catalog watcher error: %w", err)
			}
		}()
	}

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("API server error",
					"error", err.Error())
				errChan <- fmt.Errorf("API server error: %w", err)
			}
		}()
	}

	logger.Info("all components started successfully")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-errChan:
		logger.Error("component error, initiating shutdown",
			"error", runErr.Error())
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	return runErr
}

func closeStore(store statestore.StateStore, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("error closing state store",
			"error", err.Error())
	}
}
