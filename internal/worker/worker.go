package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/daimoniac/vigil/internal/catalog"
	"github.com/daimoniac/vigil/internal/errors"
	"github.com/daimoniac/vigil/internal/observability"
	"github.com/daimoniac/vigil/internal/policy"
	"github.com/daimoniac/vigil/internal/statestore"
	"github.com/daimoniac/vigil/internal/types"
)

// Worker defines the interface for evaluating the policy catalog
type Worker interface {
	// Start evaluates the catalog once, or on every interval until ctx is done
	Start(ctx context.Context) error

	// RunOnce loads the catalog and evaluates it
	RunOnce(ctx context.Context) (*Report, error)

	// Trigger requests a run before the next interval tick
	Trigger() bool
}

// Source provides the catalog to evaluate. It is loaded again for every run.
type Source interface {
	Load(ctx context.Context) (*catalog.Catalog, error)
}

// SourceFunc adapts a function to a Source
type SourceFunc func(ctx context.Context) (*catalog.Catalog, error)

// Load implements Source
func (f SourceFunc) Load(ctx context.Context) (*catalog.Catalog, error) {
	return f(ctx)
}

// FileSource loads the catalog from a YAML file
func FileSource(path string) Source {
	return SourceFunc(func(ctx context.Context) (*catalog.Catalog, error) {
		return catalog.Load(path)
	})
}

// Config contains configuration for the worker
type Config struct {
	Concurrency   int           // Components evaluated in parallel
	Interval      time.Duration // Zero evaluates once
	RetryAttempts int           // Catalog load attempts on transient errors
	RetryBackoff  time.Duration
	KeepRuns      int // Runs kept in the state store, zero keeps all
}

// DefaultConfig returns default worker configuration
func DefaultConfig() Config {
	return Config{
		Concurrency:   4,
		RetryAttempts: 3,
		RetryBackoff:  10 * time.Second,
		KeepRuns:      50,
	}
}

// CatalogWorker implements the Worker interface
type CatalogWorker struct {
	source     Source
	stateStore statestore.StateStore
	health     *observability.HealthChecker
	config     Config
	engineOpts []policy.Option
	logger     *slog.Logger
	trigger    chan struct{}
}

// NewCatalogWorker creates a new worker instance. stateStore and health may
// be nil. engineOpts are applied to the policy engine built for every run.
func NewCatalogWorker(
	source Source,
	stateStore statestore.StateStore,
	health *observability.HealthChecker,
	config Config,
	logger *slog.Logger,
	engineOpts ...policy.Option,
) *CatalogWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogWorker{
		source:     source,
		stateStore: stateStore,
		health:     health,
		config:     config,
		engineOpts: engineOpts,
		logger:     logger,
		trigger:    make(chan struct{}, 1),
	}
}

// Trigger requests an out-of-band run. It returns false when a run is
// already pending.
func (w *CatalogWorker) Trigger() bool {
	select {
	case w.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Start evaluates the catalog. With an interval configured it keeps
// evaluating until ctx is cancelled; failed runs are logged and retried on
// the next tick.
func (w *CatalogWorker) Start(ctx context.Context) error {
	if w.config.Interval <= 0 {
		_, err := w.RunOnce(ctx)
		return err
	}

	w.logger.Info("worker starting",
		"interval", w.config.Interval,
		"concurrency", w.config.Concurrency)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("evaluation run failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			return nil
		case <-ticker.C:
		case <-w.trigger:
			w.logger.Info("evaluation run triggered")
			ticker.Reset(w.config.Interval)
		}
	}
}

// RunOnce loads the catalog, evaluates every policy against every component
// and records the result.
func (w *CatalogWorker) RunOnce(ctx context.Context) (*Report, error) {
	metrics := observability.GetMetrics()
	metrics.RunsTotal.Inc()

	report, err := w.run(ctx)
	if err != nil {
		metrics.RunsFailed.Inc()
		w.updateHealth(observability.ComponentEvaluator, err)
		return nil, err
	}
	w.updateHealth(observability.ComponentEvaluator, nil)

	metrics.RunDuration.Observe(report.Duration().Seconds())
	metrics.LastRunPolicies.Set(float64(report.Policies))
	metrics.LastRunComponents.Set(float64(report.Components))

	if w.stateStore != nil {
		w.persist(ctx, report)
	}

	w.logSummary(report)
	if w.health != nil {
		w.health.RecordRun(report.FinishedAt, report.HasFailures())
	}

	return report, nil
}

func (w *CatalogWorker) run(ctx context.Context) (*Report, error) {
	cat, err := w.loadCatalog(ctx)
	if err != nil {
		observability.GetMetrics().CatalogLoadErrors.Inc()
		w.updateHealth(observability.ComponentCatalog, err)
		return nil, err
	}
	w.updateHealth(observability.ComponentCatalog, nil)

	for _, warning := range cat.Warnings {
		w.logger.Warn("unresolved catalog reference", "warning", warning)
	}

	registry, err := policy.DefaultRegistry(cat.Groups, w.logger)
	if err != nil {
		return nil, errors.NewPermanentf("failed to create evaluator registry: %w", err)
	}

	var diagnostics []policy.Diagnostic
	for i := range cat.Policies {
		for _, d := range policy.Lint(registry, &cat.Policies[i]) {
			w.logger.Warn("policy condition can never match",
				"policy", d.Policy,
				"code", string(d.Code),
				"message", d.Message)
			diagnostics = append(diagnostics, d)
		}
	}

	opts := append([]policy.Option{policy.WithMetrics(observability.GetMetrics())}, w.engineOpts...)
	engine := policy.NewEngine(registry, w.logger, opts...)

	report, err := NewEvaluator(engine, w.config.Concurrency, w.logger).Run(ctx, cat.Policies, cat.Components)
	if err != nil {
		return nil, err
	}
	report.Diagnostics = diagnostics
	report.Warnings = cat.Warnings
	return report, nil
}

// loadCatalog loads the catalog, retrying transient failures with linear backoff
func (w *CatalogWorker) loadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	if w.source == nil {
		return nil, errors.NewPermanentf("catalog source is not configured")
	}

	attempts := w.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		cat, err := w.source.Load(ctx)
		if err == nil {
			return cat, nil
		}
		lastErr = err

		if errors.IsPermanent(err) {
			w.logger.Error("catalog cannot be loaded, not retrying",
				"attempt", attempt,
				"error", err)
			return nil, err
		}
		if !errors.IsTransient(err) || attempt == attempts {
			return nil, err
		}

		backoff := w.config.RetryBackoff * time.Duration(attempt)
		w.logger.Warn("transient error loading catalog, retrying",
			"attempt", attempt,
			"max_attempts", attempts,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, errors.NewPermanentf("max retries exceeded: %w", lastErr)
}

// persist records the run. Failures are logged but do not fail the run.
func (w *CatalogWorker) persist(ctx context.Context, report *Report) {
	if err := w.stateStore.RecordRun(ctx, report.RunRecord()); err != nil {
		w.logger.Error("failed to persist evaluation run",
			"run_id", report.RunID.String(),
			"error", err)
		w.updateHealth(observability.ComponentStateStore, err)
		return
	}
	w.updateHealth(observability.ComponentStateStore, nil)

	if w.config.KeepRuns > 0 {
		if err := w.stateStore.CleanupExcessRuns(ctx, w.config.KeepRuns); err != nil {
			w.logger.Warn("failed to clean up old runs",
				"keep_runs", w.config.KeepRuns,
				"error", err)
		}
	}
}

func (w *CatalogWorker) updateHealth(component string, err error) {
	if w.health == nil {
		return
	}
	if err != nil {
		w.health.UpdateComponentHealth(component, observability.StatusUnhealthy, err.Error())
		return
	}
	w.health.UpdateComponentHealth(component, observability.StatusHealthy, "")
}

func (w *CatalogWorker) logSummary(report *Report) {
	w.logger.Info("evaluation run completed",
		"run_id", report.RunID.String(),
		"policies", report.Policies,
		"components", report.Components,
		"violations", len(report.Violations),
		"info", report.Count(types.ViolationStateInfo),
		"warn", report.Count(types.ViolationStateWarn),
		"fail", report.Count(types.ViolationStateFail),
		"diagnostics", len(report.Diagnostics),
		"duration", report.Duration())

	for i := range report.Violations {
		v := &report.Violations[i]
		if v.State != types.ViolationStateFail {
			continue
		}
		attrs := []any{
			"run_id", report.RunID.String(),
			"component", v.Component.Coordinates(),
			"policy", v.Policy.Name,
			"type", string(v.Type()),
		}
		if v.Condition != nil {
			attrs = append(attrs,
				"subject", string(v.Condition.Subject),
				"operator", string(v.Condition.Operator),
				"value", v.Condition.Value)
		}
		w.logger.Warn("policy violation", attrs...)
	}
}
