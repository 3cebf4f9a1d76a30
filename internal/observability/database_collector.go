package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/daimoniac/vigil/internal/statestore"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	dbCollectorOnce     sync.Once
	dbCollectorInstance *DatabaseCollector
)

// DatabaseCollector collects metrics from the state store on-demand when /metrics is scraped
type DatabaseCollector struct {
	store  statestore.StateStore
	logger *slog.Logger

	latestViolationsDesc *prometheus.Desc
	lastRunTimestampDesc *prometheus.Desc
	recordedRunsDesc     *prometheus.Desc
}

// NewDatabaseCollector creates a new state store metrics collector
func NewDatabaseCollector(store statestore.StateStore, logger *slog.Logger) *DatabaseCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatabaseCollector{
		store:  store,
		logger: logger,
		latestViolationsDesc: prometheus.NewDesc(
			"vigil_latest_run_violations",
			"Number of violations in the most recent recorded run by state and type",
			[]string{"state", "type"},
			nil,
		),
		lastRunTimestampDesc: prometheus.NewDesc(
			"vigil_last_run_timestamp_seconds",
			"Unix time at which the most recent recorded run finished",
			nil,
			nil,
		),
		recordedRunsDesc: prometheus.NewDesc(
			"vigil_recorded_runs",
			"Number of runs currently kept in the state store",
			nil,
			nil,
		),
	}
}

// RegisterDatabaseCollector registers the database collector exactly once
func RegisterDatabaseCollector(store statestore.StateStore, logger *slog.Logger) {
	dbCollectorOnce.Do(func() {
		dbCollectorInstance = NewDatabaseCollector(store, logger)
		prometheus.MustRegister(dbCollectorInstance)
		dbCollectorInstance.logger.Info("database metrics collector registered")
	})
}

// Describe sends the metric descriptors to the provided channel
func (c *DatabaseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.latestViolationsDesc
	ch <- c.lastRunTimestampDesc
	ch <- c.recordedRunsDesc
}

// Collect queries the state store and sends current metrics to the provided channel
func (c *DatabaseCollector) Collect(ch chan<- prometheus.Metric) {
	// Metrics must not block the /metrics endpoint during database contention.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	queryStore, ok := c.store.(statestore.StateStoreQuery)
	if !ok {
		c.logger.Warn("state store does not support queries, skipping database metrics")
		return
	}

	c.collectLatestViolations(ctx, queryStore, ch)
	c.collectRuns(ctx, queryStore, ch)
}

// collectLatestViolations collects violation counts of the most recent run
func (c *DatabaseCollector) collectLatestViolations(ctx context.Context, store statestore.StateStoreQuery, ch chan<- prometheus.Metric) {
	counts, err := store.CountLatestViolations(ctx)
	if err != nil {
		c.logCollectError(ctx, "latest violations", err)
		return
	}

	for state, byType := range counts {
		for violationType, count := range byType {
			ch <- prometheus.MustNewConstMetric(
				c.latestViolationsDesc,
				prometheus.GaugeValue,
				float64(count),
				state,
				violationType,
			)
		}
	}
}

// collectRuns collects the number of kept runs and the finish time of the newest one
func (c *DatabaseCollector) collectRuns(ctx context.Context, store statestore.StateStoreQuery, ch chan<- prometheus.Metric) {
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		c.logCollectError(ctx, "runs", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(
		c.recordedRunsDesc,
		prometheus.GaugeValue,
		float64(len(runs)),
	)

	if len(runs) == 0 {
		return
	}
	ch <- prometheus.MustNewConstMetric(
		c.lastRunTimestampDesc,
		prometheus.GaugeValue,
		float64(runs[0].FinishedAt.Unix()),
	)
}

func (c *DatabaseCollector) logCollectError(ctx context.Context, metric string, err error) {
	if ctx.Err() != nil {
		c.logger.Debug("metric collection timed out (likely database locked)",
			"metric", metric,
			"error", err)
		return
	}
	c.logger.Error("failed to collect database metric",
		"metric", metric,
		"error", err)
}
