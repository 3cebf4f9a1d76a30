package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ComponentStatus represents the health status of a component
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusUnhealthy ComponentStatus = "unhealthy"
	StatusUnknown   ComponentStatus = "unknown"
)

// Components reported by the evaluation worker
const (
	ComponentCatalog    = "catalog"
	ComponentEvaluator  = "evaluator"
	ComponentStateStore = "statestore"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LastCheck time.Time       `json:"last_check"`
}

// RunStatus describes the most recent completed evaluation run
type RunStatus struct {
	FinishedAt  time.Time `json:"finished_at"`
	HasFailures bool      `json:"has_failures"`
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	LastRun    *RunStatus                 `json:"last_run,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	lastRun    *RunStatus
	logger     *slog.Logger
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		logger:     logger,
	}
}

// RegisterComponent registers a component for health checking
func (h *HealthChecker) RegisterComponent(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ComponentHealth{
		Status:    StatusUnknown,
		LastCheck: time.Now(),
	}
}

// UpdateComponentHealth updates the health status of a component
func (h *HealthChecker) UpdateComponentHealth(name string, status ComponentStatus, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// RecordRun marks an evaluation run as completed. The service reports ready
// only after the first run.
func (h *HealthChecker) RecordRun(finishedAt time.Time, hasFailures bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastRun = &RunStatus{
		FinishedAt:  finishedAt,
		HasFailures: hasFailures,
	}
}

// GetHealth returns the current health status
func (h *HealthChecker) GetHealth() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(h.components))
	overallHealthy := true

	for name, health := range h.components {
		components[name] = health
		if health.Status != StatusHealthy {
			overallHealthy = false
		}
	}

	status := StatusHealthy
	if !overallHealthy {
		status = StatusUnhealthy
	}

	var lastRun *RunStatus
	if h.lastRun != nil {
		run := *h.lastRun
		lastRun = &run
	}

	return HealthStatus{
		Status:     status,
		Components: components,
		LastRun:    lastRun,
		Timestamp:  time.Now(),
	}
}

// IsReady reports whether all components are healthy and a run has completed
func (h *HealthChecker) IsReady() bool {
	health := h.GetHealth()
	return health.Status == StatusHealthy && health.LastRun != nil
}

// HealthCheckFunc is a function that checks the health of a component
type HealthCheckFunc func(ctx context.Context) error

// CheckComponent runs a health check function and updates the component status
func (h *HealthChecker) CheckComponent(ctx context.Context, name string, checkFunc HealthCheckFunc) {
	err := checkFunc(ctx)
	if err != nil {
		h.UpdateComponentHealth(name, StatusUnhealthy, err.Error())
		h.logger.Warn("component health check failed",
			"component", name,
			"error", err.Error())
	} else {
		h.UpdateComponentHealth(name, StatusHealthy, "")
	}
}

// StartPeriodicChecks starts periodic health checks for registered components
func (h *HealthChecker) StartPeriodicChecks(ctx context.Context, interval time.Duration, checks map[string]HealthCheckFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for name, checkFunc := range checks {
		h.CheckComponent(ctx, name, checkFunc)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, checkFunc := range checks {
				h.CheckComponent(ctx, name, checkFunc)
			}
		}
	}
}

// HealthHandler returns an HTTP handler for the health endpoint
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == StatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		if err := json.NewEncoder(w).Encode(health); err != nil {
			h.logger.Error("failed to encode health response",
				"error", err.Error())
		}
	}
}

// ReadyHandler returns an HTTP handler for the readiness endpoint
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if h.IsReady() {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ready"}`)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"not_ready"}`)
		}
	}
}
