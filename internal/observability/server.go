package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/daimoniac/vigil/internal/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for metrics and health checks
type Server struct {
	metricsServer *http.Server
	healthServer  *http.Server
	logger        *slog.Logger
	healthChecker *HealthChecker
}

// NewServer creates a new observability server. Metrics and health share a
// listener when both ports are equal.
func NewServer(metricsPort, healthPort int, logger *slog.Logger, healthChecker *HealthChecker) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", metricsPort),
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", healthChecker.HealthHandler())
	healthMux.HandleFunc("/ready", healthChecker.ReadyHandler())

	if metricsPort == healthPort {
		metricsMux.HandleFunc("/health", healthChecker.HealthHandler())
		metricsMux.HandleFunc("/ready", healthChecker.ReadyHandler())
		metricsServer.Handler = metricsMux
		return &Server{
			metricsServer: metricsServer,
			logger:        logger,
			healthChecker: healthChecker,
		}
	}

	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", healthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return &Server{
		metricsServer: metricsServer,
		healthServer:  healthServer,
		logger:        logger,
		healthChecker: healthChecker,
	}
}

// servers returns the listeners to run
func (s *Server) servers() map[string]*http.Server {
	servers := map[string]*http.Server{"metrics": s.metricsServer}
	if s.healthServer != nil {
		servers["health"] = s.healthServer
	}
	return servers
}

// Start starts the observability servers and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	for name, srv := range s.servers() {
		name, srv := name, srv
		go func() {
			s.logger.Info("starting observability server",
				"server", name,
				"addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("observability server error",
					"server", name,
					"error", err.Error())
			}
		}()
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("observability server shutdown error",
			"error", err.Error())
	}

	return nil
}

// Shutdown gracefully shuts down the observability servers
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down observability servers")

	for name, srv := range s.servers() {
		if err := srv.Shutdown(ctx); err != nil {
			return errors.NewTransientf("%s server shutdown: %w", name, err)
		}
	}

	return nil
}
