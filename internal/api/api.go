package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/daimoniac/vigil/internal/config"
	"github.com/daimoniac/vigil/internal/statestore"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/daimoniac/vigil/build/swagger" // Import generated docs
)

// @title vigil API
// @version 1.0
// @description REST API for querying policy evaluation runs and violations.
// @description
// @description ## Features
// @description - List evaluation runs and inspect the latest one
// @description - Search policy condition violations
// @description - Trigger an evaluation run

// @contact.name vigil
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter your API key (with or without "Bearer " prefix)

// Trigger requests an evaluation run outside the regular interval
type Trigger interface {
	Trigger() bool
}

// APIServer provides HTTP API for querying evaluation results and triggering runs
type APIServer struct {
	config     *config.APIConfig
	stateStore statestore.StateStore
	trigger    Trigger
	router     *http.ServeMux
	server     *http.Server
	logger     *slog.Logger
}

// NewAPIServer creates a new API server instance. trigger may be nil, in
// which case run triggers are rejected.
func NewAPIServer(cfg *config.APIConfig, store statestore.StateStore, trigger Trigger, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	api := &APIServer{
		config:     cfg,
		stateStore: store,
		trigger:    trigger,
		router:     http.NewServeMux(),
		logger:     logger,
	}

	api.setupRoutes()

	api.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return api
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Query endpoints (GET)
	s.router.HandleFunc("/api/v1/runs", s.corsMiddleware(s.authMiddleware(s.handleListRuns, false)))
	s.router.HandleFunc("/api/v1/runs/latest", s.corsMiddleware(s.authMiddleware(s.handleGetLatestRun, false)))
	s.router.HandleFunc("/api/v1/violations", s.corsMiddleware(s.authMiddleware(s.handleListViolations, false)))

	// Action endpoints (POST)
	s.router.HandleFunc("/api/v1/runs/trigger", s.corsMiddleware(s.authMiddleware(s.handleTriggerRun, true)))

	s.router.HandleFunc("/health", s.corsMiddleware(s.handleHealth))

	// Swagger documentation
	s.router.HandleFunc("/swagger/", httpSwagger.WrapHandler)

	s.router.HandleFunc("/", s.handleRootRedirect)
}

// Handler returns the API router
func (s *APIServer) Handler() http.Handler {
	return s.router
}

// corsMiddleware adds CORS headers to allow cross-origin requests
func (s *APIServer) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// authMiddleware provides optional API key authentication
// requireWrite indicates if this is a write operation that should be blocked in read-only mode
func (s *APIServer) authMiddleware(next http.HandlerFunc, requireWrite bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if requireWrite && s.config.ReadOnly {
			s.respondError(w, http.StatusForbidden, "API is in read-only mode")
			return
		}

		if s.config.APIKey != "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				s.respondError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			// Accept both "Bearer <token>" and just "<token>"
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token != s.config.APIKey {
				s.respondError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}
		}

		next(w, r)
	}
}

// Start starts the API server
func (s *APIServer) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("API server is disabled")
		return nil
	}

	s.logger.Info("starting API server",
		"port", s.config.Port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error",
				"error", err.Error())
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down API server")
	return s.server.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// respondJSON sends a JSON response
func (s *APIServer) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response",
			"error", err.Error())
	}
}

// respondError sends an error response
func (s *APIServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// parseQueryParam extracts a query parameter from the request
func parseQueryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// parseQueryParamInt extracts an integer query parameter
func parseQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
		return intValue
	}
	return defaultValue
}

// parseQueryParamBool extracts a boolean query parameter
func parseQueryParamBool(r *http.Request, key string) bool {
	value := r.URL.Query().Get(key)
	return value == "true" || value == "1" || value == "yes"
}

// handleRootRedirect redirects / to /swagger/
func (s *APIServer) handleRootRedirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	http.Redirect(w, r, "/swagger/", http.StatusMovedPermanently)
}
