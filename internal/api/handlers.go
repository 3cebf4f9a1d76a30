package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/daimoniac/vigil/internal/statestore"
	"github.com/daimoniac/vigil/internal/types"
)

// handleListRuns lists evaluation runs, newest first
// @Summary List runs
// @Description List recorded evaluation runs without their violations
// @Tags Runs
// @Produce json
// @Param limit query int false "Maximum number of results" default(100)
// @Success 200 {array} RunResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /runs [get]
func (s *APIServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	records, err := s.stateStore.ListRuns(r.Context(), parseQueryParamInt(r, "limit", 100))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}

	runs := make([]*RunResponse, 0, len(records))
	for _, record := range records {
		runs = append(runs, toRunResponse(record))
	}

	s.respondJSON(w, http.StatusOK, runs)
}

// handleGetLatestRun returns the most recent run with its violations
// @Summary Get latest run
// @Description Retrieve the most recent evaluation run including all violations
// @Tags Runs
// @Produce json
// @Success 200 {object} RunResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "No run recorded yet"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /runs/latest [get]
func (s *APIServer) handleGetLatestRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	record, err := s.stateStore.GetLastRun(r.Context())
	if err != nil {
		if errors.Is(err, statestore.ErrRunNotFound) {
			s.respondError(w, http.StatusNotFound, "No run recorded yet")
			return
		}
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get run: %v", err))
		return
	}

	s.respondJSON(w, http.StatusOK, toRunResponse(record))
}

// handleListViolations searches violations across runs
// @Summary List violations
// @Description Search policy condition violations with filtering and pagination
// @Tags Violations
// @Produce json
// @Param run_id query string false "Filter by run ID"
// @Param latest query boolean false "Only violations of the most recent run"
// @Param component_uuid query string false "Filter by component UUID"
// @Param policy query string false "Filter by policy name"
// @Param state query string false "Filter by state (INFO, WARN, FAIL)"
// @Param type query string false "Filter by type (LICENSE, SECURITY, OPERATIONAL)"
// @Param limit query int false "Maximum number of results" default(100)
// @Param offset query int false "Pagination offset" default(0)
// @Success 200 {array} ViolationResponse
// @Failure 400 {object} map[string]string "Invalid filter"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Security BearerAuth
// @Router /violations [get]
func (s *APIServer) handleListViolations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filter := statestore.ViolationFilter{
		RunID:         parseQueryParam(r, "run_id"),
		LatestRun:     parseQueryParamBool(r, "latest"),
		ComponentUUID: parseQueryParam(r, "component_uuid"),
		PolicyName:    parseQueryParam(r, "policy"),
		Limit:         parseQueryParamInt(r, "limit", 100),
		Offset:        parseQueryParamInt(r, "offset", 0),
	}

	if state := parseQueryParam(r, "state"); state != "" {
		parsed, err := types.ParseViolationState(state)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid state: %s", state))
			return
		}
		filter.State = string(parsed)
	}

	if violationType := parseQueryParam(r, "type"); violationType != "" {
		switch t := types.ViolationType(strings.ToUpper(violationType)); t {
		case types.ViolationTypeLicense, types.ViolationTypeSecurity, types.ViolationTypeOperational:
			filter.Type = string(t)
		default:
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid type: %s", violationType))
			return
		}
	}

	records, err := s.stateStore.ListViolations(r.Context(), filter)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list violations: %v", err))
		return
	}

	violations := make([]ViolationResponse, 0, len(records))
	for _, record := range records {
		violations = append(violations, toViolationResponse(record))
	}

	s.respondJSON(w, http.StatusOK, violations)
}

// handleTriggerRun requests an evaluation run
// @Summary Trigger run
// @Description Request an evaluation run before the next scheduled interval
// @Tags Runs
// @Produce json
// @Success 202 {object} TriggerRunResponse
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 403 {object} map[string]string "API is in read-only mode"
// @Failure 409 {object} TriggerRunResponse "A run is already pending"
// @Failure 503 {object} map[string]string "Runs cannot be triggered"
// @Security BearerAuth
// @Router /runs/trigger [post]
func (s *APIServer) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.trigger == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Runs cannot be triggered")
		return
	}

	if !s.trigger.Trigger() {
		s.respondJSON(w, http.StatusConflict, TriggerRunResponse{
			Triggered: false,
			Message:   "A run is already pending",
		})
		return
	}

	s.logger.Info("evaluation run requested via API")
	s.respondJSON(w, http.StatusAccepted, TriggerRunResponse{
		Triggered: true,
		Message:   "Run scheduled",
	})
}

// handleHealth provides health check endpoint
// @Summary Health check
// @Description Check the health status of the API server
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
