package api

import (
	"time"

	"github.com/daimoniac/vigil/internal/statestore"
)

// formatTimestamp converts a time to ISO8601 (RFC 3339) format in UTC.
//
// Example:
//
//	formatTimestamp(time.Unix(0, 0)) returns "1970-01-01T00:00:00Z"
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// RunResponse represents an evaluation run for API responses.
// Timestamps are formatted as ISO8601 strings.
type RunResponse struct {
	RunID          string              `json:"run_id"`
	StartedAt      string              `json:"started_at"`  // ISO8601
	FinishedAt     string              `json:"finished_at"` // ISO8601
	DurationMs     int64               `json:"duration_ms"`
	PolicyCount    int                 `json:"policy_count"`
	ComponentCount int                 `json:"component_count"`
	InfoCount      int                 `json:"info_count"`
	WarnCount      int                 `json:"warn_count"`
	FailCount      int                 `json:"fail_count"`
	Violations     []ViolationResponse `json:"violations,omitempty"`
}

// ViolationResponse represents a policy condition violation for API responses.
type ViolationResponse struct {
	RunID         string `json:"run_id"`
	ComponentUUID string `json:"component_uuid"`
	Component     string `json:"component"`
	PolicyUUID    string `json:"policy_uuid"`
	PolicyName    string `json:"policy_name"`
	ConditionUUID string `json:"condition_uuid,omitempty"`
	Subject       string `json:"subject,omitempty"`
	Operator      string `json:"operator,omitempty"`
	Value         string `json:"value,omitempty"`
	State         string `json:"state"`
	Type          string `json:"type"`
	OccurredAt    string `json:"occurred_at"` // ISO8601
}

// TriggerRunResponse is returned when a run is requested
type TriggerRunResponse struct {
	Triggered bool   `json:"triggered"`
	Message   string `json:"message"`
}

// toViolationResponse converts a persisted violation to a response DTO.
func toViolationResponse(v *statestore.ViolationRecord) ViolationResponse {
	return ViolationResponse{
		RunID:         v.RunID,
		ComponentUUID: v.ComponentUUID,
		Component:     v.Component,
		PolicyUUID:    v.PolicyUUID,
		PolicyName:    v.PolicyName,
		ConditionUUID: v.ConditionUUID,
		Subject:       v.Subject,
		Operator:      v.Operator,
		Value:         v.Value,
		State:         v.State,
		Type:          v.Type,
		OccurredAt:    formatTimestamp(v.OccurredAt),
	}
}

// toRunResponse converts a persisted run to a response DTO.
func toRunResponse(record *statestore.RunRecord) *RunResponse {
	if record == nil {
		return nil
	}

	var violations []ViolationResponse
	if len(record.Violations) > 0 {
		violations = make([]ViolationResponse, len(record.Violations))
		for i := range record.Violations {
			violations[i] = toViolationResponse(&record.Violations[i])
		}
	}

	return &RunResponse{
		RunID:          record.RunID,
		StartedAt:      formatTimestamp(record.StartedAt),
		FinishedAt:     formatTimestamp(record.FinishedAt),
		DurationMs:     record.FinishedAt.Sub(record.StartedAt).Milliseconds(),
		PolicyCount:    record.PolicyCount,
		ComponentCount: record.ComponentCount,
		InfoCount:      record.InfoCount,
		WarnCount:      record.WarnCount,
		FailCount:      record.FailCount,
		Violations:     violations,
	}
}
