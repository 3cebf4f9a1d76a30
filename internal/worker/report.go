package worker

import (
	"time"

	"github.com/daimoniac/vigil/internal/policy"
	"github.com/daimoniac/vigil/internal/statestore"
	"github.com/daimoniac/vigil/internal/types"
	"github.com/google/uuid"
)

// Report is the outcome of evaluating every policy against every component
type Report struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Components int
	Policies   int

	// Violations are ordered by component, then policy, then condition
	Violations    []types.PolicyConditionViolation
	CountsByState map[types.ViolationState]int

	// Diagnostics lists authoring problems found in the evaluated policies
	Diagnostics []policy.Diagnostic

	// Warnings lists unresolved catalog references
	Warnings []string
}

func newReport(runID uuid.UUID, startedAt time.Time, policies, components int) *Report {
	return &Report{
		RunID:         runID,
		StartedAt:     startedAt,
		Components:    components,
		Policies:      policies,
		CountsByState: make(map[types.ViolationState]int, len(types.ViolationStates)),
	}
}

func (r *Report) add(violations []types.PolicyConditionViolation) {
	for _, v := range violations {
		r.CountsByState[v.State]++
	}
	r.Violations = append(r.Violations, violations...)
}

// Count returns the number of violations in the given state
func (r *Report) Count(state types.ViolationState) int {
	return r.CountsByState[state]
}

// HasFailures reports whether any violation is in the FAIL state
func (r *Report) HasFailures() bool {
	return r.Count(types.ViolationStateFail) > 0
}

// Duration returns how long the run took
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunRecord converts the report into its persisted form
func (r *Report) RunRecord() *statestore.RunRecord {
	record := &statestore.RunRecord{
		RunID:          r.RunID.String(),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		PolicyCount:    r.Policies,
		ComponentCount: r.Components,
		InfoCount:      r.Count(types.ViolationStateInfo),
		WarnCount:      r.Count(types.ViolationStateWarn),
		FailCount:      r.Count(types.ViolationStateFail),
		Violations:     make([]statestore.ViolationRecord, 0, len(r.Violations)),
	}

	for i := range r.Violations {
		record.Violations = append(record.Violations, violationRecord(record.RunID, &r.Violations[i]))
	}
	return record
}

func violationRecord(runID string, v *types.PolicyConditionViolation) statestore.ViolationRecord {
	rec := statestore.ViolationRecord{
		RunID:      runID,
		State:      string(v.State),
		Type:       string(v.Type()),
		OccurredAt: v.Timestamp,
	}
	if v.Component != nil {
		rec.ComponentUUID = v.Component.UUID.String()
		rec.Component = v.Component.Coordinates()
	}
	if v.Policy != nil {
		rec.PolicyUUID = v.Policy.UUID.String()
		rec.PolicyName = v.Policy.Name
	}
	if v.Condition != nil {
		rec.ConditionUUID = v.Condition.UUID.String()
		rec.Subject = string(v.Condition.Subject)
		rec.Operator = string(v.Condition.Operator)
		rec.Value = v.Condition.Value
	}
	return rec
}
