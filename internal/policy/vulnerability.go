package policy

import (
	"log/slog"
	"strings"

	"github.com/daimoniac/vigil/internal/types"
)

// SeverityEvaluator matches the severities of a component's vulnerabilities.
// IS matches when any vulnerability has the given severity; IS_NOT matches
// when any vulnerability has a different one. Components without
// vulnerabilities never match.
type SeverityEvaluator struct {
	guard
}

// NewSeverityEvaluator creates a SEVERITY subject evaluator
func NewSeverityEvaluator(logger *slog.Logger) *SeverityEvaluator {
	return &SeverityEvaluator{guard: newGuard(types.SubjectSeverity, logger, types.OperatorIs, types.OperatorIsNot)}
}

// Evaluate implements ConditionEvaluator
func (e *SeverityEvaluator) Evaluate(cond *types.PolicyCondition, component *types.Component) bool {
	if !e.applies(cond, component) {
		return false
	}
	want, err := types.ParseSeverity(cond.Value)
	if err != nil {
		return e.malformed(cond, err)
	}
	return anyVulnerability(component, cond.Operator, func(v types.Vulnerability) bool {
		return v.Severity == want
	})
}

// ValidateValue implements ValueValidator
func (e *SeverityEvaluator) ValidateValue(cond *types.PolicyCondition) error {
	_, err := types.ParseSeverity(cond.Value)
	return err
}

// VulnerabilityIDEvaluator matches vulnerability identifiers (CVE-..., GHSA-...)
// case-insensitively. IS matches when any vulnerability has the given ID;
// IS_NOT matches when any vulnerability has a different ID.
type VulnerabilityIDEvaluator struct {
	guard
}

// NewVulnerabilityIDEvaluator creates a VULNERABILITY_ID subject evaluator
func NewVulnerabilityIDEvaluator(logger *slog.Logger) *VulnerabilityIDEvaluator {
	return &VulnerabilityIDEvaluator{guard: newGuard(types.SubjectVulnerabilityID, logger, types.OperatorIs, types.OperatorIsNot)}
}

// Evaluate implements ConditionEvaluator
func (e *VulnerabilityIDEvaluator) Evaluate(cond *types.PolicyCondition, component *types.Component) bool {
	if !e.applies(cond, component) {
		return false
	}
	want := strings.TrimSpace(cond.Value)
	if want == "" {
		return e.malformed(cond, errEmptyValue)
	}
	return anyVulnerability(component, cond.Operator, func(v types.Vulnerability) bool {
		return strings.EqualFold(v.ID, want)
	})
}

// ValidateValue implements ValueValidator
func (e *VulnerabilityIDEvaluator) ValidateValue(cond *types.PolicyCondition) error {
	if strings.TrimSpace(cond.Value) == "" {
		return errEmptyValue
	}
	return nil
}

// anyVulnerability applies IS / IS_NOT of pred across the component's vulnerabilities.
func anyVulnerability(component *types.Component, op types.ConditionOperator, pred func(types.Vulnerability) bool) bool {
	for _, v := range component.Vulnerabilities {
		if pred(v) == (op == types.OperatorIs) {
			return true
		}
	}
	return false
}
