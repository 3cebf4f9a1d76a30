package policy

import (
	"log/slog"

	"github.com/daimoniac/vigil/internal/types"
	"github.com/google/uuid"
)

// LicenseEvaluator matches a component's resolved license by identity.
// Only IS is defined: the condition value is a license UUID and matches
// when it is exactly the canonical string form of the resolved license UUID.
// Unresolved licenses never match.
type LicenseEvaluator struct {
	guard
}

// NewLicenseEvaluator creates a LICENSE subject evaluator
func NewLicenseEvaluator(logger *slog.Logger) *LicenseEvaluator {
	return &LicenseEvaluator{guard: newGuard(types.SubjectLicense, logger, types.OperatorIs)}
}

// Evaluate implements ConditionEvaluator
func (e *LicenseEvaluator) Evaluate(cond *types.PolicyCondition, component *types.Component) bool {
	if !e.applies(cond, component) {
		return false
	}
	if component.ResolvedLicense == nil {
		return false
	}
	if _, err := uuid.Parse(cond.Value); err != nil {
		return e.malformed(cond, err)
	}
	return cond.Value == component.ResolvedLicense.UUIDString()
}

// ValidateValue implements ValueValidator
func (e *LicenseEvaluator) ValidateValue(cond *types.PolicyCondition) error {
	_, err := uuid.Parse(cond.Value)
	return err
}
