package policy

import (
	"log/slog"

	"github.com/Masterminds/semver/v3"
	"github.com/daimoniac/vigil/internal/types"
)

// VersionEvaluator compares the component version with the condition value
// using semantic version ordering. Components whose version does not parse
// as a semantic version never match.
type VersionEvaluator struct {
	guard
}

// NewVersionEvaluator creates a VERSION subject evaluator
func NewVersionEvaluator(logger *slog.Logger) *VersionEvaluator {
	return &VersionEvaluator{guard: newGuard(types.SubjectVersion, logger,
		types.OperatorNumericGreaterThan,
		types.OperatorNumericLessThan,
		types.OperatorNumericEqual,
		types.OperatorNumericNotEqual,
		types.OperatorNumericGreaterThanOrEqual,
		types.OperatorNumericLesserThanOrEqual,
	)}
}

// Evaluate implements ConditionEvaluator
func (e *VersionEvaluator) Evaluate(cond *types.PolicyCondition, component *types.Component) bool {
	if !e.applies(cond, component) {
		return false
	}
	want, err := semver.NewVersion(cond.Value)
	if err != nil {
		return e.malformed(cond, err)
	}
	have, err := semver.NewVersion(component.Version)
	if err != nil {
		e.logger.Debug("component version is not a semantic version",
			"component", component.Coordinates(),
			"version", component.Version)
		return false
	}
	return compareVersions(cond.Operator, have, want)
}

// ValidateValue implements ValueValidator
func (e *VersionEvaluator) ValidateValue(cond *types.PolicyCondition) error {
	_, err := semver.NewVersion(cond.Value)
	return err
}

func compareVersions(op types.ConditionOperator, have, want *semver.Version) bool {
	c := have.Compare(want)
	switch op {
	case types.OperatorNumericGreaterThan:
		return c > 0
	case types.OperatorNumericLessThan:
		return c < 0
	case types.OperatorNumericEqual:
		return c == 0
	case types.OperatorNumericNotEqual:
		return c != 0
	case types.OperatorNumericGreaterThanOrEqual:
		return c >= 0
	case types.OperatorNumericLesserThanOrEqual:
		return c <= 0
	}
	return false
}
