package policy

import (
	"log/slog"

	"github.com/daimoniac/vigil/internal/types"
)

// PatternEvaluator applies a regular expression to one string attribute of a
// component. MATCHES matches when the pattern is found in the attribute and
// NO_MATCH when it is not. Components without the attribute never match.
type PatternEvaluator struct {
	guard
	attribute func(*types.Component) string
	patterns  patternCache
}

// NewPatternEvaluator creates an evaluator for a regex-matched string attribute
func NewPatternEvaluator(subject types.Subject, attribute func(*types.Component) string, logger *slog.Logger) *PatternEvaluator {
	return &PatternEvaluator{
		guard:     newGuard(subject, logger, types.OperatorMatches, types.OperatorNoMatch),
		attribute: attribute,
	}
}

// NewPackageURLEvaluator creates a PACKAGE_URL subject evaluator
func NewPackageURLEvaluator(logger *slog.Logger) *PatternEvaluator {
	return NewPatternEvaluator(types.SubjectPackageURL, func(c *types.Component) string { return c.PURL }, logger)
}

// NewCPEEvaluator creates a CPE subject evaluator
func NewCPEEvaluator(logger *slog.Logger) *PatternEvaluator {
	return NewPatternEvaluator(types.SubjectCPE, func(c *types.Component) string { return c.CPE }, logger)
}

// NewSWIDTagIDEvaluator creates a SWID_TAGID subject evaluator
func NewSWIDTagIDEvaluator(logger *slog.Logger) *PatternEvaluator {
	return NewPatternEvaluator(types.SubjectSWIDTagID, func(c *types.Component) string { return c.SWIDTagID }, logger)
}

// Evaluate implements ConditionEvaluator
func (e *PatternEvaluator) Evaluate(cond *types.PolicyCondition, component *types.Component) bool {
	if !e.applies(cond, component) {
		return false
	}
	value := e.attribute(component)
	if value == "" {
		return false
	}
	re, err := e.patterns.compile(cond.Value)
	if err != nil {
		return e.malformed(cond, err)
	}
	found := re.MatchString(value)
	if cond.Operator == types.OperatorMatches {
		return found
	}
	return !found
}

// ValidateValue implements ValueValidator
func (e *PatternEvaluator) ValidateValue(cond *types.PolicyCondition) error {
	_, err := e.patterns.compile(cond.Value)
	return err
}
