// Package policy evaluates declarative component policies.
//
// Each condition subject (LICENSE, COORDINATES, VERSION, ...) is handled by
// one ConditionEvaluator. Evaluators are looked up through a Registry, and
// the Engine folds per-condition results into violations according to the
// policy operator (ANY or ALL).
//
// Evaluation never fails: a condition whose subject has no evaluator, whose
// operator is not supported for its subject, or whose value cannot be parsed
// simply does not match.
package policy

import (
	"log/slog"
	"regexp"
	"slices"
	"sync"

	"github.com/daimoniac/vigil/internal/errors"
	"github.com/daimoniac/vigil/internal/types"
)

var errEmptyValue = errors.NewPermanentf("condition value is empty: %w", errors.ErrInvalidInput)

// ConditionEvaluator decides whether a single condition matches a component.
type ConditionEvaluator interface {
	// Subject returns the condition subject this evaluator handles
	Subject() types.Subject

	// Evaluate reports whether the condition matches the component.
	// Conditions for another subject never match.
	Evaluate(cond *types.PolicyCondition, component *types.Component) bool
}

// OperatorSupporter is implemented by evaluators that declare the operators
// legal for their subject. It is used by Lint.
type OperatorSupporter interface {
	SupportedOperators() []types.ConditionOperator
}

// ValueValidator is implemented by evaluators that can check a condition
// operand without a component. It is used by Lint.
type ValueValidator interface {
	ValidateValue(cond *types.PolicyCondition) error
}

// Violation evaluates one condition of a policy with a single evaluator and
// returns the resulting violation, or nil when the condition does not match.
func Violation(ev ConditionEvaluator, policy *types.Policy, cond *types.PolicyCondition, component *types.Component) *types.PolicyConditionViolation {
	if ev == nil || policy == nil || cond == nil || component == nil {
		return nil
	}
	if !ev.Evaluate(cond, component) {
		return nil
	}
	return &types.PolicyConditionViolation{
		Component: component,
		Condition: cond,
		Policy:    policy,
		State:     policy.ViolationState,
	}
}

// guard holds the checks every evaluator runs before its comparison:
// the subject guard first, then the operator guard.
type guard struct {
	subject   types.Subject
	operators []types.ConditionOperator
	logger    *slog.Logger
}

func newGuard(subject types.Subject, logger *slog.Logger, operators ...types.ConditionOperator) guard {
	if logger == nil {
		logger = slog.Default()
	}
	return guard{subject: subject, operators: operators, logger: logger}
}

func (g guard) Subject() types.Subject {
	return g.subject
}

func (g guard) SupportedOperators() []types.ConditionOperator {
	return slices.Clone(g.operators)
}

// applies reports whether the evaluator should look at the condition at all.
func (g guard) applies(cond *types.PolicyCondition, component *types.Component) bool {
	if cond == nil || component == nil {
		return false
	}
	if cond.Subject != g.subject {
		return false
	}
	return slices.Contains(g.operators, cond.Operator)
}

// malformed logs a condition whose value cannot be parsed and reports no match.
func (g guard) malformed(cond *types.PolicyCondition, err error) bool {
	g.logger.Warn("skipping condition with malformed value",
		"subject", cond.Subject,
		"operator", cond.Operator,
		"condition", cond.UUID.String(),
		"value", cond.Value,
		"error", errors.NewMalformedValue(string(cond.Subject), cond.Value, err))
	return false
}

// patternCache compiles each regular expression once. Safe for concurrent use.
type patternCache struct {
	patterns sync.Map // string -> *regexp.Regexp
}

func (c *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	actual, _ := c.patterns.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}
