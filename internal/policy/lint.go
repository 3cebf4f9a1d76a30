package policy

import (
	"fmt"
	"slices"

	"github.com/daimoniac/vigil/internal/errors"
	"github.com/daimoniac/vigil/internal/types"
)

// DiagnosticCode identifies why a condition can never match as authored.
type DiagnosticCode string

const (
	DiagnosticNoEvaluator         DiagnosticCode = "NO_EVALUATOR"
	DiagnosticOperatorUnsupported DiagnosticCode = "OPERATOR_UNSUPPORTED"
	DiagnosticMalformedValue      DiagnosticCode = "MALFORMED_VALUE"
	DiagnosticEmptyPolicy         DiagnosticCode = "EMPTY_POLICY"
	DiagnosticUnknownOperator     DiagnosticCode = "UNKNOWN_POLICY_OPERATOR"
)

// Diagnostic is an authoring problem found in a policy. Evaluation treats
// every one of these as "no violation"; Lint only makes them visible.
type Diagnostic struct {
	Policy    string
	Condition *types.PolicyCondition
	Code      DiagnosticCode
	Message   string
	Err       error // set for MALFORMED_VALUE
}

func (d Diagnostic) String() string {
	if d.Condition == nil {
		return fmt.Sprintf("%s: %s: %s", d.Policy, d.Code, d.Message)
	}
	return fmt.Sprintf("%s: %s %s %q: %s: %s", d.Policy, d.Condition.Subject, d.Condition.Operator, d.Condition.Value, d.Code, d.Message)
}

// Lint reports conditions of the policy that cannot match as written.
// A nil registry reports every condition as NO_EVALUATOR.
func Lint(registry *Registry, policy *types.Policy) []Diagnostic {
	if policy == nil {
		return nil
	}

	var diags []Diagnostic
	if !policy.Operator.Valid() {
		diags = append(diags, Diagnostic{
			Policy:  policy.Name,
			Code:    DiagnosticUnknownOperator,
			Message: fmt.Sprintf("policy operator %q is neither ANY nor ALL", policy.Operator),
		})
	}
	if len(policy.Conditions) == 0 {
		diags = append(diags, Diagnostic{
			Policy:  policy.Name,
			Code:    DiagnosticEmptyPolicy,
			Message: "policy has no conditions",
		})
	}

	for i := range policy.Conditions {
		cond := &policy.Conditions[i]
		ev, ok := registry.Lookup(cond.Subject)
		if !ok {
			diags = append(diags, Diagnostic{
				Policy:    policy.Name,
				Condition: cond,
				Code:      DiagnosticNoEvaluator,
				Message:   fmt.Sprintf("no evaluator registered for subject %s", cond.Subject),
			})
			continue
		}
		if s, ok := ev.(OperatorSupporter); ok && !slices.Contains(s.SupportedOperators(), cond.Operator) {
			diags = append(diags, Diagnostic{
				Policy:    policy.Name,
				Condition: cond,
				Code:      DiagnosticOperatorUnsupported,
				Message:   fmt.Sprintf("operator %s is not supported for subject %s (supported: %v)", cond.Operator, cond.Subject, s.SupportedOperators()),
			})
			continue
		}
		if v, ok := ev.(ValueValidator); ok {
			if err := v.ValidateValue(cond); err != nil {
				if !errors.IsMalformedValue(err) {
					err = errors.NewMalformedValue(string(cond.Subject), cond.Value, err)
				}
				diags = append(diags, Diagnostic{
					Policy:    policy.Name,
					Condition: cond,
					Code:      DiagnosticMalformedValue,
					Message:   err.Error(),
					Err:       err,
				})
			}
		}
	}
	return diags
}
