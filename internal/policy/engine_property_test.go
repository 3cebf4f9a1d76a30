package policy

import (
	"testing"

	"github.com/daimoniac/vigil/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// constEvaluator matches conditions whose value is "match".
type constEvaluator struct {
	subject types.Subject
}

func (e constEvaluator) Subject() types.Subject {
	return e.subject
}

func (e constEvaluator) Evaluate(cond *types.PolicyCondition, component *types.Component) bool {
	return cond != nil && component != nil && cond.Subject == e.subject && cond.Value == "match"
}

func policyFromOutcomes(op types.PolicyOperator, state types.ViolationState, outcomes []bool) *types.Policy {
	conditions := make([]types.PolicyCondition, len(outcomes))
	for i, matched := range outcomes {
		value := "miss"
		if matched {
			value = "match"
		}
		conditions[i] = types.PolicyCondition{Subject: types.SubjectCPE, Operator: types.OperatorMatches, Value: value}
	}
	return newPolicy(op, state, conditions...)
}

func countTrue(outcomes []bool) int {
	n := 0
	for _, o := range outcomes {
		if o {
			n++
		}
	}
	return n
}

// TestEngineAggregationProperty checks the ANY and ALL folding rules over
// arbitrary sequences of condition outcomes.
func TestEngineAggregationProperty(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(constEvaluator{subject: types.SubjectCPE})
	engine := NewEngine(registry, nil)
	component := &types.Component{Name: "prop"}

	properties := gopter.NewProperties(nil)

	properties.Property("ANY yields one violation per matching condition", prop.ForAll(
		func(outcomes []bool) bool {
			policy := policyFromOutcomes(types.PolicyOperatorAny, types.ViolationStateWarn, outcomes)
			return len(engine.Evaluate(policy, component)) == countTrue(outcomes)
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("ALL yields every condition or nothing", prop.ForAll(
		func(outcomes []bool) bool {
			policy := policyFromOutcomes(types.PolicyOperatorAll, types.ViolationStateWarn, outcomes)
			got := len(engine.Evaluate(policy, component))
			if len(outcomes) > 0 && countTrue(outcomes) == len(outcomes) {
				return got == len(outcomes)
			}
			return got == 0
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("violations follow condition order and carry the policy state", prop.ForAll(
		func(outcomes []bool, state types.ViolationState) bool {
			policy := policyFromOutcomes(types.PolicyOperatorAny, state, outcomes)
			violations := engine.Evaluate(policy, component)

			next := 0
			for i, matched := range outcomes {
				if !matched {
					continue
				}
				if next >= len(violations) {
					return false
				}
				v := violations[next]
				if v.Condition != &policy.Conditions[i] || v.State != state || v.Policy != policy {
					return false
				}
				next++
			}
			return next == len(violations)
		},
		gen.SliceOf(gen.Bool()),
		gen.OneConstOf(types.ViolationStateInfo, types.ViolationStateWarn, types.ViolationStateFail),
	))

	properties.Property("ALL violations are a subset of ANY violations", prop.ForAll(
		func(outcomes []bool) bool {
			all := engine.Evaluate(policyFromOutcomes(types.PolicyOperatorAll, types.ViolationStateFail, outcomes), component)
			anyCount := len(engine.Evaluate(policyFromOutcomes(types.PolicyOperatorAny, types.ViolationStateFail, outcomes), component))
			return len(all) <= anyCount
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
