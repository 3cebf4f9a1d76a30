package policy

import (
	"strings"
	"testing"

	"github.com/daimoniac/vigil/internal/types"
	"github.com/google/uuid"
)

func newApacheLicense() *types.License {
	return &types.License{
		UUID:      uuid.New(),
		LicenseID: "Apache-2.0",
		Name:      "Apache 2.0",
	}
}

func newPolicy(op types.PolicyOperator, state types.ViolationState, conditions ...types.PolicyCondition) *types.Policy {
	for i := range conditions {
		if conditions[i].UUID == uuid.Nil {
			conditions[i].UUID = uuid.New()
		}
	}
	return &types.Policy{
		UUID:           uuid.New(),
		Name:           "Test Policy",
		Operator:       op,
		ViolationState: state,
		Conditions:     conditions,
	}
}

// licenseViolations runs each condition of the policy through the LICENSE
// evaluator alone, ignoring the policy operator.
func licenseViolations(policy *types.Policy, component *types.Component) []types.PolicyConditionViolation {
	ev := NewLicenseEvaluator(nil)
	var violations []types.PolicyConditionViolation
	for i := range policy.Conditions {
		if v := Violation(ev, policy, &policy.Conditions[i], component); v != nil {
			violations = append(violations, *v)
		}
	}
	return violations
}

func TestLicenseEvaluator_HasMatch(t *testing.T) {
	license := newApacheLicense()
	policy := newPolicy(types.PolicyOperatorAny, types.ViolationStateInfo,
		types.PolicyCondition{Subject: types.SubjectLicense, Operator: types.OperatorIs, Value: license.UUID.String()})
	component := &types.Component{ResolvedLicense: license}

	violations := licenseViolations(policy, component)
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}

	violation := violations[0]
	if violation.Component != component {
		t.Errorf("expected violation to reference the evaluated component")
	}
	if violation.Condition != &policy.Conditions[0] {
		t.Errorf("expected violation to reference the policy condition")
	}
	if violation.State != types.ViolationStateInfo {
		t.Errorf("expected INFO state, got %s", violation.State)
	}
}

func TestLicenseEvaluator_NoMatch(t *testing.T) {
	license := newApacheLicense()
	policy := newPolicy(types.PolicyOperatorAny, types.ViolationStateInfo,
		types.PolicyCondition{Subject: types.SubjectLicense, Operator: types.OperatorIs, Value: uuid.New().String()})
	component := &types.Component{ResolvedLicense: license}

	if violations := licenseViolations(policy, component); len(violations) != 0 {
		t.Errorf("expected no violations, got %d", len(violations))
	}
}

func TestLicenseEvaluator_WrongSubject(t *testing.T) {
	license := newApacheLicense()
	policy := newPolicy(types.PolicyOperatorAny, types.ViolationStateInfo,
		types.PolicyCondition{Subject: types.SubjectCoordinates, Operator: types.OperatorIs, Value: license.UUID.String()})
	component := &types.Component{ResolvedLicense: license}

	if violations := licenseViolations(policy, component); len(violations) != 0 {
		t.Errorf("expected no violations for foreign subject, got %d", len(violations))
	}
}

func TestLicenseEvaluator_WrongOperator(t *testing.T) {
	license := newApacheLicense()
	policy := newPolicy(types.PolicyOperatorAny, types.ViolationStateInfo,
		types.PolicyCondition{Subject: types.SubjectLicense, Operator: types.OperatorMatches, Value: license.UUID.String()})
	component := &types.Component{ResolvedLicense: license}

	if violations := licenseViolations(policy, component); len(violations) != 0 {
		t.Errorf("expected no violations for unsupported operator, got %d", len(violations))
	}
}

func TestLicenseEvaluator_UnresolvedLicense(t *testing.T) {
	ev := NewLicenseEvaluator(nil)
	component := &types.Component{Name: "mystery"}

	for _, op := range types.ConditionOperators {
		for _, value := range []string{uuid.New().String(), "", "unresolved", uuid.Nil.String()} {
			cond := &types.PolicyCondition{Subject: types.SubjectLicense, Operator: op, Value: value}
			if ev.Evaluate(cond, component) {
				t.Errorf("unresolved license matched %s %q", op, value)
			}
		}
	}
}

func TestLicenseEvaluator_ExactUUIDComparison(t *testing.T) {
	license := newApacheLicense()
	component := &types.Component{ResolvedLicense: license}
	ev := NewLicenseEvaluator(nil)

	canonical := license.UUID.String()
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "canonical", value: canonical, want: true},
		{name: "upper case", value: uuidUpper(license.UUID), want: false},
		{name: "urn prefix", value: "urn:uuid:" + canonical, want: false},
		{name: "braced", value: "{" + canonical + "}", want: false},
		{name: "without hyphens", value: strings.ReplaceAll(canonical, "-", ""), want: false},
		{name: "license id", value: "Apache-2.0", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := &types.PolicyCondition{Subject: types.SubjectLicense, Operator: types.OperatorIs, Value: tt.value}
			if got := ev.Evaluate(cond, component); got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}

	// A duplicate license with the same name is a different entity.
	duplicate := &types.Component{ResolvedLicense: newApacheLicense()}
	exact := &types.PolicyCondition{Subject: types.SubjectLicense, Operator: types.OperatorIs, Value: canonical}
	if ev.Evaluate(exact, duplicate) {
		t.Errorf("same-named duplicate license must not match")
	}
}

func TestLicenseEvaluator_MalformedValue(t *testing.T) {
	component := &types.Component{ResolvedLicense: newApacheLicense()}
	ev := NewLicenseEvaluator(nil)

	for _, value := range []string{"", "not-a-uuid", "1234"} {
		cond := &types.PolicyCondition{Subject: types.SubjectLicense, Operator: types.OperatorIs, Value: value}
		if ev.Evaluate(cond, component) {
			t.Errorf("malformed value %q must not match", value)
		}
		if err := ev.ValidateValue(cond); err == nil {
			t.Errorf("expected ValidateValue to reject %q", value)
		}
	}
}

func TestViolation_Optional(t *testing.T) {
	license := newApacheLicense()
	policy := newPolicy(types.PolicyOperatorAny, types.ViolationStateWarn,
		types.PolicyCondition{Subject: types.SubjectLicense, Operator: types.OperatorIs, Value: license.UUID.String()})
	ev := NewLicenseEvaluator(nil)

	if v := Violation(ev, policy, &policy.Conditions[0], &types.Component{}); v != nil {
		t.Errorf("expected nil violation for unresolved license")
	}

	v := Violation(ev, policy, &policy.Conditions[0], &types.Component{ResolvedLicense: license})
	if v == nil {
		t.Fatal("expected a violation")
	}
	if v.Policy != policy || v.State != types.ViolationStateWarn {
		t.Errorf("expected violation stamped with policy and WARN state, got %+v", v)
	}

	if Violation(nil, policy, &policy.Conditions[0], &types.Component{}) != nil {
		t.Errorf("nil evaluator yields no violation")
	}
}

func uuidUpper(id uuid.UUID) string {
	s := []byte(id.String())
	for i, c := range s {
		if c >= 'a' && c <= 'f' {
			s[i] = c - 'a' + 'A'
		}
	}
	return string(s)
}
