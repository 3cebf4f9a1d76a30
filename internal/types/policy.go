package types

import (
	"strings"
	"time"

	"github.com/daimoniac/vigil/internal/errors"
	"github.com/google/uuid"
)

// Subject is the attribute domain a policy condition inspects.
type Subject string

const (
	SubjectLicense         Subject = "LICENSE"
	SubjectLicenseGroup    Subject = "LICENSE_GROUP"
	SubjectCoordinates     Subject = "COORDINATES"
	SubjectPackageURL      Subject = "PACKAGE_URL"
	SubjectCPE             Subject = "CPE"
	SubjectSWIDTagID       Subject = "SWID_TAGID"
	SubjectVersion         Subject = "VERSION"
	SubjectComponentHash   Subject = "COMPONENT_HASH"
	SubjectSeverity        Subject = "SEVERITY"
	SubjectVulnerabilityID Subject = "VULNERABILITY_ID"
	SubjectExpression      Subject = "EXPRESSION"
)

// Subjects lists every known subject in declaration order.
var Subjects = []Subject{
	SubjectLicense,
	SubjectLicenseGroup,
	SubjectCoordinates,
	SubjectPackageURL,
	SubjectCPE,
	SubjectSWIDTagID,
	SubjectVersion,
	SubjectComponentHash,
	SubjectSeverity,
	SubjectVulnerabilityID,
	SubjectExpression,
}

// Valid reports whether s is a known subject.
func (s Subject) Valid() bool {
	for _, known := range Subjects {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSubject parses a subject name, case-insensitively.
func ParseSubject(s string) (Subject, error) {
	subject := Subject(strings.ToUpper(strings.TrimSpace(s)))
	if !subject.Valid() {
		return "", errors.NewPermanentf("unknown condition subject %q: %w", s, errors.ErrInvalidInput)
	}
	return subject, nil
}

// ConditionOperator is the comparison applied between a condition value and
// a component attribute. The legal set is subject-specific.
type ConditionOperator string

const (
	OperatorIs                        ConditionOperator = "IS"
	OperatorIsNot                     ConditionOperator = "IS_NOT"
	OperatorMatches                   ConditionOperator = "MATCHES"
	OperatorNoMatch                   ConditionOperator = "NO_MATCH"
	OperatorNumericGreaterThan        ConditionOperator = "NUMERIC_GREATER_THAN"
	OperatorNumericLessThan           ConditionOperator = "NUMERIC_LESS_THAN"
	OperatorNumericEqual              ConditionOperator = "NUMERIC_EQUAL"
	OperatorNumericNotEqual           ConditionOperator = "NUMERIC_NOT_EQUAL"
	OperatorNumericGreaterThanOrEqual ConditionOperator = "NUMERIC_GREATER_THAN_OR_EQUAL"
	OperatorNumericLesserThanOrEqual  ConditionOperator = "NUMERIC_LESSER_THAN_OR_EQUAL"
	OperatorContainsAll               ConditionOperator = "CONTAINS_ALL"
	OperatorContainsAny               ConditionOperator = "CONTAINS_ANY"
)

// ConditionOperators lists every known condition operator.
var ConditionOperators = []ConditionOperator{
	OperatorIs,
	OperatorIsNot,
	OperatorMatches,
	OperatorNoMatch,
	OperatorNumericGreaterThan,
	OperatorNumericLessThan,
	OperatorNumericEqual,
	OperatorNumericNotEqual,
	OperatorNumericGreaterThanOrEqual,
	OperatorNumericLesserThanOrEqual,
	OperatorContainsAll,
	OperatorContainsAny,
}

// Valid reports whether o is a known condition operator.
func (o ConditionOperator) Valid() bool {
	for _, known := range ConditionOperators {
		if o == known {
			return true
		}
	}
	return false
}

// ParseConditionOperator parses a condition operator name, case-insensitively.
func ParseConditionOperator(s string) (ConditionOperator, error) {
	op := ConditionOperator(strings.ToUpper(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", errors.NewPermanentf("unknown condition operator %q: %w", s, errors.ErrInvalidInput)
	}
	return op, nil
}

// PolicyOperator combines the results of a policy's conditions.
type PolicyOperator string

const (
	PolicyOperatorAny PolicyOperator = "ANY"
	PolicyOperatorAll PolicyOperator = "ALL"
)

// Valid reports whether o is ANY or ALL.
func (o PolicyOperator) Valid() bool {
	return o == PolicyOperatorAny || o == PolicyOperatorAll
}

// ParsePolicyOperator parses ANY or ALL, case-insensitively.
func ParsePolicyOperator(s string) (PolicyOperator, error) {
	op := PolicyOperator(strings.ToUpper(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", errors.NewPermanentf("unknown policy operator %q (must be ANY or ALL): %w", s, errors.ErrInvalidInput)
	}
	return op, nil
}

// ViolationState is the severity a policy stamps onto its violations.
type ViolationState string

const (
	ViolationStateInfo ViolationState = "INFO"
	ViolationStateWarn ViolationState = "WARN"
	ViolationStateFail ViolationState = "FAIL"
)

// ViolationStates lists the states from least to most severe.
var ViolationStates = []ViolationState{ViolationStateInfo, ViolationStateWarn, ViolationStateFail}

// Valid reports whether s is INFO, WARN or FAIL.
func (s ViolationState) Valid() bool {
	return s == ViolationStateInfo || s == ViolationStateWarn || s == ViolationStateFail
}

// ParseViolationState parses INFO, WARN or FAIL, case-insensitively.
func ParseViolationState(s string) (ViolationState, error) {
	state := ViolationState(strings.ToUpper(strings.TrimSpace(s)))
	if !state.Valid() {
		return "", errors.NewPermanentf("unknown violation state %q (must be INFO, WARN or FAIL): %w", s, errors.ErrInvalidInput)
	}
	return state, nil
}

// Severity of a vulnerability.
type Severity string

const (
	SeverityCritical   Severity = "CRITICAL"
	SeverityHigh       Severity = "HIGH"
	SeverityMedium     Severity = "MEDIUM"
	SeverityLow        Severity = "LOW"
	SeverityInfo       Severity = "INFO"
	SeverityUnassigned Severity = "UNASSIGNED"
)

// ParseSeverity parses a severity name. Empty input maps to UNASSIGNED.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	switch sev {
	case "":
		return SeverityUnassigned, nil
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo, SeverityUnassigned:
		return sev, nil
	}
	return "", errors.NewPermanentf("unknown severity %q: %w", s, errors.ErrInvalidInput)
}

// Policy is a named rule whose conditions are combined by Operator.
type Policy struct {
	UUID           uuid.UUID
	Name           string
	Operator       PolicyOperator
	ViolationState ViolationState
	Conditions     []PolicyCondition
}

// PolicyCondition is a single testable rule unit of a policy.
type PolicyCondition struct {
	UUID     uuid.UUID
	Subject  Subject
	Operator ConditionOperator
	Value    string
}

// ViolationType groups violations by the kind of risk they describe.
type ViolationType string

const (
	ViolationTypeLicense     ViolationType = "LICENSE"
	ViolationTypeSecurity    ViolationType = "SECURITY"
	ViolationTypeOperational ViolationType = "OPERATIONAL"
)

// PolicyConditionViolation records that a component failed a policy condition.
type PolicyConditionViolation struct {
	Component *Component

	// Condition is nil only for a vacuously satisfied ALL policy with no conditions.
	Condition *PolicyCondition

	Policy    *Policy
	State     ViolationState
	Timestamp time.Time
}

// Type classifies the violation by its condition subject.
func (v *PolicyConditionViolation) Type() ViolationType {
	if v == nil || v.Condition == nil {
		return ViolationTypeOperational
	}
	switch v.Condition.Subject {
	case SubjectLicense, SubjectLicenseGroup:
		return ViolationTypeLicense
	case SubjectSeverity, SubjectVulnerabilityID:
		return ViolationTypeSecurity
	default:
		return ViolationTypeOperational
	}
}
