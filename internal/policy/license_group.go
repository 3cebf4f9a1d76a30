package policy

import (
	"log/slog"

	"github.com/daimoniac/vigil/internal/errors"
	"github.com/daimoniac/vigil/internal/types"
	"github.com/google/uuid"
)

// LicenseGroupResolver looks up license groups by UUID.
type LicenseGroupResolver interface {
	LicenseGroup(id uuid.UUID) (*types.LicenseGroup, bool)
}

// LicenseGroups is a map-backed LicenseGroupResolver.
type LicenseGroups map[uuid.UUID]*types.LicenseGroup

// LicenseGroup implements LicenseGroupResolver
func (g LicenseGroups) LicenseGroup(id uuid.UUID) (*types.LicenseGroup, bool) {
	group, ok := g[id]
	return group, ok
}

// LicenseGroupEvaluator matches a component's resolved license against
// membership of a license group. IS matches members; IS_NOT matches
// non-members, including components whose license is unresolved.
type LicenseGroupEvaluator struct {
	guard
	groups LicenseGroupResolver
}

// NewLicenseGroupEvaluator creates a LICENSE_GROUP subject evaluator
func NewLicenseGroupEvaluator(groups LicenseGroupResolver, logger *slog.Logger) *LicenseGroupEvaluator {
	if groups == nil {
		groups = LicenseGroups{}
	}
	return &LicenseGroupEvaluator{
		guard:  newGuard(types.SubjectLicenseGroup, logger, types.OperatorIs, types.OperatorIsNot),
		groups: groups,
	}
}

// Evaluate implements ConditionEvaluator
func (e *LicenseGroupEvaluator) Evaluate(cond *types.PolicyCondition, component *types.Component) bool {
	if !e.applies(cond, component) {
		return false
	}
	group, err := e.lookup(cond)
	if err != nil {
		return e.malformed(cond, err)
	}
	member := group.Contains(component.ResolvedLicense)
	if cond.Operator == types.OperatorIs {
		return member
	}
	return !member
}

// ValidateValue implements ValueValidator
func (e *LicenseGroupEvaluator) ValidateValue(cond *types.PolicyCondition) error {
	_, err := e.lookup(cond)
	return err
}

func (e *LicenseGroupEvaluator) lookup(cond *types.PolicyCondition) (*types.LicenseGroup, error) {
	id, err := uuid.Parse(cond.Value)
	if err != nil {
		return nil, err
	}
	group, ok := e.groups.LicenseGroup(id)
	if !ok {
		return nil, errors.NewPermanentf("license group %s: %w", id, errors.ErrNotFound)
	}
	return group, nil
}
