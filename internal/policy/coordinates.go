package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/daimoniac/vigil/internal/types"
)

// coordinatesValue is the JSON operand of a COORDINATES condition.
// Empty parts match anything.
type coordinatesValue struct {
	Group   string `json:"group"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CoordinatesEvaluator matches group, name and version of a component.
// Group and name are regular expressions. Version is a semantic version
// constraint when it starts with a comparison (">=1.2, <2"), otherwise a
// regular expression. MATCHES matches when every given part matches and
// NO_MATCH is its negation.
type CoordinatesEvaluator struct {
	guard
	patterns patternCache
}

// NewCoordinatesEvaluator creates a COORDINATES subject evaluator
func NewCoordinatesEvaluator(logger *slog.Logger) *CoordinatesEvaluator {
	return &CoordinatesEvaluator{guard: newGuard(types.SubjectCoordinates, logger, types.OperatorMatches, types.OperatorNoMatch)}
}

// Evaluate implements ConditionEvaluator
func (e *CoordinatesEvaluator) Evaluate(cond *types.PolicyCondition, component *types.Component) bool {
	if !e.applies(cond, component) {
		return false
	}
	value, err := parseCoordinates(cond.Value)
	if err != nil {
		return e.malformed(cond, err)
	}
	matched, err := e.match(value, component)
	if err != nil {
		return e.malformed(cond, err)
	}
	if cond.Operator == types.OperatorMatches {
		return matched
	}
	return !matched
}

// ValidateValue implements ValueValidator
func (e *CoordinatesEvaluator) ValidateValue(cond *types.PolicyCondition) error {
	value, err := parseCoordinates(cond.Value)
	if err != nil {
		return err
	}
	_, err = e.match(value, &types.Component{})
	return err
}

func (e *CoordinatesEvaluator) match(value coordinatesValue, component *types.Component) (bool, error) {
	matched := true
	for _, part := range []struct{ pattern, actual string }{
		{value.Group, component.Group},
		{value.Name, component.Name},
	} {
		if part.pattern == "" {
			continue
		}
		re, err := e.patterns.compile(part.pattern)
		if err != nil {
			return false, err
		}
		if !re.MatchString(part.actual) {
			matched = false
		}
	}
	if value.Version == "" {
		return matched, nil
	}
	versionMatched, err := e.matchVersion(value.Version, component.Version)
	if err != nil {
		return false, err
	}
	return matched && versionMatched, nil
}

func (e *CoordinatesEvaluator) matchVersion(want, have string) (bool, error) {
	if isVersionConstraint(want) {
		constraint, err := semver.NewConstraint(want)
		if err != nil {
			return false, err
		}
		v, err := semver.NewVersion(have)
		if err != nil {
			return false, nil
		}
		return constraint.Check(v), nil
	}
	re, err := e.patterns.compile(want)
	if err != nil {
		return false, err
	}
	return re.MatchString(have), nil
}

func isVersionConstraint(s string) bool {
	return strings.ContainsAny(s[:1], "<>=!~^")
}

func parseCoordinates(raw string) (coordinatesValue, error) {
	var value coordinatesValue
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return coordinatesValue{}, err
	}
	if value.Group == "" && value.Name == "" && value.Version == "" {
		return coordinatesValue{}, fmt.Errorf("at least one of group, name or version is required")
	}
	return value, nil
}
