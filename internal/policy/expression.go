package policy

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/daimoniac/vigil/internal/types"
	"github.com/google/cel-go/cel"
)

// ExpressionEvaluator matches components against a CEL expression that must
// return a boolean. MATCHES matches when the expression is true, NO_MATCH
// when it is false. Expressions that fail to compile or evaluate never match.
//
// Available variables:
//   - component: map with uuid, group, name, version, purl, cpe, swidTagId
//   - license: map with uuid, id, name (empty when unresolved)
//   - vulnerabilities: list of maps with id, source, severity
//   - hashes: map of normalised algorithm to lower-case hex digest
type ExpressionEvaluator struct {
	guard
	env      *cel.Env
	programs sync.Map // expression -> compiledExpression
}

type compiledExpression struct {
	program cel.Program
	err     error
}

// NewExpressionEvaluator creates an EXPRESSION subject evaluator
func NewExpressionEvaluator(logger *slog.Logger) (*ExpressionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("component", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("license", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("vulnerabilities", cel.ListType(cel.MapType(cel.StringType, cel.StringType))),
		cel.Variable("hashes", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &ExpressionEvaluator{
		guard: newGuard(types.SubjectExpression, logger, types.OperatorMatches, types.OperatorNoMatch),
		env:   env,
	}, nil
}

// Evaluate implements ConditionEvaluator
func (e *ExpressionEvaluator) Evaluate(cond *types.PolicyCondition, component *types.Component) bool {
	if !e.applies(cond, component) {
		return false
	}
	program, err := e.compile(cond.Value)
	if err != nil {
		return e.malformed(cond, err)
	}

	out, _, err := program.Eval(expressionInput(component))
	if err != nil {
		e.logger.Warn("failed to evaluate policy expression",
			"condition", cond.UUID.String(),
			"component", component.Coordinates(),
			"expression", cond.Value,
			"error", err)
		return false
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false
	}
	if cond.Operator == types.OperatorMatches {
		return result
	}
	return !result
}

// ValidateValue implements ValueValidator
func (e *ExpressionEvaluator) ValidateValue(cond *types.PolicyCondition) error {
	_, err := e.compile(cond.Value)
	return err
}

func (e *ExpressionEvaluator) compile(expression string) (cel.Program, error) {
	if cached, ok := e.programs.Load(expression); ok {
		c := cached.(compiledExpression)
		return c.program, c.err
	}

	c := compiledExpression{}
	c.program, c.err = e.build(expression)
	e.programs.Store(expression, c)
	return c.program, c.err
}

func (e *ExpressionEvaluator) build(expression string) (cel.Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errEmptyValue
	}
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("policy expression must return a boolean, got %v", ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return program, nil
}

func expressionInput(c *types.Component) map[string]interface{} {
	license := map[string]string{}
	if c.ResolvedLicense != nil {
		license["uuid"] = c.ResolvedLicense.UUIDString()
		license["id"] = c.ResolvedLicense.LicenseID
		license["name"] = c.ResolvedLicense.Name
	}

	vulns := make([]map[string]string, 0, len(c.Vulnerabilities))
	for _, v := range c.Vulnerabilities {
		vulns = append(vulns, map[string]string{
			"id":       v.ID,
			"source":   v.Source,
			"severity": string(v.Severity),
		})
	}

	hashes := make(map[string]string, len(c.Hashes))
	for _, h := range c.Hashes {
		hashes[types.NormalizeHashAlgorithm(h.Algorithm)] = strings.ToLower(h.Value)
	}

	return map[string]interface{}{
		"component": map[string]string{
			"uuid":      c.UUID.String(),
			"group":     c.Group,
			"name":      c.Name,
			"version":   c.Version,
			"purl":      c.PURL,
			"cpe":       c.CPE,
			"swidTagId": c.SWIDTagID,
		},
		"license":         license,
		"vulnerabilities": vulns,
		"hashes":          hashes,
	}
}
