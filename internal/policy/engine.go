package policy

import (
	"log/slog"
	"time"

	"github.com/daimoniac/vigil/internal/observability"
	"github.com/daimoniac/vigil/internal/types"
)

// EmptyPolicyMode decides what an ALL policy without conditions produces.
type EmptyPolicyMode string

const (
	// EmptyPolicyNeverMatches makes empty policies produce no violations
	EmptyPolicyNeverMatches EmptyPolicyMode = "never"

	// EmptyPolicyVacuous treats an empty ALL policy as satisfied and produces
	// one violation without a condition. Empty ANY policies still produce none.
	EmptyPolicyVacuous EmptyPolicyMode = "vacuous"
)

// PolicyEngine defines the interface for policy evaluation
type PolicyEngine interface {
	// Evaluate returns the violations the component produces for the policy
	Evaluate(policy *types.Policy, component *types.Component) []types.PolicyConditionViolation
}

// Option configures an Engine
type Option func(*Engine)

// WithEmptyPolicyMode sets the behaviour for ALL policies without conditions
func WithEmptyPolicyMode(mode EmptyPolicyMode) Option {
	return func(e *Engine) {
		e.emptyPolicyMode = mode
	}
}

// WithClock sets the time source used to stamp violations
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithMetrics records evaluation metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine evaluates policies against components by dispatching each condition
// to the evaluator registered for its subject. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	registry        *Registry
	logger          *slog.Logger
	emptyPolicyMode EmptyPolicyMode
	now             func() time.Time
	metrics         *observability.Metrics
}

// NewEngine creates a new policy engine
func NewEngine(registry *Registry, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}

	e := &Engine{
		registry:        registry,
		logger:          logger,
		emptyPolicyMode: EmptyPolicyNeverMatches,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate determines which conditions of the policy the component violates.
//
// Under ANY every matching condition yields its own violation. Under ALL a
// violation is produced for every condition, but only if all of them match.
// Violations are returned in condition order and carry the policy's
// violation state.
func (e *Engine) Evaluate(policy *types.Policy, component *types.Component) []types.PolicyConditionViolation {
	if policy == nil || component == nil {
		return nil
	}

	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.PolicyEvaluations.Inc()
			e.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if policy.Operator != types.PolicyOperatorAny && policy.Operator != types.PolicyOperatorAll {
		e.logger.Warn("skipping policy with unknown operator",
			"policy", policy.Name,
			"operator", policy.Operator)
		return nil
	}

	if len(policy.Conditions) == 0 {
		return e.evaluateEmpty(policy, component)
	}

	timestamp := e.now()
	matched := make([]*types.PolicyCondition, 0, len(policy.Conditions))
	for i := range policy.Conditions {
		cond := &policy.Conditions[i]
		if e.match(cond, component) {
			matched = append(matched, cond)
		} else if policy.Operator == types.PolicyOperatorAll {
			// One non-matching condition vetoes the whole ALL policy.
			return nil
		}
	}

	if len(matched) == 0 {
		return nil
	}

	violations := make([]types.PolicyConditionViolation, 0, len(matched))
	for _, cond := range matched {
		violations = append(violations, types.PolicyConditionViolation{
			Component: component,
			Condition: cond,
			Policy:    policy,
			State:     policy.ViolationState,
			Timestamp: timestamp,
		})
	}
	e.record(violations)
	return violations
}

// EvaluateAll evaluates every policy against the component and concatenates
// the results in policy order. Violations are not deduplicated across policies.
func (e *Engine) EvaluateAll(policies []types.Policy, component *types.Component) []types.PolicyConditionViolation {
	var violations []types.PolicyConditionViolation
	for i := range policies {
		violations = append(violations, e.Evaluate(&policies[i], component)...)
	}
	return violations
}

// match dispatches a single condition. A subject without an evaluator is a
// configuration gap and never matches.
func (e *Engine) match(cond *types.PolicyCondition, component *types.Component) bool {
	ev, ok := e.registry.Lookup(cond.Subject)
	if !ok {
		e.logger.Debug("no evaluator registered for condition subject",
			"subject", cond.Subject,
			"condition", cond.UUID.String())
		if e.metrics != nil {
			e.metrics.ConditionsSkipped.WithLabelValues("no_evaluator").Inc()
		}
		return false
	}
	if e.metrics != nil {
		e.metrics.ConditionEvaluations.WithLabelValues(string(cond.Subject)).Inc()
	}
	return ev.Evaluate(cond, component)
}

func (e *Engine) evaluateEmpty(policy *types.Policy, component *types.Component) []types.PolicyConditionViolation {
	if policy.Operator != types.PolicyOperatorAll || e.emptyPolicyMode != EmptyPolicyVacuous {
		return nil
	}
	violations := []types.PolicyConditionViolation{{
		Component: component,
		Policy:    policy,
		State:     policy.ViolationState,
		Timestamp: e.now(),
	}}
	e.record(violations)
	return violations
}

func (e *Engine) record(violations []types.PolicyConditionViolation) {
	if e.metrics == nil {
		return
	}
	for i := range violations {
		e.metrics.Violations.WithLabelValues(string(violations[i].State), string(violations[i].Type())).Inc()
	}
}
