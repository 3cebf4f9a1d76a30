package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/daimoniac/vigil/internal/errors"
	"github.com/daimoniac/vigil/internal/policy"
	"github.com/daimoniac/vigil/internal/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Evaluator evaluates a set of policies against a set of components
// concurrently, one component per goroutine.
type Evaluator struct {
	engine      policy.PolicyEngine
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewEvaluator creates a new evaluator. Concurrency below 1 is treated as 1.
func NewEvaluator(engine policy.PolicyEngine, concurrency int, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Evaluator{
		engine:      engine,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Run evaluates every policy against every component. The result does not
// depend on scheduling: violations are ordered by component, then policy.
// Run stops early and returns the context error when ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context, policies []types.Policy, components []types.Component) (*Report, error) {
	if e.engine == nil {
		return nil, errors.NewPermanentf("policy engine is not configured")
	}

	report := newReport(uuid.New(), e.now(), len(policies), len(components))
	results := make([][]types.PolicyConditionViolation, len(components))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := range components {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			component := &components[i]
			var violations []types.PolicyConditionViolation
			for j := range policies {
				violations = append(violations, e.engine.Evaluate(&policies[j], component)...)
			}
			results[i] = violations
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, errors.NewTransientf("evaluation interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewTransientf("evaluation interrupted: %w", err)
	}

	for _, violations := range results {
		report.add(violations)
	}
	report.FinishedAt = e.now()

	e.logger.Debug("evaluation finished",
		"run_id", report.RunID.String(),
		"policies", report.Policies,
		"components", report.Components,
		"violations", len(report.Violations),
		"duration", report.Duration())

	return report, nil
}
