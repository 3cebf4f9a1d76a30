package policy

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/daimoniac/vigil/internal/errors"
	"github.com/daimoniac/vigil/internal/types"
)

// Registry maps condition subjects to their evaluators.
//
// Lookups read an immutable snapshot and never block. Register copies the
// current snapshot, adds the evaluator and publishes the copy, so in-flight
// evaluations never observe a partially updated table. The intended
// lifecycle is populate at startup, then read only. The zero value is an
// empty registry.
type Registry struct {
	mu       sync.Mutex // serialises writers
	snapshot atomic.Pointer[map[types.Subject]ConditionEvaluator]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[types.Subject]ConditionEvaluator)
	r.snapshot.Store(&empty)
	return r
}

// Register adds an evaluator for the subject it reports, replacing any
// evaluator previously registered for that subject.
func (r *Registry) Register(ev ConditionEvaluator) error {
	if ev == nil {
		return errors.NewPermanentf("evaluator cannot be nil: %w", errors.ErrInvalidInput)
	}
	subject := ev.Subject()
	if !subject.Valid() {
		return errors.NewPermanentf("unknown evaluator subject %q: %w", subject, errors.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.table()
	next := make(map[types.Subject]ConditionEvaluator, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[subject] = ev
	r.snapshot.Store(&next)
	return nil
}

// MustRegister is like Register but panics on error. For startup wiring only.
func (r *Registry) MustRegister(evaluators ...ConditionEvaluator) {
	for _, ev := range evaluators {
		if err := r.Register(ev); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the evaluator registered for the subject, if any.
// A nil registry holds no evaluators.
func (r *Registry) Lookup(subject types.Subject) (ConditionEvaluator, bool) {
	ev, ok := r.table()[subject]
	return ev, ok
}

// Subjects returns the registered subjects in sorted order.
func (r *Registry) Subjects() []types.Subject {
	current := r.table()
	subjects := make([]types.Subject, 0, len(current))
	for s := range current {
		subjects = append(subjects, s)
	}
	slices.Sort(subjects)
	return subjects
}

// table returns the current snapshot, nil when nothing was registered yet
func (r *Registry) table() map[types.Subject]ConditionEvaluator {
	if r == nil {
		return nil
	}
	if current := r.snapshot.Load(); current != nil {
		return *current
	}
	return nil
}

// DefaultRegistry returns a registry holding the built-in evaluator for
// every known subject.
func DefaultRegistry(groups LicenseGroupResolver, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	expression, err := NewExpressionEvaluator(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression evaluator: %w", err)
	}

	r := NewRegistry()
	r.MustRegister(
		NewLicenseEvaluator(logger),
		NewLicenseGroupEvaluator(groups, logger),
		NewCoordinatesEvaluator(logger),
		NewPackageURLEvaluator(logger),
		NewCPEEvaluator(logger),
		NewSWIDTagIDEvaluator(logger),
		NewVersionEvaluator(logger),
		NewComponentHashEvaluator(logger),
		NewSeverityEvaluator(logger),
		NewVulnerabilityIDEvaluator(logger),
		expression,
	)

	logger.Debug("policy evaluators registered",
		"subjects", len(r.Subjects()))

	return r, nil
}
