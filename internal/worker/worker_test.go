package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daimoniac/vigil/internal/catalog"
	"github.com/daimoniac/vigil/internal/errors"
	"github.com/daimoniac/vigil/internal/observability"
	"github.com/daimoniac/vigil/internal/policy"
	"github.com/daimoniac/vigil/internal/statestore"
	"github.com/daimoniac/vigil/internal/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testCatalog = `
licenses:
  - licenseId: GPL-3.0-only
  - licenseId: MIT

licenseGroups:
  - name: Copyleft
    licenses: [GPL-3.0-only]

policies:
  - name: No copyleft
    violationState: FAIL
    conditions:
      - subject: LICENSE_GROUP
        operator: IS
        value: Copyleft
  - name: Vulnerable log4j
    operator: ALL
    violationState: WARN
    conditions:
      - subject: COORDINATES
        operator: MATCHES
        value: '{"group":"org.apache.logging.log4j","name":"log4j-core"}'
      - subject: VERSION
        operator: NUMERIC_LESS_THAN
        value: "2.17.0"

components:
  - group: org.apache.logging.log4j
    name: log4j-core
    version: 2.14.1
    license: MIT
  - name: readline
    version: 8.1.0
    license: GPL-3.0-only
  - name: left-pad
    version: 1.3.0
    license: MIT
`

func parseTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("Failed to parse catalog: %v", err)
	}
	return cat
}

func staticSource(cat *catalog.Catalog) Source {
	return SourceFunc(func(ctx context.Context) (*catalog.Catalog, error) {
		return cat, nil
	})
}

func createTestStore(t *testing.T) *statestore.SQLiteStore {
	t.Helper()
	store, err := statestore.NewSQLiteStore(filepath.Join(t.TempDir(), "worker_test.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func TestRunOnce(t *testing.T) {
	store := createTestStore(t)
	health := observability.NewHealthChecker(observability.NewLogger("error"))
	w := NewCatalogWorker(staticSource(parseTestCatalog(t)), store, health, testConfig(), observability.NewLogger("error"))

	metrics := observability.GetMetrics()
	runsBefore := testutil.ToFloat64(metrics.RunsTotal)

	report, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if report.Policies != 2 || report.Components != 3 {
		t.Errorf("Expected 2 policies and 3 components, got %d and %d", report.Policies, report.Components)
	}
	if len(report.Violations) != 3 {
		t.Fatalf("Expected 3 violations, got %d", len(report.Violations))
	}

	want := []struct {
		component string
		subject   types.Subject
		state     types.ViolationState
	}{
		{"log4j-core", types.SubjectCoordinates, types.ViolationStateWarn},
		{"log4j-core", types.SubjectVersion, types.ViolationStateWarn},
		{"readline", types.SubjectLicenseGroup, types.ViolationStateFail},
	}
	for i, w := range want {
		v := report.Violations[i]
		if v.Component.Name != w.component || v.Condition.Subject != w.subject || v.State != w.state {
			t.Errorf("violation %d: got %s/%s/%s, want %s/%s/%s", i,
				v.Component.Name, v.Condition.Subject, v.State, w.component, w.subject, w.state)
		}
	}

	if !report.HasFailures() {
		t.Error("Expected report to have failures")
	}
	if report.Count(types.ViolationStateWarn) != 2 {
		t.Errorf("Expected 2 WARN violations, got %d", report.Count(types.ViolationStateWarn))
	}

	if got := testutil.ToFloat64(metrics.RunsTotal) - runsBefore; got != 1 {
		t.Errorf("Expected RunsTotal to grow by 1, got %f", got)
	}
	if testutil.ToFloat64(metrics.LastRunComponents) != 3 {
		t.Errorf("Expected LastRunComponents 3, got %f", testutil.ToFloat64(metrics.LastRunComponents))
	}

	last, err := store.GetLastRun(context.Background())
	if err != nil {
		t.Fatalf("Expected persisted run: %v", err)
	}
	if last.RunID != report.RunID.String() {
		t.Errorf("Expected persisted run %s, got %s", report.RunID, last.RunID)
	}
	if last.FailCount != 1 || last.WarnCount != 2 || len(last.Violations) != 3 {
		t.Errorf("Unexpected persisted run: %+v", last)
	}

	if !health.IsReady() {
		t.Errorf("Expected ready after a successful run, got %+v", health.GetHealth())
	}
}

func TestRunOnce_WithoutStateStore(t *testing.T) {
	w := NewCatalogWorker(staticSource(parseTestCatalog(t)), nil, nil, testConfig(), nil)

	report, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(report.Violations) != 3 {
		t.Errorf("Expected 3 violations, got %d", len(report.Violations))
	}
}

func TestRunOnce_DiagnosticsAndWarnings(t *testing.T) {
	cat, err := catalog.Parse([]byte(`
policies:
  - name: Broken
    conditions:
      - subject: VERSION
        operator: NUMERIC_LESS_THAN
        value: not-a-version
  - name: Empty
    operator: ALL
components:
  - name: lonely
    license: Unknown-1.0
`))
	if err != nil {
		t.Fatalf("Failed to parse catalog: %v", err)
	}

	w := NewCatalogWorker(staticSource(cat), nil, nil, testConfig(), nil,
		policy.WithEmptyPolicyMode(policy.EmptyPolicyVacuous))

	report, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if len(report.Diagnostics) != 2 {
		t.Errorf("Expected 2 diagnostics, got %v", report.Diagnostics)
	}
	if len(report.Warnings) != 1 {
		t.Errorf("Expected 1 catalog warning, got %v", report.Warnings)
	}

	// The vacuous ALL policy produces a single violation without a condition
	if len(report.Violations) != 1 || report.Violations[0].Condition != nil {
		t.Fatalf("Expected one vacuous violation, got %+v", report.Violations)
	}
	if report.Violations[0].Type() != types.ViolationTypeOperational {
		t.Errorf("Expected OPERATIONAL type, got %s", report.Violations[0].Type())
	}
}

func TestRunOnce_RetriesTransientLoadErrors(t *testing.T) {
	cat := parseTestCatalog(t)
	var attempts atomic.Int32
	source := SourceFunc(func(ctx context.Context) (*catalog.Catalog, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.NewTransientf("catalog temporarily unavailable")
		}
		return cat, nil
	})

	w := NewCatalogWorker(source, nil, nil, testConfig(), nil)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts.Load())
	}
}

func TestRunOnce_LoadErrors(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantAttempts int32
	}{
		{
			name:         "permanent error is not retried",
			err:          errors.NewPermanentf("malformed catalog: %w", errors.ErrInvalidInput),
			wantAttempts: 1,
		},
		{
			name:         "transient error exhausts retries",
			err:          errors.NewTransientf("catalog temporarily unavailable"),
			wantAttempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			source := SourceFunc(func(ctx context.Context) (*catalog.Catalog, error) {
				attempts.Add(1)
				return nil, tt.err
			})

			health := observability.NewHealthChecker(nil)
			metrics := observability.GetMetrics()
			failedBefore := testutil.ToFloat64(metrics.RunsFailed)
			loadErrorsBefore := testutil.ToFloat64(metrics.CatalogLoadErrors)

			w := NewCatalogWorker(source, nil, health, testConfig(), nil)
			_, err := w.RunOnce(context.Background())
			if !stderrors.Is(err, tt.err) {
				t.Fatalf("Expected %v, got %v", tt.err, err)
			}
			if attempts.Load() != tt.wantAttempts {
				t.Errorf("Expected %d attempts, got %d", tt.wantAttempts, attempts.Load())
			}
			if got := testutil.ToFloat64(metrics.RunsFailed) - failedBefore; got != 1 {
				t.Errorf("Expected RunsFailed to grow by 1, got %f", got)
			}
			if got := testutil.ToFloat64(metrics.CatalogLoadErrors) - loadErrorsBefore; got != 1 {
				t.Errorf("Expected CatalogLoadErrors to grow by 1, got %f", got)
			}
			if status := health.GetHealth().Components[observability.ComponentCatalog].Status; status != observability.StatusUnhealthy {
				t.Errorf("Expected unhealthy catalog, got %s", status)
			}
		})
	}
}

func TestRunOnce_NoSource(t *testing.T) {
	w := NewCatalogWorker(nil, nil, nil, testConfig(), nil)
	_, err := w.RunOnce(context.Background())
	if !errors.IsPermanent(err) {
		t.Errorf("Expected permanent error, got %v", err)
	}
}

func TestRunOnce_KeepsConfiguredRuns(t *testing.T) {
	store := createTestStore(t)
	cfg := testConfig()
	cfg.KeepRuns = 2

	w := NewCatalogWorker(staticSource(parseTestCatalog(t)), store, nil, cfg, nil)
	for i := 0; i < 4; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	runs, err := store.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected 2 kept runs, got %d", len(runs))
	}
}

func TestStart_SingleRun(t *testing.T) {
	loadErr := errors.NewPermanentf("broken catalog")
	w := NewCatalogWorker(SourceFunc(func(ctx context.Context) (*catalog.Catalog, error) {
		return nil, loadErr
	}), nil, nil, testConfig(), nil)

	if err := w.Start(context.Background()); !stderrors.Is(err, loadErr) {
		t.Errorf("Expected single run error to be returned, got %v", err)
	}
}

func TestStart_IntervalAndTrigger(t *testing.T) {
	cat := parseTestCatalog(t)
	loads := make(chan struct{}, 10)
	source := SourceFunc(func(ctx context.Context) (*catalog.Catalog, error) {
		loads <- struct{}{}
		return cat, nil
	})

	cfg := testConfig()
	cfg.Interval = time.Hour
	w := NewCatalogWorker(source, nil, nil, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	waitForLoad := func(what string) {
		t.Helper()
		select {
		case <-loads:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", what)
		}
	}

	waitForLoad("initial run")

	// Retry until the trigger lands; the loop may still be finishing the first run
	deadline := time.After(5 * time.Second)
	for !w.Trigger() {
		select {
		case <-deadline:
			t.Fatal("trigger was never accepted")
		case <-time.After(10 * time.Millisecond):
		}
	}
	waitForLoad("triggered run")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestTrigger_Coalesces(t *testing.T) {
	w := NewCatalogWorker(nil, nil, nil, testConfig(), nil)
	if !w.Trigger() {
		t.Fatal("Expected first trigger to be accepted")
	}
	if w.Trigger() {
		t.Error("Expected second trigger to coalesce with the pending one")
	}
}

func TestRunOnce_UnreadableCatalogNotRetried(t *testing.T) {
	file := FileSource(t.TempDir())
	var attempts atomic.Int32
	source := SourceFunc(func(ctx context.Context) (*catalog.Catalog, error) {
		attempts.Add(1)
		return file.Load(ctx)
	})

	w := NewCatalogWorker(source, nil, nil, testConfig(), nil)
	_, err := w.RunOnce(context.Background())
	if !errors.IsPermanent(err) {
		t.Fatalf("Expected permanent error for a directory, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts.Load())
	}
}

func TestFileSource(t *testing.T) {
	_, err := FileSource(filepath.Join(t.TempDir(), "missing.yml")).Load(context.Background())
	if !errors.IsTransient(err) {
		t.Errorf("Expected transient error for a missing file, got %v", err)
	}
}

func ExampleSourceFunc() {
	source := SourceFunc(func(ctx context.Context) (*catalog.Catalog, error) {
		return catalog.Parse([]byte("components: [{name: widget}]"))
	})
	cat, _ := source.Load(context.Background())
	fmt.Println(cat.Components[0].Name)
	// Output: widget
}
