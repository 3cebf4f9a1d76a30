package statestore

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/daimoniac/vigil/internal/errors"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "vigil_test.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newRunRecord(runID string, startedAt time.Time, violations ...ViolationRecord) *RunRecord {
	record := &RunRecord{
		RunID:          runID,
		StartedAt:      startedAt,
		FinishedAt:     startedAt.Add(2 * time.Second),
		PolicyCount:    2,
		ComponentCount: 3,
	}
	for i := range violations {
		violations[i].RunID = runID
		if violations[i].OccurredAt.IsZero() {
			violations[i].OccurredAt = startedAt
		}
		switch violations[i].State {
		case "INFO":
			record.InfoCount++
		case "WARN":
			record.WarnCount++
		case "FAIL":
			record.FailCount++
		}
	}
	record.Violations = violations
	return record
}

func licenseViolation(component, state string) ViolationRecord {
	return ViolationRecord{
		ComponentUUID: "c-" + component,
		Component:     "org.example/" + component + "@1.0.0",
		PolicyUUID:    "p-licenses",
		PolicyName:    "No copyleft",
		ConditionUUID: "cond-1",
		Subject:       "LICENSE_GROUP",
		Operator:      "IS",
		Value:         "copyleft",
		State:         state,
		Type:          "LICENSE",
	}
}

func securityViolation(component, state string) ViolationRecord {
	return ViolationRecord{
		ComponentUUID: "c-" + component,
		Component:     "org.example/" + component + "@1.0.0",
		PolicyUUID:    "p-security",
		PolicyName:    "No critical vulnerabilities",
		ConditionUUID: "cond-2",
		Subject:       "SEVERITY",
		Operator:      "IS",
		Value:         "CRITICAL",
		State:         state,
		Type:          "SECURITY",
	}
}

func TestSQLiteStore(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("GetLastRun empty", func(t *testing.T) {
		_, err := store.GetLastRun(ctx)
		if !stderrors.Is(err, ErrRunNotFound) {
			t.Fatalf("expected ErrRunNotFound, got %v", err)
		}
	})

	t.Run("RecordRun", func(t *testing.T) {
		first := newRunRecord("run-1", started,
			licenseViolation("widget", "FAIL"),
			securityViolation("widget", "WARN"),
		)
		if err := store.RecordRun(ctx, first); err != nil {
			t.Fatalf("Failed to record run: %v", err)
		}
		if first.ID == 0 {
			t.Errorf("expected database id to be set on the record")
		}

		vacuous := licenseViolation("gadget", "INFO")
		vacuous.ConditionUUID, vacuous.Subject, vacuous.Operator, vacuous.Value = "", "", "", ""
		vacuous.Type = "OPERATIONAL"
		second := newRunRecord("run-2", started.Add(time.Hour),
			licenseViolation("gadget", "FAIL"),
			vacuous,
		)
		if err := store.RecordRun(ctx, second); err != nil {
			t.Fatalf("Failed to record run: %v", err)
		}
	})

	t.Run("GetLastRun", func(t *testing.T) {
		run, err := store.GetLastRun(ctx)
		if err != nil {
			t.Fatalf("Failed to get last run: %v", err)
		}
		if run.RunID != "run-2" {
			t.Errorf("expected run-2, got %s", run.RunID)
		}
		if !run.StartedAt.Equal(started.Add(time.Hour)) {
			t.Errorf("expected started_at %v, got %v", started.Add(time.Hour), run.StartedAt)
		}
		if run.FailCount != 1 || run.InfoCount != 1 || run.WarnCount != 0 {
			t.Errorf("unexpected counts: info=%d warn=%d fail=%d", run.InfoCount, run.WarnCount, run.FailCount)
		}
		if len(run.Violations) != 2 {
			t.Fatalf("expected 2 violations, got %d", len(run.Violations))
		}
		if run.Violations[0].Component != "org.example/gadget@1.0.0" {
			t.Errorf("expected violations in recorded order, got %s first", run.Violations[0].Component)
		}
		if run.Violations[1].ConditionUUID != "" || run.Violations[1].Type != "OPERATIONAL" {
			t.Errorf("expected vacuous violation without condition, got %+v", run.Violations[1])
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, 0)
		if err != nil {
			t.Fatalf("Failed to list runs: %v", err)
		}
		if len(runs) != 2 || runs[0].RunID != "run-2" || runs[1].RunID != "run-1" {
			t.Fatalf("expected runs newest first, got %d runs", len(runs))
		}
		if runs[0].Violations != nil {
			t.Errorf("list should not load violations")
		}

		limited, err := store.ListRuns(ctx, 1)
		if err != nil {
			t.Fatalf("Failed to list runs: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("expected 1 run with limit, got %d", len(limited))
		}
	})

	t.Run("ListViolations", func(t *testing.T) {
		tests := []struct {
			name   string
			filter ViolationFilter
			want   int
		}{
			{"all runs", ViolationFilter{}, 4},
			{"by run", ViolationFilter{RunID: "run-1"}, 2},
			{"latest run", ViolationFilter{LatestRun: true}, 2},
			{"by state", ViolationFilter{State: "FAIL"}, 2},
			{"by type", ViolationFilter{Type: "SECURITY"}, 1},
			{"by policy", ViolationFilter{PolicyName: "No copyleft"}, 3},
			{"by component", ViolationFilter{ComponentUUID: "c-widget"}, 2},
			{"combined", ViolationFilter{LatestRun: true, State: "FAIL"}, 1},
			{"limit", ViolationFilter{Limit: 3}, 3},
			{"offset", ViolationFilter{Offset: 3}, 1},
			{"no match", ViolationFilter{RunID: "run-9"}, 0},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				violations, err := store.ListViolations(ctx, tt.filter)
				if err != nil {
					t.Fatalf("Failed to list violations: %v", err)
				}
				if len(violations) != tt.want {
					t.Errorf("expected %d violations, got %d", tt.want, len(violations))
				}
			})
		}
	})

	t.Run("CountLatestViolations", func(t *testing.T) {
		counts, err := store.CountLatestViolations(ctx)
		if err != nil {
			t.Fatalf("Failed to count violations: %v", err)
		}
		if counts["FAIL"]["LICENSE"] != 1 || counts["INFO"]["OPERATIONAL"] != 1 {
			t.Errorf("unexpected counts: %v", counts)
		}
		if _, ok := counts["WARN"]; ok {
			t.Errorf("WARN belongs to an older run, got %v", counts)
		}
	})
}

func TestSQLiteStore_RecordRunRejectsInvalid(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	if err := store.RecordRun(ctx, nil); !errors.IsPermanent(err) {
		t.Errorf("expected permanent error for nil record, got %v", err)
	}
	if err := store.RecordRun(ctx, &RunRecord{}); !errors.IsPermanent(err) {
		t.Errorf("expected permanent error for missing run id, got %v", err)
	}

	record := newRunRecord("dup", time.Now())
	if err := store.RecordRun(ctx, record); err != nil {
		t.Fatalf("Failed to record run: %v", err)
	}
	if err := store.RecordRun(ctx, newRunRecord("dup", time.Now())); err == nil {
		t.Errorf("expected error for duplicate run id")
	}
}

func TestSQLiteStore_CleanupExcessRuns(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		record := newRunRecord(fmt.Sprintf("run-%d", i), started.Add(time.Duration(i)*time.Hour),
			licenseViolation(fmt.Sprintf("component-%d", i), "FAIL"))
		if err := store.RecordRun(ctx, record); err != nil {
			t.Fatalf("Failed to record run %d: %v", i, err)
		}
	}

	if err := store.CleanupExcessRuns(ctx, 0); !errors.IsPermanent(err) {
		t.Errorf("expected permanent error for non-positive limit, got %v", err)
	}

	if err := store.CleanupExcessRuns(ctx, 2); err != nil {
		t.Fatalf("Failed to clean up runs: %v", err)
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-4" || runs[1].RunID != "run-3" {
		t.Fatalf("expected the two newest runs to remain, got %d", len(runs))
	}

	violations, err := store.ListViolations(ctx, ViolationFilter{})
	if err != nil {
		t.Fatalf("Failed to list violations: %v", err)
	}
	if len(violations) != 2 {
		t.Errorf("expected violations of removed runs to cascade, got %d", len(violations))
	}

	// Fewer runs than the limit is a no-op.
	if err := store.CleanupExcessRuns(ctx, 10); err != nil {
		t.Fatalf("Failed to clean up runs: %v", err)
	}
	if runs, _ := store.ListRuns(ctx, 0); len(runs) != 2 {
		t.Errorf("expected 2 runs after no-op cleanup, got %d", len(runs))
	}
}
