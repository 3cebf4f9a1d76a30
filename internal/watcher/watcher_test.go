package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daimoniac/vigil/internal/errors"
	"github.com/daimoniac/vigil/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type countingTrigger struct {
	calls atomic.Int32
}

func (c *countingTrigger) Trigger() bool {
	c.calls.Add(1)
	return true
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.yml")
	writeFile(t, path, "policies: []\n")

	trigger := &countingTrigger{}
	w := NewWatcher(path, trigger, Config{PollInterval: time.Minute}, nil)
	ctx := context.Background()
	changesBefore := testutil.ToFloat64(observability.GetMetrics().CatalogChanges)

	steps := []struct {
		name        string
		content     string
		wantChanged bool
	}{
		{name: "first observation", wantChanged: false},
		{name: "unchanged", wantChanged: false},
		{name: "modified", content: "policies: []\ncomponents: []\n", wantChanged: true},
		{name: "unchanged after modification", wantChanged: false},
		{name: "reverted", content: "policies: []\n", wantChanged: true},
	}

	for _, step := range steps {
		if step.content != "" {
			writeFile(t, path, step.content)
		}
		changed, err := w.Check(ctx)
		if err != nil {
			t.Fatalf("%s: Check failed: %v", step.name, err)
		}
		if changed != step.wantChanged {
			t.Errorf("%s: expected changed=%v, got %v", step.name, step.wantChanged, changed)
		}
	}

	if got := trigger.calls.Load(); got != 2 {
		t.Errorf("Expected 2 triggers, got %d", got)
	}
	if delta := testutil.ToFloat64(observability.GetMetrics().CatalogChanges) - changesBefore; delta != 2 {
		t.Errorf("Expected catalog changes to increase by 2, got %v", delta)
	}
}

func TestCheck_MissingCatalog(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing.yml"), nil, Config{}, nil)

	_, err := w.Check(context.Background())
	if err == nil {
		t.Fatal("Expected error for missing catalog")
	}
	if !errors.IsTransient(err) {
		t.Errorf("Expected transient error, got %v", err)
	}
}

func TestCheck_NilTrigger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.yml")
	writeFile(t, path, "a: 1\n")

	w := NewWatcher(path, nil, Config{}, nil)
	if _, err := w.Check(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, "a: 2\n")

	changed, err := w.Check(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("Expected change to be detected without a trigger")
	}
}

func TestCheck_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWatcher("vigil.yml", nil, Config{}, nil)
	if _, err := w.Check(ctx); !errors.IsTransient(err) {
		t.Errorf("Expected transient error, got %v", err)
	}
}

func TestStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.yml")
	writeFile(t, path, "policies: []\n")

	trigger := &countingTrigger{}
	w := NewWatcher(path, trigger, Config{PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, "policies: []\ncomponents: []\n")

	deadline := time.After(2 * time.Second)
	for trigger.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for trigger")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watcher did not stop")
	}
}
