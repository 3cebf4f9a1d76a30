package statestore

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned by GetLastRun when no run has been recorded yet.
// Callers should use errors.Is() to check for this specific error.
var ErrRunNotFound = errors.New("run not found")

// StateStore defines the interface for persisting and querying evaluation runs
type StateStore interface {
	// RecordRun saves a run together with all of its violations
	RecordRun(ctx context.Context, record *RunRecord) error

	// GetLastRun retrieves the most recent run with its violations
	GetLastRun(ctx context.Context) (*RunRecord, error)

	// ListRuns returns run summaries, newest first, without violations
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// ListViolations searches violations across runs
	ListViolations(ctx context.Context, filter ViolationFilter) ([]*ViolationRecord, error)

	// CleanupExcessRuns keeps only the most recent runs
	CleanupExcessRuns(ctx context.Context, maxRunsToKeep int) error

	// Close releases the underlying storage
	Close() error
}

// StateStoreQuery is implemented by stores that can aggregate recorded
// violations for metrics
type StateStoreQuery interface {
	// CountLatestViolations returns violation counts of the most recent run
	// keyed by state, then type
	CountLatestViolations(ctx context.Context) (map[string]map[string]int, error)

	// ListRuns returns run summaries, newest first
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}

// RunRecord summarises one evaluation of all policies against all components
type RunRecord struct {
	ID             int64
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	PolicyCount    int
	ComponentCount int
	InfoCount      int
	WarnCount      int
	FailCount      int
	Violations     []ViolationRecord
}

// ViolationRecord is a persisted policy condition violation
type ViolationRecord struct {
	RunID         string
	ComponentUUID string
	Component     string // group/name@version
	PolicyUUID    string
	PolicyName    string
	ConditionUUID string // empty for a vacuously satisfied policy
	Subject       string
	Operator      string
	Value         string
	State         string
	Type          string
	OccurredAt    time.Time
}

// ViolationFilter defines criteria for querying violations.
// An empty RunID selects the most recent run only when LatestRun is set.
type ViolationFilter struct {
	RunID         string
	LatestRun     bool
	ComponentUUID string
	PolicyName    string
	State         string
	Type          string
	Limit         int
	Offset        int
}
