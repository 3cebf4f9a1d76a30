package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/daimoniac/vigil/internal/errors"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements StateStore using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite state store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// _foreign_keys=1: Ensures CASCADE DELETE works properly
	// mode=rwc: Read/Write/Create mode
	// _journal_mode=WAL: Write-Ahead Logging allows concurrent readers and a single writer
	// _busy_timeout=3000: Wait up to 3 seconds for locks so metrics scrapes succeed during writes
	connStr := dbPath + "?_foreign_keys=1&mode=rwc&_journal_mode=WAL&_busy_timeout=3000"

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.NewTransientf("failed to open sqlite database: %w", err)
	}

	// WAL mode supports one writer and multiple concurrent readers
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		db.Close()
		return nil, errors.NewTransientf("failed to check foreign keys status: %w", err)
	}
	if fkEnabled != 1 {
		db.Close()
		return nil, errors.NewTransientf("foreign keys are not enabled (got %d, expected 1)", fkEnabled)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewPermanentf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// initSchema creates the database schema with all tables and indexes
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		policy_count INTEGER NOT NULL,
		component_count INTEGER NOT NULL,
		info_count INTEGER NOT NULL,
		warn_count INTEGER NOT NULL,
		fail_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (cast(strftime('%s', 'now') as integer))
	);

	CREATE TABLE IF NOT EXISTS violations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_ref INTEGER NOT NULL,
		component_uuid TEXT NOT NULL,
		component TEXT NOT NULL,
		policy_uuid TEXT NOT NULL,
		policy_name TEXT NOT NULL,
		condition_uuid TEXT,
		subject TEXT,
		operator TEXT,
		value TEXT,
		state TEXT NOT NULL,
		type TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		FOREIGN KEY (run_ref) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_violations_run ON violations(run_ref);
	CREATE INDEX IF NOT EXISTS idx_violations_component ON violations(component_uuid);
	CREATE INDEX IF NOT EXISTS idx_violations_policy ON violations(policy_name);
	CREATE INDEX IF NOT EXISTS idx_violations_state ON violations(state);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordRun saves a run and its violations in a transaction
func (s *SQLiteStore) RecordRun(ctx context.Context, record *RunRecord) error {
	if record == nil {
		return errors.NewPermanentf("run record is nil")
	}
	if record.RunID == "" {
		return errors.NewPermanentf("run id is required: %w", errors.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, started_at, finished_at, policy_count, component_count,
			info_count, warn_count, fail_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.RunID, record.StartedAt.Unix(), record.FinishedAt.Unix(), record.PolicyCount, record.ComponentCount,
		record.InfoCount, record.WarnCount, record.FailCount,
	)
	if err != nil {
		return errors.NewTransientf("failed to insert run: %w", err)
	}

	runRef, err := result.LastInsertId()
	if err != nil {
		return errors.NewTransientf("failed to get run ID: %w", err)
	}

	if len(record.Violations) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO violations (
				run_ref, component_uuid, component, policy_uuid, policy_name,
				condition_uuid, subject, operator, value, state, type, occurred_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return errors.NewTransientf("failed to prepare violation statement: %w", err)
		}
		defer stmt.Close()

		for _, v := range record.Violations {
			_, err := stmt.ExecContext(ctx,
				runRef, v.ComponentUUID, v.Component, v.PolicyUUID, v.PolicyName,
				v.ConditionUUID, v.Subject, v.Operator, v.Value, v.State, v.Type, v.OccurredAt.Unix(),
			)
			if err != nil {
				return errors.NewTransientf("failed to insert violation: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientf("failed to commit transaction: %w", err)
	}

	record.ID = runRef
	return nil
}

const runColumns = `
	r.id, r.run_id, r.started_at, r.finished_at, r.policy_count, r.component_count,
	r.info_count, r.warn_count, r.fail_count
`

func scanRun(row interface{ Scan(...interface{}) error }) (*RunRecord, error) {
	var record RunRecord
	var startedAt, finishedAt int64
	err := row.Scan(
		&record.ID, &record.RunID, &startedAt, &finishedAt, &record.PolicyCount, &record.ComponentCount,
		&record.InfoCount, &record.WarnCount, &record.FailCount,
	)
	if err != nil {
		return nil, err
	}
	record.StartedAt = time.Unix(startedAt, 0).UTC()
	record.FinishedAt = time.Unix(finishedAt, 0).UTC()
	return &record, nil
}

// GetLastRun retrieves the most recent run with its violations
func (s *SQLiteStore) GetLastRun(ctx context.Context) (*RunRecord, error) {
	record, err := scanRun(s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs r
		ORDER BY r.started_at DESC, r.id DESC
		LIMIT 1
	`))
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query run: %w", err)
	}

	violations, err := s.ListViolations(ctx, ViolationFilter{RunID: record.RunID})
	if err != nil {
		return nil, err
	}
	record.Violations = make([]ViolationRecord, 0, len(violations))
	for _, v := range violations {
		record.Violations = append(record.Violations, *v)
	}

	return record, nil
}

// ListRuns returns run summaries, newest first.
// Violations are not loaded; use GetLastRun or ListViolations for details.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs r
		ORDER BY r.started_at DESC, r.id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, errors.NewTransientf("failed to scan run: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating rows: %w", err)
	}

	return records, nil
}

// ListViolations searches violations across runs, in the order they were recorded
func (s *SQLiteStore) ListViolations(ctx context.Context, filter ViolationFilter) ([]*ViolationRecord, error) {
	query := `
		SELECT r.run_id, v.component_uuid, v.component, v.policy_uuid, v.policy_name,
			COALESCE(v.condition_uuid, ''), COALESCE(v.subject, ''), COALESCE(v.operator, ''), COALESCE(v.value, ''),
			v.state, v.type, v.occurred_at
		FROM violations v
		JOIN runs r ON v.run_ref = r.id
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.RunID != "" {
		query += " AND r.run_id = ?"
		args = append(args, filter.RunID)
	} else if filter.LatestRun {
		query += " AND r.id = (SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1)"
	}

	if filter.ComponentUUID != "" {
		query += " AND v.component_uuid = ?"
		args = append(args, filter.ComponentUUID)
	}

	if filter.PolicyName != "" {
		query += " AND v.policy_name = ?"
		args = append(args, filter.PolicyName)
	}

	if filter.State != "" {
		query += " AND v.state = ?"
		args = append(args, filter.State)
	}

	if filter.Type != "" {
		query += " AND v.type = ?"
		args = append(args, filter.Type)
	}

	query += " ORDER BY r.id DESC, v.id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewTransientf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var violations []*ViolationRecord
	for rows.Next() {
		var v ViolationRecord
		var occurredAt int64
		err := rows.Scan(
			&v.RunID, &v.ComponentUUID, &v.Component, &v.PolicyUUID, &v.PolicyName,
			&v.ConditionUUID, &v.Subject, &v.Operator, &v.Value,
			&v.State, &v.Type, &occurredAt,
		)
		if err != nil {
			return nil, errors.NewTransientf("failed to scan violation: %w", err)
		}
		v.OccurredAt = time.Unix(occurredAt, 0).UTC()
		violations = append(violations, &v)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating rows: %w", err)
	}

	return violations, nil
}

// CountLatestViolations returns violation counts of the most recent run,
// keyed by state and then by type. Used by the metrics collector.
func (s *SQLiteStore) CountLatestViolations(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.state, v.type, COUNT(*)
		FROM violations v
		WHERE v.run_ref = (SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1)
		GROUP BY v.state, v.type
	`)
	if err != nil {
		return nil, errors.NewTransientf("failed to count violations: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var state, typ string
		var n int
		if err := rows.Scan(&state, &typ, &n); err != nil {
			return nil, errors.NewTransientf("failed to scan violation count: %w", err)
		}
		if counts[state] == nil {
			counts[state] = make(map[string]int)
		}
		counts[state][typ] = n
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewTransientf("error iterating rows: %w", err)
	}

	return counts, nil
}

// executeCleanup is a helper method for transaction management in cleanup operations
func (s *SQLiteStore) executeCleanup(ctx context.Context, operation func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientf("failed to begin cleanup transaction: %w", err)
	}
	defer tx.Rollback()

	if err := operation(tx); err != nil {
		return err // Error already classified by operation
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientf("failed to commit cleanup transaction: %w", err)
	}

	return nil
}

// CleanupExcessRuns removes all but the most recent maxRunsToKeep runs.
// Violations of removed runs are deleted by cascade.
func (s *SQLiteStore) CleanupExcessRuns(ctx context.Context, maxRunsToKeep int) error {
	if maxRunsToKeep <= 0 {
		return errors.NewPermanentf("maxRunsToKeep must be positive, got %d", maxRunsToKeep)
	}

	return s.executeCleanup(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM runs
			ORDER BY started_at DESC, id DESC
			LIMIT ?
		`, maxRunsToKeep)
		if err != nil {
			return errors.NewTransientf("failed to query runs to keep: %w", err)
		}
		defer rows.Close()

		var keepIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return errors.NewTransientf("failed to scan keep run ID: %w", err)
			}
			keepIDs = append(keepIDs, id)
		}
		if err := rows.Err(); err != nil {
			return errors.NewTransientf("error iterating keep run IDs: %w", err)
		}

		// Fewer runs than the limit, nothing to clean up
		if len(keepIDs) < maxRunsToKeep {
			return nil
		}

		placeholders := make([]string, len(keepIDs))
		args := make([]interface{}, len(keepIDs))
		for i, id := range keepIDs {
			placeholders[i] = "?"
			args[i] = id
		}

		deleteQuery := fmt.Sprintf(`
			DELETE FROM runs WHERE id NOT IN (%s)
		`, strings.Join(placeholders, ","))

		if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
			return errors.NewTransientf("failed to delete excess runs: %w", err)
		}
		return nil
	})
}
