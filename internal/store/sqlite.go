package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seantiz/unitybridge/internal/model"

	_ "modernc.org/sqlite"
)

const createLogsTable = `
CREATE TABLE IF NOT EXISTS operation_logs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    line         TEXT NOT NULL,
    created_at   DATETIME NOT NULL
)`

const createLogsIndex = `
CREATE INDEX IF NOT EXISTS idx_operation_logs_op ON operation_logs (operation_id, seq)`

const createResultsTable = `
CREATE TABLE IF NOT EXISTS operation_results (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id      TEXT NOT NULL,
    success           INTEGER NOT NULL,
    value             TEXT,
    error             TEXT,
    execution_time_ms INTEGER NOT NULL,
    late              INTEGER NOT NULL,
    recorded_at       DATETIME NOT NULL
)`

const createResultsIndex = `
CREATE INDEX IF NOT EXISTS idx_operation_results_op ON operation_results (operation_id)`

var migrations = []string{createLogsTable, createLogsIndex, createResultsTable, createResultsIndex}

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each connection to ":memory:" is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertLogLine appends a log line for an operation.
func (s *SQLiteStore) InsertLogLine(ctx context.Context, operationID string, seq int, line string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO operation_logs (operation_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		operationID, seq, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// GetLogLines returns all log lines for an operation ordered by seq ASC.
// It returns an empty slice, never nil, when there are none.
func (s *SQLiteStore) GetLogLines(ctx context.Context, operationID string) ([]model.LogLine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, operation_id, seq, line, created_at FROM operation_logs WHERE operation_id = ? ORDER BY seq ASC, id ASC",
		operationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	lines := []model.LogLine{}
	for rows.Next() {
		var l model.LogLine
		if err := rows.Scan(&l.ID, &l.OperationID, &l.Seq, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}

// RecordResult stores a result reported by the host. r.ID and r.RecordedAt
// are filled in on success.
func (s *SQLiteStore) RecordResult(ctx context.Context, r *model.ResultRecord) error {
	recordedAt := time.Now().UTC()

	var value sql.NullString
	if len(r.Value) > 0 {
		value = sql.NullString{String: string(r.Value), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operation_results (
			operation_id, success, value, error, execution_time_ms, late, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.OperationID, r.Success, value, r.Error, r.ExecutionTimeMS, r.Late, recordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read result id: %w", err)
	}
	r.ID = id
	r.RecordedAt = recordedAt
	return nil
}

// GetResults returns every recorded result for an operation in arrival order.
func (s *SQLiteStore) GetResults(ctx context.Context, operationID string) ([]model.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, operation_id, success, value, error, execution_time_ms, late, recorded_at
		FROM operation_results WHERE operation_id = ? ORDER BY id ASC`,
		operationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	results := []model.ResultRecord{}
	for rows.Next() {
		var (
			r     model.ResultRecord
			value sql.NullString
			errs  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.OperationID, &r.Success, &value, &errs,
			&r.ExecutionTimeMS, &r.Late, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if value.Valid {
			r.Value = []byte(value.String)
		}
		r.Error = errs.String
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// CountLateResults returns how many results arrived after their operation
// had already completed.
func (s *SQLiteStore) CountLateResults(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM operation_results WHERE late = 1",
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count late results: %w", err)
	}
	return n, nil
}
