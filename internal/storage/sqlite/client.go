package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/tc-validator/backend/internal/storage/models"
	"github.com/tc-validator/backend/pkg/logger"
)

var ErrRunNotFound = errors.New("validation run not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1)

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS validation_runs (
		id TEXT PRIMARY KEY,
		master_store TEXT NOT NULL,
		testcase_store TEXT NOT NULL,
		max_retries INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		exhausted INTEGER NOT NULL DEFAULT 0,
		completeness REAL,
		accuracy REAL,
		total_requirements INTEGER,
		covered INTEGER,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON validation_runs(started_at);

	CREATE TABLE IF NOT EXISTS validation_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		completeness REAL NOT NULL,
		accuracy REAL NOT NULL,
		covered INTEGER NOT NULL,
		missing INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (run_id, attempt),
		FOREIGN KEY (run_id) REFERENCES validation_runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON validation_attempts(run_id);

	CREATE TABLE IF NOT EXISTS missing_requirements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id INTEGER NOT NULL,
		requirement TEXT NOT NULL,
		category TEXT NOT NULL,
		FOREIGN KEY (attempt_id) REFERENCES validation_attempts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_missing_attempt ON missing_requirements(attempt_id);

	CREATE TABLE IF NOT EXISTS system_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		metric_name TEXT NOT NULL,
		metric_value REAL NOT NULL,
		tags TEXT,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_name ON system_metrics(metric_name);
	CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON system_metrics(timestamp);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertRun(ctx context.Context, run *models.ValidationRun) error {
	query := `
		INSERT INTO validation_runs (id, master_store, testcase_store, max_retries, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		run.ID,
		run.MasterStorePath,
		run.TestCaseStorePath,
		run.MaxRetries,
		run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert validation run: %w", err)
	}

	logger.Debug("Validation run recorded", zap.String("run_id", run.ID))
	return nil
}

func (c *Client) FinishRun(ctx context.Context, run *models.ValidationRun) error {
	query := `
		UPDATE validation_runs
		SET attempts = ?, passed = ?, exhausted = ?, completeness = ?, accuracy = ?,
			total_requirements = ?, covered = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	finishedAt := time.Now()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}

	res, err := c.db.ExecContext(ctx, query,
		run.Attempts,
		boolToInt(run.Passed),
		boolToInt(run.Exhausted),
		run.Completeness,
		run.Accuracy,
		run.TotalRequirements,
		run.Covered,
		nullString(run.Error),
		finishedAt.UnixMilli(),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish validation run: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to finish validation run %s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

// InsertAttempt stores one validation pass together with its missing
// requirements.
func (c *Client) InsertAttempt(ctx context.Context, attempt *models.ValidationAttempt) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO validation_attempts (run_id, attempt, completeness, accuracy, covered, missing, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		attempt.RunID,
		attempt.Attempt,
		attempt.Completeness,
		attempt.Accuracy,
		attempt.Covered,
		len(attempt.Missing),
		attempt.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert validation attempt: %w", err)
	}

	attemptID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read attempt id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO missing_requirements (attempt_id, requirement, category) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare missing insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range attempt.Missing {
		if _, err := stmt.ExecContext(ctx, attemptID, m.Requirement, m.Category); err != nil {
			return fmt.Errorf("failed to insert missing requirement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attempt: %w", err)
	}
	return nil
}

const runColumns = `id, master_store, testcase_store, max_retries, attempts, passed, exhausted,
	completeness, accuracy, total_requirements, covered, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.ValidationRun, error) {
	var run models.ValidationRun
	var passed, exhausted int
	var completeness, accuracy sql.NullFloat64
	var total, covered sql.NullInt64
	var errText sql.NullString
	var startedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(
		&run.ID,
		&run.MasterStorePath,
		&run.TestCaseStorePath,
		&run.MaxRetries,
		&run.Attempts,
		&passed,
		&exhausted,
		&completeness,
		&accuracy,
		&total,
		&covered,
		&errText,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Passed = passed == 1
	run.Exhausted = exhausted == 1
	run.Completeness = completeness.Float64
	run.Accuracy = accuracy.Float64
	run.TotalRequirements = int(total.Int64)
	run.Covered = int(covered.Int64)
	run.Error = errText.String
	run.StartedAt = time.UnixMilli(startedAt)
	if finishedAt.Valid {
		t := time.UnixMilli(finishedAt.Int64)
		run.FinishedAt = &t
	}

	return &run, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (*models.ValidationRun, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM validation_runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get validation run: %w", err)
	}
	return run, nil
}

// ListRuns returns the newest runs first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.ValidationRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM validation_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ValidationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			logger.Warn("Failed to scan validation run", zap.Error(err))
			continue
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

func (c *Client) GetAttempts(ctx context.Context, runID string) ([]models.ValidationAttempt, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, run_id, attempt, completeness, accuracy, covered, created_at
		FROM validation_attempts
		WHERE run_id = ?
		ORDER BY attempt
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get attempts: %w", err)
	}

	var attempts []models.ValidationAttempt
	var ids []int64
	for rows.Next() {
		var a models.ValidationAttempt
		var id, createdAt int64
		if err := rows.Scan(&id, &a.RunID, &a.Attempt, &a.Completeness, &a.Accuracy, &a.Covered, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdAt)
		a.Missing = []models.MissingEntry{}
		attempts = append(attempts, a)
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attempts: %w", err)
	}

	for i, id := range ids {
		missing, err := c.missingFor(ctx, id)
		if err != nil {
			return nil, err
		}
		attempts[i].Missing = missing
	}

	return attempts, nil
}

func (c *Client) missingFor(ctx context.Context, attemptID int64) ([]models.MissingEntry, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT requirement, category FROM missing_requirements WHERE attempt_id = ? ORDER BY id`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get missing requirements: %w", err)
	}
	defer rows.Close()

	missing := []models.MissingEntry{}
	for rows.Next() {
		var m models.MissingEntry
		if err := rows.Scan(&m.Requirement, &m.Category); err != nil {
			return nil, fmt.Errorf("failed to scan missing requirement: %w", err)
		}
		missing = append(missing, m)
	}
	return missing, rows.Err()
}

func (c *Client) RecordMetric(ctx context.Context, metricName string, value float64, tags map[string]string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO system_metrics (metric_name, metric_value, tags, timestamp) VALUES (?, ?, ?, ?)`,
		metricName, value, string(tagsJSON), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

func (c *Client) GetMetrics(ctx context.Context, metricName string, limit int) ([]models.SystemMetric, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, metric_name, metric_value, tags, timestamp
		FROM system_metrics
		WHERE metric_name = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, metricName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}
	defer rows.Close()

	var out []models.SystemMetric
	for rows.Next() {
		var m models.SystemMetric
		var tags sql.NullString
		var ts int64
		if err := rows.Scan(&m.ID, &m.MetricName, &m.MetricValue, &tags, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		m.Tags = tags.String
		m.Timestamp = time.UnixMilli(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
