// Package sqlstore implements the persistence.Store contract on top of
// database/sql. Records are stored document-style: a JSON blob per row
// plus a few indexed columns for filtering. SQLite serves single-node
// deployments; PostgreSQL serves shared ones.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/persistence"
)

var _ persistence.Store = (*Store)(nil)

// Store is a SQL-backed persistence.Store.
type Store struct {
	db     *sql.DB
	driver Driver
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_updated_at ON runs (updated_at);
CREATE TABLE IF NOT EXISTS step_results (
	run_id     TEXT NOT NULL,
	step_name  TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (run_id, step_name)
);
`

// Open connects to the database selected by driverName and bootstraps the
// schema. The driver package must have been imported for registration.
func Open(ctx context.Context, driverName, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, persistence.ErrInvalidDSN
	}
	driver, ok := GetDriver(driverName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnknownDriver, driverName)
	}

	db, err := driver.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driverName, err)
	}

	for _, stmt := range splitStatements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to bootstrap %s schema: %w", driverName, err)
		}
	}

	return &Store{db: db, driver: driver}, nil
}

func splitStatements(script string) []string {
	var stmts []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// GetRun implements persistence.Store.
func (s *Store) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	query := s.driver.Rebind(`SELECT data FROM runs WHERE run_id = ?`)

	var data []byte
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	var rec models.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &rec, nil
}

// PutRun implements persistence.Store.
func (s *Store) PutRun(ctx context.Context, rec *models.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", rec.RunID, err)
	}

	query := s.driver.Rebind(`
INSERT INTO runs (run_id, status, data, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
	status = excluded.status,
	data = excluded.data,
	updated_at = excluded.updated_at`)

	_, err = s.db.ExecContext(ctx, query,
		rec.RunID, rec.Status.String(), data, rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", rec.RunID, err)
	}
	return nil
}

// ListRuns implements persistence.Store.
func (s *Store) ListRuns(ctx context.Context, opts ...persistence.ListRunsOption) ([]*models.RunRecord, error) {
	var options persistence.ListRunsOptions
	for _, opt := range opts {
		opt(&options)
	}

	var (
		conds []string
		args  []any
	)
	if len(options.Statuses) > 0 {
		marks := make([]string, len(options.Statuses))
		for i, st := range options.Statuses {
			marks[i] = "?"
			args = append(args, st.String())
		}
		conds = append(conds, fmt.Sprintf("status IN (%s)", strings.Join(marks, ", ")))
	}
	if !options.From.IsZero() {
		conds = append(conds, "updated_at >= ?")
		args = append(args, options.From.UnixMilli())
	}
	if !options.To.IsZero() {
		conds = append(conds, "updated_at < ?")
		args = append(args, options.To.UnixMilli())
	}

	query := `SELECT data FROM runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.driver.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var recs []*models.RunRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		var rec models.RunRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode run row: %w", err)
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// GetStepResult implements persistence.Store.
func (s *Store) GetStepResult(ctx context.Context, runID, stepName string) (*models.StepResult, error) {
	query := s.driver.Rebind(`SELECT data FROM step_results WHERE run_id = ? AND step_name = ?`)

	var data []byte
	err := s.db.QueryRowContext(ctx, query, runID, stepName).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load step result %s/%s: %w", runID, stepName, err)
	}

	var res models.StepResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode step result %s/%s: %w", runID, stepName, err)
	}
	return &res, nil
}

// PutStepResult implements persistence.Store.
func (s *Store) PutStepResult(ctx context.Context, res *models.StepResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode step result %s/%s: %w", res.RunID, res.StepName, err)
	}

	query := s.driver.Rebind(`
INSERT INTO step_results (run_id, step_name, data, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (run_id, step_name) DO UPDATE SET
	data = excluded.data,
	updated_at = excluded.updated_at`)

	_, err = s.db.ExecContext(ctx, query,
		res.RunID, res.StepName, data, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store step result %s/%s: %w", res.RunID, res.StepName, err)
	}
	return nil
}

// DeleteStepResult implements persistence.Store.
func (s *Store) DeleteStepResult(ctx context.Context, runID, stepName string) error {
	query := s.driver.Rebind(`DELETE FROM step_results WHERE run_id = ? AND step_name = ?`)
	if _, err := s.db.ExecContext(ctx, query, runID, stepName); err != nil {
		return fmt.Errorf("failed to delete step result %s/%s: %w", runID, stepName, err)
	}
	return nil
}

// ListStepResults implements persistence.Store.
func (s *Store) ListStepResults(ctx context.Context, runID string) ([]*models.StepResult, error) {
	query := s.driver.Rebind(`SELECT data FROM step_results WHERE run_id = ? ORDER BY step_name`)

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step results for %s: %w", runID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []*models.StepResult
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan step result row: %w", err)
		}
		var res models.StepResult
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("failed to decode step result row: %w", err)
		}
		results = append(results, &res)
	}
	return results, rows.Err()
}

// RemoveOldRuns implements persistence.Store.
func (s *Store) RemoveOldRuns(ctx context.Context, retentionDays int) error {
	if retentionDays < 0 {
		return nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin retention sweep: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	deleteResults := s.driver.Rebind(`
DELETE FROM step_results WHERE run_id IN (
	SELECT run_id FROM runs
	WHERE updated_at < ? AND status NOT IN ('pending', 'running')
)`)
	if _, err := tx.ExecContext(ctx, deleteResults, cutoff); err != nil {
		return fmt.Errorf("failed to sweep step results: %w", err)
	}

	deleteRuns := s.driver.Rebind(`
DELETE FROM runs WHERE updated_at < ? AND status NOT IN ('pending', 'running')`)
	if _, err := tx.ExecContext(ctx, deleteRuns, cutoff); err != nil {
		return fmt.Errorf("failed to sweep runs: %w", err)
	}

	return tx.Commit()
}

// Close implements persistence.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
