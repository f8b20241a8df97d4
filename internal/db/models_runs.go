package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Run struct {
	ID         string
	Env        string
	Kind       string
	Target     string
	Revision   string
	Status     string
	FailedStep string
	Error      string
	LogPath    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Steps      []Step
}

type Step struct {
	Name     string
	Status   string
	Detail   string
	Duration time.Duration
}

// ErrNotFound is returned when no run matches a lookup.
var ErrNotFound = errors.New("run not found")

// SaveRun inserts or replaces run together with its steps.
func (db *DB) SaveRun(run Run) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT OR REPLACE INTO runs
              (id, env, kind, target, revision, status, failed_step, error, log_path, started_at, finished_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	if _, err := tx.Exec(query, run.ID, run.Env, run.Kind, run.Target, run.Revision, run.Status,
		run.FailedStep, run.Error, run.LogPath, run.StartedAt.UTC(), finished); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM run_steps WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear run steps: %w", err)
	}
	for i, step := range run.Steps {
		if _, err := tx.Exec(`INSERT INTO run_steps (run_id, position, name, status, detail, duration_ms)
                              VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, i, step.Name, step.Status, step.Detail, step.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("failed to save step %s: %w", step.Name, err)
		}
	}
	return tx.Commit()
}

func (db *DB) GetRun(id string) (Run, error) {
	rows, err := db.Query(runSelect+` WHERE id = ?`, id)
	if err != nil {
		return Run{}, err
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}
	run := runs[0]
	if run.Steps, err = db.steps(run.ID); err != nil {
		return Run{}, err
	}
	return run, nil
}

// RunHistory returns the newest runs for env, newest first, without steps.
func (db *DB) RunHistory(env string, limit int) ([]Run, error) {
	rows, err := db.Query(runSelect+` WHERE env = ? ORDER BY id DESC LIMIT ?`, env, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	return scanRuns(rows)
}

// LastSuccessfulRevision returns the revision of the newest run for env that
// completed, with or without warnings.
func (db *DB) LastSuccessfulRevision(env string) (string, bool, error) {
	var revision string
	err := db.QueryRow(`SELECT revision FROM runs
                        WHERE env = ? AND revision != '' AND status IN ('success', 'succeeded_with_warnings')
                        ORDER BY id DESC LIMIT 1`, env).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query last revision: %w", err)
	}
	return revision, true, nil
}

// PruneRuns keeps the newest keep runs for env and deletes the rest.
// IDs are ULIDs, so ordering by id orders by start time.
func (db *DB) PruneRuns(env string, keep int) (int64, error) {
	query := `
        DELETE FROM runs
        WHERE env = ?
        AND id NOT IN (
            SELECT id FROM runs
            WHERE env = ?
            ORDER BY id DESC
            LIMIT ?
        )
    `
	result, err := db.Exec(query, env, env, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune old runs: %w", err)
	}
	pruned, _ := result.RowsAffected()
	return pruned, nil
}

const runSelect = `SELECT id, env, kind, target, revision, status, failed_step, error, log_path, started_at, finished_at FROM runs`

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.Env, &run.Kind, &run.Target, &run.Revision, &run.Status,
			&run.FailedStep, &run.Error, &run.LogPath, &run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (db *DB) steps(runID string) ([]Step, error) {
	rows, err := db.Query(`SELECT name, status, detail, duration_ms FROM run_steps WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()
	var steps []Step
	for rows.Next() {
		var step Step
		var ms int64
		if err := rows.Scan(&step.Name, &step.Status, &step.Detail, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.Duration = time.Duration(ms) * time.Millisecond
		steps = append(steps, step)
	}
	return steps, rows.Err()
}
