package db

import (
	"fmt"
	"os"

	"github.com/ameistad/shipyard/internal/constants"
)

func ensureDir(path string) error {
	if err := os.MkdirAll(path, constants.ModeDirPrivate); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func (db *DB) Migrate() error {
	if err := createRunsTable(db); err != nil {
		return err
	}
	return createStepsTable(db)
}

func createRunsTable(db *DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,                    -- ULID, sorts by start time
    env TEXT NOT NULL,
    kind TEXT NOT NULL,                     -- deploy or rollback
    target TEXT NOT NULL,
    revision TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    failed_step TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    log_path TEXT NOT NULL DEFAULT '',
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_env ON runs(env);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	return nil
}

func createStepsTable(db *DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS run_steps (
    run_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (run_id, position),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create run_steps table: %w", err)
	}
	return nil
}
