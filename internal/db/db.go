package db

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/ameistad/shipyard/internal/constants"
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

type DB struct {
	*sql.DB
}

// New opens the run history database in dbPath and applies migrations.
func New(dbPath string) (*DB, error) {
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}
	dbFile := filepath.Join(dbPath, constants.DBFileName)
	database, err := sql.Open(driverName, dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := database.Exec(pragma); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{database}
	if err := db.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return db, nil
}
