package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcus/paneshift/internal/logging"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: scheduler_state, dispatch_history",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add project column to dispatch_history",
		SQL:         migration002SQL,
	},
}

const migration001SQL = `
CREATE TABLE scheduler_state (
    id             INTEGER PRIMARY KEY CHECK (id = 1),
    state          TEXT NOT NULL,
    paused_workers TEXT NOT NULL DEFAULT '[]',
    updated_at     DATETIME NOT NULL
);

CREATE TABLE dispatch_history (
    id              TEXT PRIMARY KEY,
    seq             INTEGER NOT NULL,
    task_id         TEXT NOT NULL,
    command         TEXT NOT NULL,
    result          TEXT NOT NULL,
    worker_id       INTEGER NOT NULL,
    timestamp       DATETIME NOT NULL,
    captured_output TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_dispatch_history_seq ON dispatch_history(seq DESC);
CREATE INDEX idx_dispatch_history_task ON dispatch_history(task_id);
`

const migration002SQL = `
ALTER TABLE dispatch_history ADD COLUMN project TEXT NOT NULL DEFAULT '';
`

// Migrate runs all pending migrations inside transactions.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at DATETIME)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`, migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		logging.Component("db").InfoCtx("applied migration", map[string]any{
			"version":     migration.Version,
			"description": migration.Description,
		})
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}
