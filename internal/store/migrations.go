package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// daemon_state is created ahead of the versioned migrations because the
// schema version itself lives there. Safe to re-run on every open.
const bootstrapDaemonState = `CREATE TABLE IF NOT EXISTS daemon_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
)`

// runMigrations brings the database up to schemaVersion, one step per
// transaction. A database that is already current is a no-op.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(bootstrapDaemonState); err != nil {
		return fmt.Errorf("bootstrap daemon_state: %w", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		return err
	}

	for version < schemaVersion {
		version++
		if err := applyMigration(db, version); err != nil {
			return err
		}
	}
	return nil
}

// currentVersion reads the recorded schema version; a fresh database is 0.
func currentVersion(db *sql.DB) (int, error) {
	var raw string
	err := db.QueryRow(`SELECT value FROM daemon_state WHERE key = 'schema_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("schema version %q is not a number: %w", raw, err)
	}
	return v, nil
}

// applyMigration runs one schema step and its version bump atomically, so a
// failed step leaves the version pointing at the last fully applied one.
func applyMigration(db *sql.DB, v int) error {
	stmts, ok := migrations[v]
	if !ok {
		return fmt.Errorf("no migration defined for version %d", v)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", v, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(stmts); err != nil {
		return fmt.Errorf("apply migration %d: %w", v, err)
	}

	_, err = tx.Exec(
		`INSERT INTO daemon_state (key, value, updated_at) VALUES ('schema_version', ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		strconv.Itoa(v), time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("record schema version %d: %w", v, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", v, err)
	}
	return nil
}
