package archive

import (
	"database/sql"
	"fmt"
	"time"
)

// migrations holds every schema step in apply order. The version of a step
// is its position plus one; step 1 creates the base tables and later steps
// alter them in place. Append only.
var migrations = []func(tx *sql.Tx) error{
	createBaseSchema,
	addStepDurationColumn,
}

// Migrate brings the database up to the latest schema version, applying
// each pending step in its own transaction on the writer connection.
func (a *Archive) Migrate() error {
	// The version bookkeeping table has to exist before it can be read.
	if _, err := a.writer.Exec(schemaMigrations); err != nil {
		return fmt.Errorf("archive: create migrations table: %w", err)
	}

	applied, err := a.schemaVersion()
	if err != nil {
		return fmt.Errorf("archive: read schema version: %w", err)
	}

	for i, step := range migrations {
		version := i + 1
		if version <= applied {
			continue
		}
		if err := a.runMigration(version, step); err != nil {
			return fmt.Errorf("archive: migration v%d: %w", version, err)
		}
	}
	return nil
}

// schemaVersion returns the highest applied migration version, zero when
// the database is fresh.
func (a *Archive) schemaVersion() (int, error) {
	var v int
	if err := a.writer.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (a *Archive) runMigration(version int, step func(*sql.Tx) error) error {
	tx, err := a.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := step(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO migrations (version, applied_at) VALUES (?, ?)",
		version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func createBaseSchema(tx *sql.Tx) error {
	for _, ddl := range allSchemas {
		if _, err := tx.Exec(ddl); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

func addStepDurationColumn(tx *sql.Tx) error {
	_, err := tx.Exec("ALTER TABLE step_runs ADD COLUMN duration_ms INTEGER NOT NULL DEFAULT 0")
	return err
}
