package store

import (
	"database/sql"
	"fmt"
)

// schemaStep is one versioned schema change. The applied version lives in
// SQLite's user_version pragma.
type schemaStep struct {
	version int
	name    string
	up      string
	down    string
}

var schema = []schemaStep{
	{
		version: 1,
		name:    "per-key daily counters",
		up: `
CREATE TABLE IF NOT EXISTS key_stats (
    key_code        INTEGER NOT NULL,
    day             TEXT NOT NULL,
    label           TEXT NOT NULL,
    taps            INTEGER NOT NULL DEFAULT 0,
    holds           INTEGER NOT NULL DEFAULT 0,
    pass_through    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (key_code, day)
);
CREATE INDEX IF NOT EXISTS idx_key_stats_day ON key_stats(day);
`,
		down: `
DROP INDEX IF EXISTS idx_key_stats_day;
DROP TABLE IF EXISTS key_stats;
`,
	},
	{
		version: 2,
		name:    "interception runs",
		up: `
CREATE TABLE IF NOT EXISTS runs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    version         TEXT NOT NULL,
    started_at      INTEGER NOT NULL,
    stopped_at      INTEGER,
    reason          TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`,
		down: `
DROP INDEX IF EXISTS idx_runs_started;
DROP TABLE IF EXISTS runs;
`,
	},
}

// LatestSchemaVersion is the version a freshly migrated database reports.
func LatestSchemaVersion() int { return schema[len(schema)-1].version }

// SchemaVersion returns the applied schema version, 0 for an empty file.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// MigrateDB brings the schema up to LatestSchemaVersion. Each step runs in
// its own transaction together with the version bump.
func MigrateDB(db *sql.DB) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	for _, step := range schema {
		if step.version <= current {
			continue
		}
		if err := applyStep(db, step.up, step.version); err != nil {
			return fmt.Errorf("migrate to %d (%s): %w", step.version, step.name, err)
		}
	}
	return nil
}

// RollbackMigration undoes the most recent schema step.
func RollbackMigration(db *sql.DB) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if current == 0 {
		return fmt.Errorf("schema is empty, nothing to roll back")
	}
	for i := len(schema) - 1; i >= 0; i-- {
		if schema[i].version != current {
			continue
		}
		prev := 0
		if i > 0 {
			prev = schema[i-1].version
		}
		if err := applyStep(db, schema[i].down, prev); err != nil {
			return fmt.Errorf("roll back %d (%s): %w", current, schema[i].name, err)
		}
		return nil
	}
	return fmt.Errorf("unknown schema version %d", current)
}

func applyStep(db *sql.DB, ddl string, version int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ddl); err != nil {
		tx.Rollback()
		return err
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ValidateSchema checks that the tables the store queries exist.
func ValidateSchema(db *sql.DB) error {
	for _, table := range []string{"key_stats", "runs"} {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("missing table: %s", table)
		}
	}
	return nil
}
