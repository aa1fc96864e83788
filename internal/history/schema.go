package history

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS decisions (
		request_id  TEXT    NOT NULL PRIMARY KEY,
		kind        TEXT    NOT NULL,
		session_id  TEXT    NOT NULL,
		tool_name   TEXT    NOT NULL DEFAULT '',
		fingerprint TEXT    NOT NULL,
		allow       INTEGER NOT NULL,
		expired     INTEGER NOT NULL DEFAULT 0,
		reason      TEXT    NOT NULL DEFAULT '',
		actor       TEXT    NOT NULL DEFAULT '',
		answers     TEXT    NOT NULL DEFAULT '{}',
		created_at  TEXT    NOT NULL,
		resolved_at TEXT    NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id, resolved_at)`,

	`CREATE INDEX IF NOT EXISTS idx_decisions_resolved ON decisions(resolved_at)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("history: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("history: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("history: record schema version: %w", err)
	}

	return nil
}
