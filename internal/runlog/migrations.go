// SPDX-License-Identifier: AGPL-3.0-or-later

package runlog

import (
	"context"
	"database/sql"
	"fmt"
)

var baseMigrations = [...]string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		manifest TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		skipped INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
	`CREATE TABLE IF NOT EXISTS run_journal (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		ts INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_run_journal_run_ts ON run_journal(run_id, ts);`,
}

func applyMigrations(ctx context.Context, conn *sql.DB) error {
	for _, stmt := range baseMigrations {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
