// SPDX-License-Identifier: AGPL-3.0-or-later

package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run is the persisted summary of one provisioning run.
type Run struct {
	ID         string
	Manifest   string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Skipped    int
	Succeeded  int
	Failed     int
}

// RecordStart inserts a new run in "running" state.
func (db *DB) RecordStart(ctx context.Context, id, manifest string, startedAt time.Time) error {
	if db == nil {
		return nil
	}
	_, err := db.sql.ExecContext(ctx, `
INSERT INTO runs (id, manifest, status, started_at)
VALUES (?, ?, 'running', ?)
`, id, manifest, startedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordFinish stores the terminal status and outcome counts for a run.
func (db *DB) RecordFinish(ctx context.Context, id, status string, skipped, succeeded, failed int, finishedAt time.Time) error {
	if db == nil {
		return nil
	}
	_, err := db.sql.ExecContext(ctx, `
UPDATE runs
SET status = ?, finished_at = ?, skipped = ?, succeeded = ?, failed = ?
WHERE id = ?
`, status, finishedAt.UnixMilli(), skipped, succeeded, failed, id)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.sql.QueryContext(ctx, `
SELECT id, manifest, status, started_at, finished_at, skipped, succeeded, failed
FROM runs
ORDER BY started_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Manifest, &r.Status, &started, &finished, &r.Skipped, &r.Succeeded, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished.Valid {
			t := time.UnixMilli(finished.Int64).UTC()
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs rows: %w", err)
	}
	return out, nil
}
