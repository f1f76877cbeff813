// SPDX-License-Identifier: AGPL-3.0-or-later

package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrJournalQuotaExceeded indicates the requested append cannot be
// satisfied because the payload is larger than the configured journal
// limit.
var ErrJournalQuotaExceeded = errors.New("runlog: journal quota exceeded")

// JournalEntry represents a persisted run event.
type JournalEntry struct {
	Seq       int64
	RunID     string
	EventType string
	Payload   []byte
	Timestamp time.Time
}

// Journal provides append-only event persistence backed by the run log DB.
type Journal struct {
	db       *sql.DB
	maxBytes int64
	nowFn    func() time.Time
}

// NewJournal returns a Journal backed by the provided DB with the supplied
// maximum size budget. When maxBytes is zero or negative the default is
// used.
func NewJournal(db *DB, maxBytes int64) *Journal {
	if db == nil {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = defaultJournalMaxBytes
	}
	return &Journal{
		db:       db.sql,
		maxBytes: maxBytes,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Append stores an event for the provided run. Oldest entries are evicted
// when the size budget would be exceeded; eviction and insertion happen in
// one transaction.
func (j *Journal) Append(ctx context.Context, runID, eventType string, payload []byte, ts time.Time) (JournalEntry, error) {
	var entry JournalEntry
	if j == nil {
		return entry, nil
	}
	if runID == "" {
		return entry, fmt.Errorf("append journal: run id required")
	}
	if len(payload) == 0 {
		return entry, fmt.Errorf("append journal: payload required")
	}
	payloadBytes := int64(len(payload))
	if payloadBytes > j.maxBytes {
		return entry, ErrJournalQuotaExceeded
	}

	now := ts
	if now.IsZero() {
		now = j.nowFn()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return entry, fmt.Errorf("begin journal tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existingBytes int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(length(payload)), 0) FROM run_journal`).Scan(&existingBytes); err != nil {
		return entry, fmt.Errorf("journal size lookup: %w", err)
	}

	for existingBytes+payloadBytes > j.maxBytes {
		var seq int64
		var size int64
		err = tx.QueryRowContext(ctx, `SELECT seq, length(payload) FROM run_journal ORDER BY seq ASC LIMIT 1`).Scan(&seq, &size)
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			break
		}
		if err != nil {
			return entry, fmt.Errorf("journal eviction lookup: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM run_journal WHERE seq = ?`, seq); err != nil {
			return entry, fmt.Errorf("journal eviction delete seq=%d: %w", seq, err)
		}
		existingBytes -= size
		if existingBytes < 0 {
			existingBytes = 0
		}
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
INSERT INTO run_journal (run_id, event_type, payload, ts)
VALUES (?, ?, ?, ?)
`, runID, eventType, payload, now.UnixMilli())
	if err != nil {
		return entry, fmt.Errorf("journal insert: %w", err)
	}
	var seq int64
	seq, err = res.LastInsertId()
	if err != nil {
		return entry, fmt.Errorf("journal last insert id: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return entry, fmt.Errorf("journal commit: %w", err)
	}

	entry = JournalEntry{
		Seq:       seq,
		RunID:     runID,
		EventType: eventType,
		Payload:   append([]byte(nil), payload...),
		Timestamp: now,
	}
	return entry, nil
}

// ForEach streams events for the supplied run strictly after the provided
// sequence in ascending order. Iteration halts if the callback returns an
// error.
func (j *Journal) ForEach(ctx context.Context, runID string, afterSeq int64, fn func(JournalEntry) error) error {
	if j == nil || fn == nil {
		return nil
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT seq, event_type, payload, ts
FROM run_journal
WHERE run_id = ? AND seq > ?
ORDER BY seq ASC
`, runID, afterSeq)
	if err != nil {
		return fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var eventType string
		var payload []byte
		var tsMillis int64
		if scanErr := rows.Scan(&seq, &eventType, &payload, &tsMillis); scanErr != nil {
			return fmt.Errorf("journal scan: %w", scanErr)
		}
		entry := JournalEntry{
			Seq:       seq,
			RunID:     runID,
			EventType: eventType,
			Payload:   append([]byte(nil), payload...),
			Timestamp: time.UnixMilli(tsMillis).UTC(),
		}
		if fnErr := fn(entry); fnErr != nil {
			return fnErr
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return fmt.Errorf("journal rows: %w", rowsErr)
	}
	return nil
}
