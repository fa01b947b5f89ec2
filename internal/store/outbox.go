package store

import (
	"database/sql"
	"errors"
	"time"
)

// QueueOutbox records an unacknowledged outbound message. Entries are keyed
// by logical message id; queueing the same id twice keeps the first entry.
func (db *DB) QueueOutbox(e OutboxEntry) error {
	_, err := db.Exec(`
		INSERT INTO outbox (local_id, body, recipient, chat_id, sent_at, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(local_id) DO NOTHING`,
		e.LocalID, e.Body, e.Recipient, e.ChatID, e.SentAt, time.Now().UnixMilli())
	return err
}

// ListOutbox returns every pending entry, oldest send first.
func (db *DB) ListOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT local_id, body, recipient, chat_id, sent_at, attempts
		FROM outbox ORDER BY sent_at ASC, local_id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.LocalID, &e.Body, &e.Recipient, &e.ChatID, &e.SentAt, &e.Attempts); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkOutboxAttempt counts one more transmission of an entry.
func (db *DB) MarkOutboxAttempt(localID string) error {
	_, err := db.Exec(`UPDATE outbox SET attempts = attempts + 1 WHERE local_id = ?`, localID)
	return err
}

// DeleteOutbox removes the entry for an acknowledged message.
func (db *DB) DeleteOutbox(localID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE local_id = ?`, localID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteOutboxBySentAt removes entries acknowledged by send time.
func (db *DB) DeleteOutboxBySentAt(sentAt int64) (bool, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE sent_at = ?`, sentAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteAllOutbox clears the outbox in bulk.
func (db *DB) DeleteAllOutbox() error {
	_, err := db.Exec(`DELETE FROM outbox`)
	return err
}

// CountOutbox returns the number of pending entries.
func (db *DB) CountOutbox() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&n)
	return n, err
}

// TrimOutbox evicts the oldest entries so at most limit remain. A limit of
// zero or less disables the cap. Returns the number of evicted entries.
func (db *DB) TrimOutbox(limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}
	res, err := db.Exec(`
		DELETE FROM outbox WHERE local_id IN (
			SELECT local_id FROM outbox
			ORDER BY sent_at DESC, local_id DESC
			LIMIT -1 OFFSET ?
		)`, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
