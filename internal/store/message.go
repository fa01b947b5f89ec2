package store

import (
	"fmt"
	"time"
)

const upsertMessageSQL = `
	INSERT INTO messages (sent_at, local_id, chat_id, sender_name, body, status, from_me, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(sent_at) DO UPDATE SET
		local_id = excluded.local_id,
		chat_id = excluded.chat_id,
		sender_name = excluded.sender_name,
		body = excluded.body,
		status = excluded.status,
		from_me = excluded.from_me`

// InsertMessage stores a message, replacing any row with the same send time.
func (db *DB) InsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL,
		m.SentAt, m.LocalID, m.ChatID, m.SenderName, m.Body, m.Status, m.FromMe, time.Now().UnixMilli())
	return err
}

// UpsertMessages stores a batch of messages in one transaction.
func (db *DB) UpsertMessages(msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(upsertMessageSQL,
			m.SentAt, m.LocalID, m.ChatID, m.SenderName, m.Body, m.Status, m.FromMe, now); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.SentAt, err)
		}
	}
	return tx.Commit()
}

// DeleteAllMessages removes every visible message. Used when a pairing ends.
func (db *DB) DeleteAllMessages() error {
	_, err := db.Exec(`DELETE FROM messages`)
	return err
}

// UpdateStatusByLocalID advances the status of our own message with the
// given logical id. Inbound rows carry no delivery status and are never
// touched. Status never moves backwards; the returned flag reports whether a
// row changed.
func (db *DB) UpdateStatusByLocalID(localID string, status DeliveryStatus) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE local_id = ? AND from_me = 1 AND status < ?`,
		status, localID, status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateStatusBySentAt is UpdateStatusByLocalID keyed by send time.
func (db *DB) UpdateStatusBySentAt(sentAt int64, status DeliveryStatus) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET status = ? WHERE sent_at = ? AND from_me = 1 AND status < ?`,
		status, sentAt, status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListMessages returns every stored message in display order.
func (db *DB) ListMessages() ([]Message, error) {
	rows, err := db.Query(`
		SELECT sent_at, local_id, chat_id, sender_name, body, status, from_me
		FROM messages
		ORDER BY sent_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.SentAt, &m.LocalID, &m.ChatID, &m.SenderName, &m.Body, &m.Status, &m.FromMe); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns the message sent at the given time, or nil.
func (db *DB) GetMessage(sentAt int64) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT sent_at, local_id, chat_id, sender_name, body, status, from_me
		FROM messages WHERE sent_at = ?`, sentAt).
		Scan(&m.SentAt, &m.LocalID, &m.ChatID, &m.SenderName, &m.Body, &m.Status, &m.FromMe)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
