package store

import "time"

// QueueOutbox adds an encoded frame to the send outbox. Queuing the same
// client message ID twice is a no-op.
func (db *DB) QueueOutbox(clientMsgID string, payload []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, payload, status, created_at, updated_at)
		VALUES (?, ?, 'queued', ?, ?)
		ON CONFLICT (client_msg_id) DO NOTHING`,
		clientMsgID, payload, now, now)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent'.
func (db *DB) MarkOutboxSent(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// RecordOutboxAttempt bumps the attempt counter after a failed write and
// returns the new count. The entry stays queued.
func (db *DB) RecordOutboxAttempt(clientMsgID, errMsg string) (int, error) {
	now := time.Now().UnixMilli()
	var attempts int
	err := db.QueryRow(`
		UPDATE outbox SET attempts = attempts + 1, error_message = ?, updated_at = ?
		WHERE client_msg_id = ?
		RETURNING attempts`, errMsg, now, clientMsgID).Scan(&attempts)
	return attempts, err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, payload, status, attempts, error_message, created_at
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.Payload, &e.Status, &e.Attempts, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountOutbox returns the number of entries with the given status.
func (db *DB) CountOutbox(status string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status = ?`, status).Scan(&n)
	return n, err
}
