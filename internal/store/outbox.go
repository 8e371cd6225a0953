package store

// EnqueueOutbox adds a durable queue entry for an unconfirmed outgoing message.
func (db *DB) EnqueueOutbox(e *OutboxEntry) error {
	_, err := db.Exec(`
		INSERT INTO outbox (id, client_id, thread_id, user_id, content, message_type, created_at, retry_count, last_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ClientID, e.ThreadID, e.UserID, e.Content, e.MessageType, e.CreatedAt, e.RetryCount, e.LastRetryAt)
	return err
}

// PendingOutbox returns all queued entries oldest-first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_id, thread_id, user_id, content, message_type, created_at, retry_count, last_retry_at
		FROM outbox ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientID, &e.ThreadID, &e.UserID, &e.Content, &e.MessageType, &e.CreatedAt, &e.RetryCount, &e.LastRetryAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// BumpOutboxRetry increments the retry count and stamps the attempt time.
func (db *DB) BumpOutboxRetry(id string, at int64) error {
	_, err := db.Exec(`UPDATE outbox SET retry_count = retry_count + 1, last_retry_at = ? WHERE id = ?`, at, id)
	return err
}

// DeleteOutbox removes an entry on terminal outcome (sent or permanently failed).
func (db *DB) DeleteOutbox(id string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE id = ?`, id)
	return err
}
