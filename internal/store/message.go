package store

import (
	"database/sql"
	"fmt"
)

// InsertMessage adds a single message row. Fails if the id already exists.
func (db *DB) InsertMessage(m *CachedMessage) error {
	var username, displayName, avatarURL string
	if m.User != nil {
		username, displayName, avatarURL = m.User.Username, m.User.DisplayName, m.User.AvatarURL
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, thread_id, user_id, content, message_type, created_at, status, client_id,
			user_username, user_display_name, user_avatar_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, m.UserID, m.Content, m.MessageType, m.CreatedAt, m.Status, m.ClientID,
		username, displayName, avatarURL)
	return err
}

// GetMessage returns a message by id, or nil when absent.
func (db *DB) GetMessage(id string) (*CachedMessage, error) {
	return db.getMessageWhere(`id = ?`, id)
}

// GetMessageByClientID returns a message by its stable client id, or nil.
// The primary id changes when the server id is adopted; the client id does not.
func (db *DB) GetMessageByClientID(clientID string) (*CachedMessage, error) {
	return db.getMessageWhere(`client_id = ?`, clientID)
}

func (db *DB) getMessageWhere(where string, arg any) (*CachedMessage, error) {
	var m CachedMessage
	var username, displayName, avatarURL string
	err := db.QueryRow(`
		SELECT id, thread_id, user_id, content, message_type, created_at, status, client_id,
			user_username, user_display_name, user_avatar_url
		FROM messages WHERE `+where, arg).
		Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Content, &m.MessageType, &m.CreatedAt, &m.Status, &m.ClientID,
			&username, &displayName, &avatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if username != "" {
		m.User = &UserSnapshot{ID: m.UserID, Username: username, DisplayName: displayName, AvatarURL: avatarURL}
	}
	return &m, nil
}

// MessageExists reports whether a message id is already cached.
func (db *DB) MessageExists(id string) (bool, error) {
	var one int
	err := db.QueryRow(`SELECT 1 FROM messages WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListThreadMessages returns all cached messages for a thread ordered by
// creation time ascending.
func (db *DB) ListThreadMessages(threadID string) ([]CachedMessage, error) {
	rows, err := db.Query(`
		SELECT id, thread_id, user_id, content, message_type, created_at, status, client_id,
			user_username, user_display_name, user_avatar_url
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []CachedMessage
	for rows.Next() {
		var m CachedMessage
		var username, displayName, avatarURL string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.UserID, &m.Content, &m.MessageType, &m.CreatedAt, &m.Status, &m.ClientID,
			&username, &displayName, &avatarURL); err != nil {
			return nil, err
		}
		if username != "" {
			m.User = &UserSnapshot{ID: m.UserID, Username: username, DisplayName: displayName, AvatarURL: avatarURL}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AdoptServerID rewrites a pending message's primary id to the server-assigned
// id and marks it sent. ClientID is preserved as the stable secondary key.
// Any row already holding the server id (e.g. merged by the realtime listener
// before delivery confirmation arrived) is removed first so exactly one row
// per logical message remains.
func (db *DB) AdoptServerID(clientID, serverID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE id = ? AND client_id != ?`, serverID, clientID); err != nil {
		return fmt.Errorf("drop duplicate server row: %w", err)
	}
	if _, err := tx.Exec(`UPDATE messages SET id = ?, status = ? WHERE client_id = ?`,
		serverID, StatusSent, clientID); err != nil {
		return fmt.Errorf("adopt server id: %w", err)
	}
	return tx.Commit()
}

// SetMessageStatusByClientID updates the status of the row with the given
// client id.
func (db *DB) SetMessageStatusByClientID(clientID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE client_id = ?`, status, clientID)
	return err
}

// ReplaceSentMessages reconciles server truth for one thread: rows previously
// confirmed sent are dropped and re-inserted from the fresh server result,
// while pending and failed rows (local-only, awaiting the outbox) are left
// untouched. A server row whose client_id matches a still-unconfirmed local
// row is skipped rather than inserted, so the same logical message never
// appears twice.
func (db *DB) ReplaceSentMessages(threadID string, msgs []CachedMessage) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	unconfirmed := map[string]bool{}
	rows, err := tx.Query(`
		SELECT id, client_id FROM messages
		WHERE thread_id = ? AND status IN (?, ?)`, threadID, StatusPending, StatusFailed)
	if err != nil {
		return fmt.Errorf("load unconfirmed rows: %w", err)
	}
	for rows.Next() {
		var id, clientID string
		if err := rows.Scan(&id, &clientID); err != nil {
			_ = rows.Close()
			return err
		}
		unconfirmed[id] = true
		if clientID != "" {
			unconfirmed[clientID] = true
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	if _, err := tx.Exec(`DELETE FROM messages WHERE thread_id = ? AND status = ?`,
		threadID, StatusSent); err != nil {
		return fmt.Errorf("clear sent rows: %w", err)
	}

	for _, m := range msgs {
		if unconfirmed[m.ID] || (m.ClientID != "" && unconfirmed[m.ClientID]) {
			continue
		}
		var username, displayName, avatarURL string
		if m.User != nil {
			username, displayName, avatarURL = m.User.Username, m.User.DisplayName, m.User.AvatarURL
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (id, thread_id, user_id, content, message_type, created_at, status, client_id,
				user_username, user_display_name, user_avatar_url)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				content = excluded.content,
				status = excluded.status,
				user_username = excluded.user_username,
				user_display_name = excluded.user_display_name,
				user_avatar_url = excluded.user_avatar_url`,
			m.ID, threadID, m.UserID, m.Content, m.MessageType, m.CreatedAt, StatusSent, m.ClientID,
			username, displayName, avatarURL); err != nil {
			return fmt.Errorf("insert server message %q: %w", m.ID, err)
		}
	}
	return tx.Commit()
}
