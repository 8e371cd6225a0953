package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReplaceThreads clears the thread table and bulk-inserts fresh server rows
// in a single transaction. Threads are wholly owned by the server, so a
// wholesale rebuild is the reconciliation strategy.
func (db *DB) ReplaceThreads(threads []CachedThread) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM threads`); err != nil {
		return fmt.Errorf("clear threads: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, t := range threads {
		participants, err := json.Marshal(t.ParticipantIDs)
		if err != nil {
			return fmt.Errorf("marshal participants for %q: %w", t.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO threads (id, type, participant_ids, location_name, latitude, longitude,
				last_message_at, last_message_preview, last_message_sender_id, last_message_image_url, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				participant_ids = excluded.participant_ids,
				location_name = excluded.location_name,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				last_message_at = excluded.last_message_at,
				last_message_preview = excluded.last_message_preview,
				last_message_sender_id = excluded.last_message_sender_id,
				last_message_image_url = excluded.last_message_image_url,
				updated_at = excluded.updated_at`,
			t.ID, t.Type, string(participants), t.LocationName, t.Latitude, t.Longitude,
			t.LastMessageAt, t.LastMessagePreview, t.LastMessageSenderID, t.LastMessageImageURL, now); err != nil {
			return fmt.Errorf("insert thread %q: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// ListThreads returns cached threads sorted by last message time descending.
func (db *DB) ListThreads() ([]CachedThread, error) {
	rows, err := db.Query(`
		SELECT id, type, participant_ids, location_name, latitude, longitude,
			last_message_at, last_message_preview, last_message_sender_id, last_message_image_url, updated_at
		FROM threads
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []CachedThread
	for rows.Next() {
		var t CachedThread
		var participants string
		if err := rows.Scan(&t.ID, &t.Type, &participants, &t.LocationName, &t.Latitude, &t.Longitude,
			&t.LastMessageAt, &t.LastMessagePreview, &t.LastMessageSenderID, &t.LastMessageImageURL, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participants), &t.ParticipantIDs); err != nil {
			return nil, fmt.Errorf("unmarshal participants for %q: %w", t.ID, err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}
