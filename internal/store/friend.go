package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ReplaceFriends clears the friends table and bulk-inserts fresh server rows.
func (db *DB) ReplaceFriends(friends []CachedFriend) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM friends`); err != nil {
		return fmt.Errorf("clear friends: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, f := range friends {
		if _, err := tx.Exec(`
			INSERT INTO friends (id, username, display_name, avatar_url, is_online, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			f.ID, f.Username, f.DisplayName, f.AvatarURL, f.IsOnline, now); err != nil {
			return fmt.Errorf("insert friend %q: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// ListFriends returns all cached friends.
func (db *DB) ListFriends() ([]CachedFriend, error) {
	rows, err := db.Query(`
		SELECT id, username, display_name, avatar_url, is_online, updated_at
		FROM friends ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var friends []CachedFriend
	for rows.Next() {
		var f CachedFriend
		if err := rows.Scan(&f.ID, &f.Username, &f.DisplayName, &f.AvatarURL, &f.IsOnline, &f.UpdatedAt); err != nil {
			return nil, err
		}
		friends = append(friends, f)
	}
	return friends, rows.Err()
}

// UpsertProfile inserts or updates a cached profile.
func (db *DB) UpsertProfile(p *CachedProfile) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO profiles (id, username, display_name, avatar_url, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at`,
		p.ID, p.Username, p.DisplayName, p.AvatarURL, p.LastSeenAt, now)
	return err
}

// GetProfile returns a cached profile by id, or nil when absent.
func (db *DB) GetProfile(id string) (*CachedProfile, error) {
	var p CachedProfile
	err := db.QueryRow(`
		SELECT id, username, display_name, avatar_url, last_seen_at, updated_at
		FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.LastSeenAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
