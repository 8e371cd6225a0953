package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetSyncState returns the checkpoint for a resource, or nil when the
// resource has never synced.
func (db *DB) GetSyncState(resource string) (*SyncState, error) {
	var s SyncState
	err := db.QueryRow(`SELECT resource, last_sync_at, epoch FROM sync_state WHERE resource = ?`, resource).
		Scan(&s.Resource, &s.LastSyncAt, &s.Epoch)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PutSyncState persists the checkpoint for a resource.
func (db *DB) PutSyncState(resource string, epoch int64, at time.Time) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (resource, last_sync_at, epoch)
		VALUES (?, ?, ?)
		ON CONFLICT(resource) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			epoch = excluded.epoch`,
		resource, at.UnixMilli(), epoch)
	return err
}

// ClearAllCache wipes every cached table, including the outbox and
// checkpoints. Used when the build version changes.
func (db *DB) ClearAllCache() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"threads", "friends", "profiles", "messages", "outbox", "sync_state"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// EnsureCacheVersion wipes the cache when the stored build id differs from
// the running one, then records the current build. A schema or serialization
// change between builds must not leave rows the new code misreads.
func (db *DB) EnsureCacheVersion(build string) (cleared bool, err error) {
	var prev string
	err = db.QueryRow(`SELECT value FROM meta WHERE key = 'build'`).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	if err == nil && prev == build {
		return false, nil
	}
	if err == nil && prev != build {
		if err := db.ClearAllCache(); err != nil {
			return false, err
		}
		cleared = true
	}
	_, err = db.Exec(`
		INSERT INTO meta (key, value) VALUES ('build', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, build)
	return cleared, err
}
