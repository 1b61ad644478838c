package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Sync statuses for a tracked file path.
const (
	SyncClean        = "clean"
	SyncDBAhead      = "db_ahead"
	SyncFileAhead    = "file_ahead"
	SyncConflict     = "conflict"
	SyncOrphanedFile = "orphaned_file"
	SyncOrphanedRow  = "orphaned_row"
)

// SyncState is the per-file reconciliation bookkeeping row. It is control
// data owned by the reconciler: the file and entity contents remain the
// source of truth, so losing a row only costs one extra full pass.
type SyncState struct {
	Path            string
	FileMarker      string // "" until first sync binds a marker
	FileHash        string
	LastSyncedMtime time.Time
	LastSyncedAt    time.Time
	SyncStatus      string
}

// GetSyncState fetches the sync state for a path. Returns (nil, nil) when
// the path has never been tracked.
func (s *Store) GetSyncState(path string) (*SyncState, error) {
	row := s.db.QueryRow(
		`SELECT path, file_marker, file_hash, last_synced_mtime, last_synced_at, sync_status
		 FROM sync_state WHERE path = ?`, path)
	ss, err := scanSyncState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ss, err
}

// GetSyncStateByMarker fetches the sync state bound to a file marker.
// Returns (nil, nil) when no tracked file carries the marker.
func (s *Store) GetSyncStateByMarker(marker string) (*SyncState, error) {
	row := s.db.QueryRow(
		`SELECT path, file_marker, file_hash, last_synced_mtime, last_synced_at, sync_status
		 FROM sync_state WHERE file_marker = ?`, marker)
	ss, err := scanSyncState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ss, err
}

// UpsertSyncState creates or replaces the bookkeeping row for a path.
func (s *Store) UpsertSyncState(ss *SyncState) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_state (path, file_marker, file_hash, last_synced_mtime, last_synced_at, sync_status)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			file_marker = excluded.file_marker,
			file_hash = excluded.file_hash,
			last_synced_mtime = excluded.last_synced_mtime,
			last_synced_at = excluded.last_synced_at,
			sync_status = excluded.sync_status`,
		ss.Path, nullStr(ss.FileMarker), ss.FileHash,
		fmtTime(ss.LastSyncedMtime), fmtTime(ss.LastSyncedAt), ss.SyncStatus,
	)
	if err != nil {
		return fmt.Errorf("upsert sync state %s: %w", ss.Path, err)
	}
	return nil
}

// SetSyncStatus updates only the status flag for a path.
func (s *Store) SetSyncStatus(path, status string) error {
	res, err := s.db.Exec(`UPDATE sync_state SET sync_status = ? WHERE path = ?`, status, path)
	if err != nil {
		return fmt.Errorf("set sync status %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set sync status %s: %w", path, ErrNotFound)
	}
	return nil
}

// ListSyncStates returns every tracked path, ordered by path.
func (s *Store) ListSyncStates() ([]*SyncState, error) {
	rows, err := s.db.Query(
		`SELECT path, file_marker, file_hash, last_synced_mtime, last_synced_at, sync_status
		 FROM sync_state ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SyncState
	for rows.Next() {
		ss, err := scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// ListSyncStatesByStatus returns tracked paths with the given status.
func (s *Store) ListSyncStatesByStatus(status string) ([]*SyncState, error) {
	rows, err := s.db.Query(
		`SELECT path, file_marker, file_hash, last_synced_mtime, last_synced_at, sync_status
		 FROM sync_state WHERE sync_status = ? ORDER BY path`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SyncState
	for rows.Next() {
		ss, err := scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

// DeleteSyncState removes the bookkeeping row for a path. Only used when
// both the file and the entity are gone.
func (s *Store) DeleteSyncState(path string) error {
	_, err := s.db.Exec(`DELETE FROM sync_state WHERE path = ?`, path)
	return err
}

func scanSyncState(row interface{ Scan(...any) error }) (*SyncState, error) {
	var (
		ss     SyncState
		marker sql.NullString
		mtime  string
		synced string
	)
	err := row.Scan(&ss.Path, &marker, &ss.FileHash, &mtime, &synced, &ss.SyncStatus)
	if err != nil {
		return nil, err
	}
	if marker.Valid {
		ss.FileMarker = marker.String
	}
	if ss.LastSyncedMtime, err = parseTime(mtime); err != nil {
		return nil, fmt.Errorf("parse last_synced_mtime: %w", err)
	}
	if ss.LastSyncedAt, err = parseTime(synced); err != nil {
		return nil, fmt.Errorf("parse last_synced_at: %w", err)
	}
	return &ss, nil
}
