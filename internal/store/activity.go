package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Activity actions. The log is append-only; these are the only actions the
// engine ever records.
const (
	ActionCreated        = "created"
	ActionUpdated        = "updated"
	ActionStatusChanged  = "status_changed"
	ActionCompleted      = "completed"
	ActionSyncedFromFile = "synced_from_file"
	ActionSyncedToFile   = "synced_to_file"
)

// ActivityEntry is one immutable row of the activity log.
type ActivityEntry struct {
	ID         int64
	EntityID   int64
	EntityKind Kind
	Action     string
	OccurredAt time.Time
	Detail     string // JSON payload, "" when the action carries no delta
}

// appendActivityTx inserts an activity entry inside an existing transaction.
func appendActivityTx(tx *sql.Tx, entityID int64, kind Kind, action string, occurredAt time.Time, detail string) error {
	_, err := tx.Exec(
		`INSERT INTO activity_log (entity_id, entity_kind, action, occurred_at, detail)
		 VALUES (?, ?, ?, ?, ?)`,
		entityID, kind, action, fmtTime(occurredAt), detail,
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// AppendActivity records an activity entry outside of an entity mutation
// (e.g. a task completion logged by the surrounding CRUD layer).
func (s *Store) AppendActivity(entityID int64, kind Kind, action string, occurredAt time.Time, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO activity_log (entity_id, entity_kind, action, occurred_at, detail)
		 VALUES (?, ?, ?, ?, ?)`,
		entityID, kind, action, fmtTime(occurredAt), detail,
	)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListActivity returns all entries for one entity in total order
// (occurred_at, then insertion sequence).
func (s *Store) ListActivity(entityID int64) ([]ActivityEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, entity_id, entity_kind, action, occurred_at, detail
		 FROM activity_log WHERE entity_id = ?
		 ORDER BY occurred_at, id`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivity(rows)
}

// ListProjectActivity returns entries for a project and all of its direct
// children (tasks), in total order. This is the momentum scorer's input.
func (s *Store) ListProjectActivity(projectID int64) ([]ActivityEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, entity_id, entity_kind, action, occurred_at, detail
		 FROM activity_log
		 WHERE entity_id = ?
		    OR entity_id IN (SELECT id FROM entities WHERE parent_id = ?)
		 ORDER BY occurred_at, id`, projectID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivity(rows)
}

// LatestActivityAt returns the occurred_at of the most recent entry for the
// entity and its children, or the zero time when no entries exist.
func (s *Store) LatestActivityAt(entityID int64) (time.Time, error) {
	var ts sql.NullString
	err := s.db.QueryRow(
		`SELECT MAX(occurred_at) FROM activity_log
		 WHERE entity_id = ?
		    OR entity_id IN (SELECT id FROM entities WHERE parent_id = ?)`,
		entityID, entityID).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return parseTime(ts.String)
}

func collectActivity(rows *sql.Rows) ([]ActivityEntry, error) {
	var out []ActivityEntry
	for rows.Next() {
		var (
			e  ActivityEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &e.EntityID, &e.EntityKind, &e.Action, &ts, &e.Detail); err != nil {
			return nil, err
		}
		occurred, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		e.OccurredAt = occurred
		out = append(out, e)
	}
	return out, rows.Err()
}
