package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Kind identifies the entity hierarchy level.
type Kind string

// Entity kinds.
const (
	KindProject Kind = "project"
	KindTask    Kind = "task"
	KindArea    Kind = "area"
	KindGoal    Kind = "goal"
	KindVision  Kind = "vision"
)

// Project statuses.
const (
	StatusActive    = "active"
	StatusStalled   = "stalled"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

// Task statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// ErrNotFound is returned when an entity lookup matches no row.
var ErrNotFound = errors.New("entity not found")

// Entity is a canonical project/task/area/goal/vision record.
type Entity struct {
	ID          int64
	Kind        Kind
	Title       string
	Status      string
	Priority    string
	DueDate     time.Time // zero when no deadline
	ParentID    int64     // 0 when top-level
	FileMarker  string    // "" until a file is bound
	SyncEnabled bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const entityColumns = `id, kind, title, status, priority, due_date, parent_id,
	file_marker, sync_enabled, created_at, updated_at`

// scanEntity reads one entity row from a *sql.Row or *sql.Rows.
func scanEntity(row interface{ Scan(...any) error }) (*Entity, error) {
	var (
		e           Entity
		due         sql.NullString
		parent      sql.NullInt64
		marker      sql.NullString
		syncEnabled int64
		created     string
		updated     string
	)
	err := row.Scan(&e.ID, &e.Kind, &e.Title, &e.Status, &e.Priority,
		&due, &parent, &marker, &syncEnabled, &created, &updated)
	if err != nil {
		return nil, err
	}

	if due.Valid {
		if e.DueDate, err = parseTime(due.String); err != nil {
			return nil, fmt.Errorf("parse due_date: %w", err)
		}
	}
	if parent.Valid {
		e.ParentID = parent.Int64
	}
	if marker.Valid {
		e.FileMarker = marker.String
	}
	e.SyncEnabled = syncEnabled != 0

	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &e, nil
}

// nullStr maps "" to SQL NULL.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullID maps 0 to SQL NULL.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// CreateEntity inserts a new entity, stamps created_at/updated_at, and
// appends a "created" activity entry in the same transaction.
func (s *Store) CreateEntity(e *Entity) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Priority == "" {
		e.Priority = PriorityNormal
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}

	res, err := tx.Exec(
		`INSERT INTO entities (kind, title, status, priority, due_date, parent_id,
			file_marker, sync_enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.Title, e.Status, e.Priority,
		nullStr(fmtTime(e.DueDate)), nullID(e.ParentID), nullStr(e.FileMarker),
		boolToInt(e.SyncEnabled), fmtTime(e.CreatedAt), fmtTime(e.UpdatedAt),
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert entity: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("entity id: %w", err)
	}
	e.ID = id

	if err := appendActivityTx(tx, id, e.Kind, ActionCreated, now, ""); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}

	s.notify(Change{EntityID: id, EntityKind: e.Kind, Action: ActionCreated})
	return nil
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(id int64) (*Entity, error) {
	row := s.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

// GetEntityByMarker fetches the entity bound to the given file marker.
func (s *Store) GetEntityByMarker(marker string) (*Entity, error) {
	row := s.db.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE file_marker = ?`, marker)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

// ListEntities returns all entities of the given kind, newest first.
func (s *Store) ListEntities(kind Kind) ([]*Entity, error) {
	rows, err := s.db.Query(
		`SELECT `+entityColumns+` FROM entities WHERE kind = ? ORDER BY updated_at DESC`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

// ListSyncEnabled returns all entities with sync enabled.
func (s *Store) ListSyncEnabled() ([]*Entity, error) {
	rows, err := s.db.Query(
		`SELECT ` + entityColumns + ` FROM entities WHERE sync_enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

// ListChildren returns the direct children of an entity (e.g. a project's
// tasks), oldest first.
func (s *Store) ListChildren(parentID int64) ([]*Entity, error) {
	rows, err := s.db.Query(
		`SELECT `+entityColumns+` FROM entities WHERE parent_id = ? ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntities(rows)
}

func collectEntities(rows *sql.Rows) ([]*Entity, error) {
	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateEntity writes all mutable fields of e, bumps updated_at, and appends
// an activity entry with the given action and detail, in one transaction.
func (s *Store) UpdateEntity(e *Entity, action, detail string) error {
	return s.updateEntity(e, action, detail, time.Now().UTC())
}

// UpdateEntitySynced is UpdateEntity for reconciler-originated writes: the
// caller controls the logical mutation time (typically the file's observed
// modification time), so momentum history reflects when the user acted.
func (s *Store) UpdateEntitySynced(e *Entity, action, detail string, occurredAt time.Time) error {
	return s.updateEntity(e, action, detail, occurredAt)
}

func (s *Store) updateEntity(e *Entity, action, detail string, occurredAt time.Time) error {
	e.UpdatedAt = occurredAt

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE entities SET title = ?, status = ?, priority = ?, due_date = ?,
			parent_id = ?, file_marker = ?, sync_enabled = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, e.Status, e.Priority, nullStr(fmtTime(e.DueDate)),
		nullID(e.ParentID), nullStr(e.FileMarker), boolToInt(e.SyncEnabled),
		fmtTime(e.UpdatedAt), e.ID,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update entity %d: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return ErrNotFound
	}

	if err := appendActivityTx(tx, e.ID, e.Kind, action, occurredAt, detail); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}

	s.notify(Change{EntityID: e.ID, EntityKind: e.Kind, Action: action})
	return nil
}

// ResolveEntity runs a read-modify-write cycle on one entity inside a single
// transaction: fn receives the current row and mutates it, returning the
// activity action and detail to record. Used by the reconciler for conflict
// resolution so a concurrent API write can never interleave halfway through.
func (s *Store) ResolveEntity(id int64, fn func(*Entity) (action, detail string, err error)) (*Entity, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin resolve: %w", err)
	}

	row := tx.QueryRow(`SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		_ = tx.Rollback()
		return nil, ErrNotFound
	}
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	action, detail, err := fn(e)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	now := time.Now().UTC()
	e.UpdatedAt = now
	_, err = tx.Exec(
		`UPDATE entities SET title = ?, status = ?, priority = ?, due_date = ?,
			parent_id = ?, file_marker = ?, sync_enabled = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, e.Status, e.Priority, nullStr(fmtTime(e.DueDate)),
		nullID(e.ParentID), nullStr(e.FileMarker), boolToInt(e.SyncEnabled),
		fmtTime(e.UpdatedAt), e.ID,
	)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("resolve entity %d: %w", id, err)
	}

	if err := appendActivityTx(tx, e.ID, e.Kind, action, now, detail); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit resolve: %w", err)
	}

	s.notify(Change{EntityID: e.ID, EntityKind: e.Kind, Action: action})
	return e, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
