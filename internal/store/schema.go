package store

// schemaVersion is the current schema version. Increment when adding migrations.
const schemaVersion = 2

// migrations maps version numbers to SQL statements that bring the schema
// from (version-1) to (version). Version 1 is the initial schema.
var migrations = map[int]string{
	1: `
-- Canonical records for projects, tasks, areas, goals, and visions.
CREATE TABLE IF NOT EXISTS entities (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	kind         TEXT    NOT NULL,
	title        TEXT    NOT NULL,
	status       TEXT    NOT NULL,
	priority     TEXT    NOT NULL DEFAULT 'normal',
	parent_id    INTEGER REFERENCES entities(id),
	file_marker  TEXT,
	sync_enabled INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT    NOT NULL,
	updated_at   TEXT    NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_file_marker
	ON entities(file_marker) WHERE file_marker IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(parent_id);

-- Append-only activity log. Never updated, never deleted; it is the sole
-- source of truth for momentum history.
CREATE TABLE IF NOT EXISTS activity_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id   INTEGER NOT NULL,
	entity_kind TEXT    NOT NULL,
	action      TEXT    NOT NULL,
	occurred_at TEXT    NOT NULL,
	detail      TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_activity_entity ON activity_log(entity_id);
CREATE INDEX IF NOT EXISTS idx_activity_occurred ON activity_log(occurred_at);

-- Per-file sync bookkeeping. Control data only: losing this table costs one
-- extra full reconciliation pass, never data.
CREATE TABLE IF NOT EXISTS sync_state (
	path              TEXT PRIMARY KEY,
	file_marker       TEXT,
	file_hash         TEXT NOT NULL DEFAULT '',
	last_synced_mtime TEXT NOT NULL DEFAULT '',
	last_synced_at    TEXT NOT NULL DEFAULT '',
	sync_status       TEXT NOT NULL DEFAULT 'clean'
);

CREATE INDEX IF NOT EXISTS idx_sync_state_marker ON sync_state(file_marker);
CREATE INDEX IF NOT EXISTS idx_sync_state_status ON sync_state(sync_status);

-- Key-value store for daemon metadata (schema version, cursors, etc).
CREATE TABLE IF NOT EXISTS daemon_state (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
`,

	2: `
-- Deadlines arrived with urgency-zone classification.
ALTER TABLE entities ADD COLUMN due_date TEXT;

CREATE INDEX IF NOT EXISTS idx_entities_due ON entities(due_date);
`,
}
