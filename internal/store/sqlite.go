package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver.
)

// timeFormat is used for every timestamp column. RFC3339 with nanoseconds so
// that updated_at vs last_synced_at comparisons survive sub-second edits.
const timeFormat = time.RFC3339Nano

// Change describes a committed entity mutation, delivered to subscribers
// registered via OnChange.
type Change struct {
	EntityID   int64
	EntityKind Kind
	Action     string
}

// Store wraps a SQLite database connection for the daemon.
type Store struct {
	db *sql.DB

	mu          sync.Mutex
	subscribers []func(Change)
}

// New opens (or creates) the SQLite database at dbPath with WAL mode
// and a 5-second busy timeout, then runs any pending migrations.
func New(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection and WAL mode.
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("check journal mode: %w", err)
	}
	if journalMode != "wal" {
		_ = db.Close()
		return nil, fmt.Errorf("expected WAL journal mode, got %q", journalMode)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// OnChange registers a callback invoked after every committed entity
// mutation. Callbacks run synchronously on the mutating goroutine and must
// not call back into the Store.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// notify fans a committed change out to all subscribers.
func (s *Store) notify(ch Change) {
	s.mu.Lock()
	subs := make([]func(Change), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(ch)
	}
}

// GetDaemonState reads a value from the daemon_state table.
// Returns "" (no error) when the key is absent.
func (s *Store) GetDaemonState(key string) (string, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM daemon_state WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// SetDaemonState writes a key/value pair to the daemon_state table.
func (s *Store) SetDaemonState(key, value string) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.Exec(
		`INSERT INTO daemon_state (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	)
	return err
}

// EntitiesCount returns the number of entity rows.
func (s *Store) EntitiesCount() (int64, error) {
	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&count)
	return count, err
}

// ActivityCount returns the number of activity-log entries.
func (s *Store) ActivityCount() (int64, error) {
	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM activity_log").Scan(&count)
	return count, err
}

// SyncStatesCount returns the number of tracked file paths.
func (s *Store) SyncStatesCount() (int64, error) {
	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM sync_state").Scan(&count)
	return count, err
}

// DBSizeBytes returns the database file size in bytes.
// This is an approximation using page_count * page_size.
func (s *Store) DBSizeBytes() (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, err
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pageCount * pageSize, nil
}

// fmtTime formats t for storage. Zero times are stored as the empty string.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

// parseTime parses a stored timestamp. Empty strings parse to the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		// Older rows may carry second-resolution timestamps.
		t, err = time.Parse(time.RFC3339, s)
	}
	return t, err
}
