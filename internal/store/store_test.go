package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "store-test-*")
	if err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Close()
		os.RemoveAll(dir)
	})
	return s
}

func TestMigrations_SchemaVersion(t *testing.T) {
	s := setupTestStore(t)

	val, err := s.GetDaemonState("schema_version")
	if err != nil {
		t.Fatalf("GetDaemonState: %v", err)
	}
	if val != "2" {
		t.Errorf("schema_version = %q, want \"2\"", val)
	}
}

func TestCreateEntity_AppendsActivity(t *testing.T) {
	s := setupTestStore(t)

	e := &Entity{Kind: KindProject, Title: "Write a novel", Status: StatusActive}
	if err := s.CreateEntity(e); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if e.ID == 0 {
		t.Fatal("expected non-zero id after create")
	}

	entries, err := s.ListActivity(e.ID)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 activity entry, got %d", len(entries))
	}
	if entries[0].Action != ActionCreated {
		t.Errorf("action = %q, want %q", entries[0].Action, ActionCreated)
	}
}

func TestUpdateEntity_BumpsUpdatedAt(t *testing.T) {
	s := setupTestStore(t)

	e := &Entity{Kind: KindProject, Title: "Garden", Status: StatusActive}
	if err := s.CreateEntity(e); err != nil {
		t.Fatal(err)
	}
	before := e.UpdatedAt

	time.Sleep(5 * time.Millisecond)

	e.Status = StatusStalled
	if err := s.UpdateEntity(e, ActionStatusChanged, `{"status":{"old":"active","new":"stalled"}}`); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}

	got, err := s.GetEntity(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.After(before) {
		t.Errorf("updated_at %v not after %v", got.UpdatedAt, before)
	}
	if got.Status != StatusStalled {
		t.Errorf("status = %q, want %q", got.Status, StatusStalled)
	}
}

func TestGetEntityByMarker(t *testing.T) {
	s := setupTestStore(t)

	e := &Entity{Kind: KindProject, Title: "Marked", Status: StatusActive, FileMarker: "m-42", SyncEnabled: true}
	if err := s.CreateEntity(e); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEntityByMarker("m-42")
	if err != nil {
		t.Fatalf("GetEntityByMarker: %v", err)
	}
	if got.ID != e.ID {
		t.Errorf("id = %d, want %d", got.ID, e.ID)
	}

	if _, err := s.GetEntityByMarker("m-nope"); err != ErrNotFound {
		t.Errorf("missing marker: err = %v, want ErrNotFound", err)
	}
}

func TestFileMarker_UniqueAcrossRows(t *testing.T) {
	s := setupTestStore(t)

	a := &Entity{Kind: KindProject, Title: "A", Status: StatusActive, FileMarker: "m-dup"}
	if err := s.CreateEntity(a); err != nil {
		t.Fatal(err)
	}

	b := &Entity{Kind: KindProject, Title: "B", Status: StatusActive, FileMarker: "m-dup"}
	if err := s.CreateEntity(b); err == nil {
		t.Error("expected unique constraint violation for duplicate file_marker")
	}
}

func TestResolveEntity_Transactional(t *testing.T) {
	s := setupTestStore(t)

	e := &Entity{Kind: KindProject, Title: "Resolve me", Status: StatusActive}
	if err := s.CreateEntity(e); err != nil {
		t.Fatal(err)
	}

	got, err := s.ResolveEntity(e.ID, func(cur *Entity) (string, string, error) {
		cur.Status = StatusCompleted
		return ActionStatusChanged, `{"status":{"old":"active","new":"completed"}}`, nil
	})
	if err != nil {
		t.Fatalf("ResolveEntity: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, StatusCompleted)
	}

	entries, err := s.ListActivity(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 activity entries (created + status_changed), got %d", len(entries))
	}
	if entries[1].Action != ActionStatusChanged {
		t.Errorf("action = %q, want %q", entries[1].Action, ActionStatusChanged)
	}
}

func TestListProjectActivity_IncludesChildren(t *testing.T) {
	s := setupTestStore(t)

	p := &Entity{Kind: KindProject, Title: "Parent", Status: StatusActive}
	if err := s.CreateEntity(p); err != nil {
		t.Fatal(err)
	}
	task := &Entity{Kind: KindTask, Title: "Child", Status: StatusPending, ParentID: p.ID}
	if err := s.CreateEntity(task); err != nil {
		t.Fatal(err)
	}

	entries, err := s.ListProjectActivity(p.ID)
	if err != nil {
		t.Fatalf("ListProjectActivity: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (project + task created), got %d", len(entries))
	}
}

func TestSyncState_Roundtrip(t *testing.T) {
	s := setupTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	ss := &SyncState{
		Path:            "/vault/projects/novel.md",
		FileMarker:      "m-1",
		FileHash:        "abc123",
		LastSyncedMtime: now,
		LastSyncedAt:    now,
		SyncStatus:      SyncClean,
	}
	if err := s.UpsertSyncState(ss); err != nil {
		t.Fatalf("UpsertSyncState: %v", err)
	}

	got, err := s.GetSyncState(ss.Path)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if got == nil {
		t.Fatal("expected sync state, got nil")
	}
	if got.FileMarker != "m-1" || got.FileHash != "abc123" || got.SyncStatus != SyncClean {
		t.Errorf("unexpected sync state: %+v", got)
	}
	if !got.LastSyncedMtime.Equal(now) {
		t.Errorf("mtime = %v, want %v", got.LastSyncedMtime, now)
	}

	// Unknown paths are not an error.
	missing, err := s.GetSyncState("/vault/nope.md")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("expected nil for untracked path, got %+v", missing)
	}
}

func TestSyncState_ByStatus(t *testing.T) {
	s := setupTestStore(t)

	for i, status := range []string{SyncClean, SyncConflict, SyncOrphanedRow} {
		ss := &SyncState{
			Path:       filepath.Join("/vault", string(rune('a'+i))+".md"),
			SyncStatus: status,
		}
		if err := s.UpsertSyncState(ss); err != nil {
			t.Fatal(err)
		}
	}

	conflicts, err := s.ListSyncStatesByStatus(SyncConflict)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Errorf("expected 1 conflict row, got %d", len(conflicts))
	}
}

func TestOnChange_FiresAfterCommit(t *testing.T) {
	s := setupTestStore(t)

	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	e := &Entity{Kind: KindTask, Title: "Notify", Status: StatusPending}
	if err := s.CreateEntity(e); err != nil {
		t.Fatal(err)
	}
	e.Status = StatusDone
	if err := s.UpdateEntity(e, ActionCompleted, ""); err != nil {
		t.Fatal(err)
	}

	if len(changes) != 2 {
		t.Fatalf("expected 2 change notifications, got %d", len(changes))
	}
	if changes[1].Action != ActionCompleted {
		t.Errorf("action = %q, want %q", changes[1].Action, ActionCompleted)
	}
}

func TestLatestActivityAt(t *testing.T) {
	s := setupTestStore(t)

	p := &Entity{Kind: KindProject, Title: "P", Status: StatusActive}
	if err := s.CreateEntity(p); err != nil {
		t.Fatal(err)
	}

	old := time.Now().UTC().Add(-48 * time.Hour)
	if err := s.AppendActivity(p.ID, KindProject, ActionUpdated, old, ""); err != nil {
		t.Fatal(err)
	}

	latest, err := s.LatestActivityAt(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	// The created entry is newer than the backdated update.
	if latest.Before(old.Add(time.Hour)) {
		t.Errorf("latest = %v, expected the recent created entry to win", latest)
	}
}

func TestMigrations_ReopenIsNoOp(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	e := &Entity{Kind: KindProject, Title: "Survives reopen", Status: StatusActive}
	if err := s.CreateEntity(e); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening runs the migration path against an already-current database.
	s2, err := New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	val, err := s2.GetDaemonState("schema_version")
	if err != nil {
		t.Fatal(err)
	}
	if val != "2" {
		t.Errorf("schema_version after reopen = %q, want \"2\"", val)
	}

	got, err := s2.GetEntity(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Survives reopen" {
		t.Errorf("entity title after reopen = %q", got.Title)
	}
}
