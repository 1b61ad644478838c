package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkrall/momentum/internal/config"
	"github.com/mkrall/momentum/internal/ipc"
	"github.com/mkrall/momentum/internal/momentum"
	"github.com/mkrall/momentum/internal/reconciler"
	"github.com/mkrall/momentum/internal/scheduler"
	"github.com/mkrall/momentum/internal/store"
)

// setupDaemon wires a daemon against a temp store and vault without starting
// the IPC server or scheduler loop.
func setupDaemon(t *testing.T) (*Daemon, *store.Store, string) {
	t.Helper()

	dir := t.TempDir()
	vaultDir := filepath.Join(dir, "vault")
	if err := os.MkdirAll(vaultDir, 0755); err != nil {
		t.Fatalf("mkdir vault: %v", err)
	}

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.DBPath = filepath.Join(dir, "momentum.db")
	cfg.SocketPath = filepath.Join(dir, "momentum.sock")
	cfg.VaultPaths = []string{vaultDir}
	cfg.PassTimeoutSeconds = 30
	cfg.IORetryAttempts = 1

	s, err := store.New(cfg.DBPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	d := New(cfg, nil)
	d.store = s
	d.rec = reconciler.New(s, cfg)
	d.sched = scheduler.New(d.rec, cfg, nil)
	return d, s, vaultDir
}

func TestScoresRanksProjects(t *testing.T) {
	d, s, _ := setupDaemon(t)

	fresh := &store.Entity{Kind: store.KindProject, Title: "Fresh", Status: store.StatusActive}
	if err := s.CreateEntity(fresh); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	stale := &store.Entity{Kind: store.KindProject, Title: "Stale", Status: store.StatusActive}
	if err := s.CreateEntity(stale); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	// Give the fresh project recent qualifying activity; push the stale
	// project's only activity far into the past.
	if err := s.AppendActivity(fresh.ID, store.KindProject, store.ActionCompleted, time.Now().UTC().Add(-1*time.Hour), ""); err != nil {
		t.Fatalf("AppendActivity: %v", err)
	}
	if err := s.AppendActivity(stale.ID, store.KindProject, store.ActionUpdated, time.Now().UTC().Add(-40*24*time.Hour), ""); err != nil {
		t.Fatalf("AppendActivity: %v", err)
	}

	snaps, err := d.Scores(0)
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	if snaps[0].EntityID != fresh.ID {
		t.Errorf("expected fresh project ranked first, got entity %d", snaps[0].EntityID)
	}
	if snaps[0].Score <= snaps[1].Score {
		t.Errorf("scores not descending: %v then %v", snaps[0].Score, snaps[1].Score)
	}
}

func TestScoresSingleEntityIncludesChildActivity(t *testing.T) {
	d, s, _ := setupDaemon(t)

	proj := &store.Entity{Kind: store.KindProject, Title: "Parent", Status: store.StatusActive}
	if err := s.CreateEntity(proj); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	task := &store.Entity{Kind: store.KindTask, Title: "Child", Status: store.StatusPending, ParentID: proj.ID}
	if err := s.CreateEntity(task); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	snaps, err := d.Scores(proj.ID)
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}

	snap := snaps[0]
	if snap.EntityID != proj.ID {
		t.Errorf("EntityID = %d, want %d", snap.EntityID, proj.ID)
	}
	if snap.Score <= 0 {
		t.Errorf("expected positive score from creation activity, got %v", snap.Score)
	}
	// Fresh project with a pending next action and healthy momentum.
	if snap.Zone != momentum.ZoneOpportunityNow {
		t.Errorf("Zone = %q, want %q", snap.Zone, momentum.ZoneOpportunityNow)
	}

	if _, err := d.Scores(proj.ID + 999); err == nil {
		t.Error("expected error scoring a missing entity")
	}
}

func TestFlaggedListsConflictsAndOrphans(t *testing.T) {
	d, s, vaultDir := setupDaemon(t)

	states := []*store.SyncState{
		{Path: filepath.Join(vaultDir, "conflicted.md"), FileMarker: "m-1", SyncStatus: store.SyncConflict},
		{Path: filepath.Join(vaultDir, "widowed.md"), FileMarker: "m-2", SyncStatus: store.SyncOrphanedFile},
		{Path: filepath.Join(vaultDir, "gone.md"), FileMarker: "m-3", SyncStatus: store.SyncOrphanedRow},
		{Path: filepath.Join(vaultDir, "fine.md"), FileMarker: "m-4", SyncStatus: store.SyncClean},
	}
	for _, ss := range states {
		if err := s.UpsertSyncState(ss); err != nil {
			t.Fatalf("UpsertSyncState: %v", err)
		}
	}

	flagged, err := d.Flagged()
	if err != nil {
		t.Fatalf("Flagged: %v", err)
	}
	if len(flagged.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(flagged.Conflicts))
	}
	if flagged.Conflicts[0].FileMarker != "m-1" || flagged.Conflicts[0].Resolution != "flagged" {
		t.Errorf("unexpected conflict record: %+v", flagged.Conflicts[0])
	}
	if len(flagged.Orphans) != 2 {
		t.Fatalf("got %d orphans, want 2", len(flagged.Orphans))
	}
	kinds := map[string]bool{}
	for _, o := range flagged.Orphans {
		kinds[o.Kind] = true
	}
	if !kinds[store.SyncOrphanedFile] || !kinds[store.SyncOrphanedRow] {
		t.Errorf("orphan kinds missing: %+v", flagged.Orphans)
	}
}

func TestResolveClearsFlaggedConflict(t *testing.T) {
	d, s, vaultDir := setupDaemon(t)

	path := filepath.Join(vaultDir, "contested.md")
	if err := os.WriteFile(path, []byte("---\nmarker: m-9\ntype: project\ntitle: Contested\n---\nbody\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := s.UpsertSyncState(&store.SyncState{Path: path, FileMarker: "m-9", SyncStatus: store.SyncConflict}); err != nil {
		t.Fatalf("UpsertSyncState: %v", err)
	}

	if err := d.Resolve(path, "db"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	ss, err := s.GetSyncState(path)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if ss.SyncStatus != store.SyncClean {
		t.Errorf("SyncStatus = %q, want %q", ss.SyncStatus, store.SyncClean)
	}

	// Resolving a unit that is not flagged is an error.
	if err := d.Resolve(path, "db"); err == nil {
		t.Error("expected error resolving a non-flagged unit")
	}
}

func TestSyncNowDelegatesToReconciler(t *testing.T) {
	d, s, vaultDir := setupDaemon(t)

	content := "---\ntype: project\ntitle: From The Vault\nstatus: active\n---\n\nSome body.\n"
	if err := os.WriteFile(filepath.Join(vaultDir, "from-the-vault.md"), []byte(content), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	report, err := d.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if report.EntitiesCreated != 1 {
		t.Errorf("EntitiesCreated = %d, want 1", report.EntitiesCreated)
	}

	entities, err := s.ListEntities(store.KindProject)
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(entities) != 1 || entities[0].Title != "From The Vault" {
		t.Errorf("unexpected entities after sync: %+v", entities)
	}
}

// A client hitting the socket the instant it appears must get a real sync,
// not a crash: the reconciler and scheduler are wired before the listener.
func TestSyncServedAsSoonAsSocketAccepts(t *testing.T) {
	dir := t.TempDir()
	vaultDir := filepath.Join(dir, "vault")
	if err := os.MkdirAll(vaultDir, 0755); err != nil {
		t.Fatalf("mkdir vault: %v", err)
	}
	content := "---\ntype: project\ntitle: Early Bird\nstatus: active\n---\n\nFirst in line.\n"
	if err := os.WriteFile(filepath.Join(vaultDir, "early-bird.md"), []byte(content), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.DBPath = filepath.Join(dir, "momentum.db")
	cfg.SocketPath = filepath.Join(dir, "momentum.sock")
	cfg.VaultPaths = []string{vaultDir}
	cfg.PassTimeoutSeconds = 30
	cfg.IORetryAttempts = 1

	srv := ipc.NewServer(nil, nil, cfg.VaultPaths)
	d := New(cfg, srv)
	srv.SetDaemon(d)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start() }()

	client := ipc.NewClient(cfg.SocketPath)
	deadline := time.Now().Add(5 * time.Second)
	var report *reconciler.SyncReport
	for {
		r, err := client.Sync()
		if err == nil {
			report = r
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sync over socket never succeeded: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if report.EntitiesCreated != 1 {
		t.Errorf("EntitiesCreated = %d, want 1", report.EntitiesCreated)
	}

	if err := client.Ping(); err != nil {
		t.Errorf("ping after sync: %v", err)
	}

	d.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("daemon exited with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}
