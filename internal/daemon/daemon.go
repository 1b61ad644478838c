// Package daemon wires the engine together: store, reconciler, scheduler,
// optional vault snapshotter, and the IPC server, with ordered shutdown.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mkrall/momentum/internal/config"
	"github.com/mkrall/momentum/internal/ipc"
	"github.com/mkrall/momentum/internal/momentum"
	"github.com/mkrall/momentum/internal/reconciler"
	"github.com/mkrall/momentum/internal/scheduler"
	"github.com/mkrall/momentum/internal/snapshot"
	"github.com/mkrall/momentum/internal/store"
)

// IPCServer is the interface the daemon uses to start/stop the IPC listener.
// This avoids a circular dependency with the ipc package.
type IPCServer interface {
	Listen(socketPath string, ctx context.Context) error
	Stop() error
}

// StoreAware can receive a store reference after it becomes available.
type StoreAware interface {
	SetStore(store interface{})
}

// Daemon manages the lifecycle of the momentum background process.
type Daemon struct {
	cfg       *config.Config
	store     *store.Store
	ipc       IPCServer
	rec       *reconciler.Reconciler
	sched     *scheduler.Scheduler
	scorer    *momentum.Scorer
	startTime time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

// New creates a new Daemon with the given config.
// The IPC server is injected to avoid circular imports.
func New(cfg *config.Config, ipcServer IPCServer) *Daemon {
	return &Daemon{
		cfg:    cfg,
		ipc:    ipcServer,
		scorer: momentum.NewScorer(scorerConfig(cfg)),
	}
}

// Start initialises the store, runs migrations, starts the IPC server and
// the sync scheduler, and blocks until the context is cancelled (via signal
// or Stop).
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.mu.Unlock()

	// Ensure data directory exists.
	if err := d.cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Open store (runs migrations).
	s, err := store.New(d.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	d.store = s

	// If the IPC server is StoreAware, give it the store reference.
	if sa, ok := d.ipc.(StoreAware); ok {
		sa.SetStore(s)
	}

	// SIGTERM/SIGINT cancel the run context, which drives the ordered
	// shutdown below.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	d.ctx = ctx
	d.cancel = cancel
	d.startTime = time.Now()

	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	// --- Sync engine ---
	// Built before the IPC listener comes up: a client can land a sync or
	// resolve request the moment the socket exists.
	d.rec = reconciler.New(s, d.cfg)

	var snap scheduler.Snapshotter
	if d.cfg.SnapshotEnabled && len(d.cfg.VaultPaths) > 0 {
		v, err := snapshot.Open(d.cfg.VaultPaths[0])
		if err != nil {
			log.Printf("snapshot open warning (vault not a git repo?): %v", err)
		} else {
			snap = v
		}
	}

	d.sched = scheduler.New(d.rec, d.cfg, snap)
	go func() {
		if err := d.sched.Start(d.ctx); err != nil {
			log.Printf("scheduler error: %v", err)
		}
	}()

	// Start IPC server in a goroutine.
	ipcErrCh := make(chan error, 1)
	go func() {
		ipcErrCh <- d.ipc.Listen(d.cfg.SocketPath, d.ctx)
	}()

	// External writers (CRUD callers sharing the store) trigger a debounced
	// sync so their edits reach the vault promptly. Changes originating from
	// the reconciler itself do not re-trigger.
	s.OnChange(func(ch store.Change) {
		if strings.HasPrefix(ch.Action, "synced_") {
			return
		}
		d.sched.SyncNow()
	})

	log.Printf("daemon started (pid %d, db %s, socket %s)", os.Getpid(), d.cfg.DBPath, d.cfg.SocketPath)

	// Block until context is cancelled or IPC server fails.
	select {
	case <-d.ctx.Done():
		log.Println("shutdown signal received")
	case err := <-ipcErrCh:
		if err != nil {
			log.Printf("IPC server error: %v", err)
		}
	}

	// Clean shutdown.
	return d.shutdown()
}

// Stop triggers a graceful shutdown from outside (e.g. via IPC stop command).
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

// shutdown performs ordered teardown: scheduler, then IPC server, then store,
// then socket cleanup.
func (d *Daemon) shutdown() error {
	log.Println("shutting down...")

	// Stop the scheduler first (drains the debouncer, closes the watcher,
	// lets any in-flight pass finish against an open store).
	if d.sched != nil {
		d.sched.Stop()
	}

	// Stop IPC server (stops accepting, drains connections).
	if d.ipc != nil {
		if err := d.ipc.Stop(); err != nil {
			log.Printf("ipc stop: %v", err)
		}
	}

	// Close the store.
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Printf("store close: %v", err)
		}
	}

	// Remove socket file.
	_ = os.Remove(d.cfg.SocketPath)

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	log.Println("daemon stopped")
	return nil
}

// Running returns true if the daemon is currently running.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Store returns the daemon's data store (for use by IPC handlers).
func (d *Daemon) Store() *store.Store {
	return d.store
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	if d.startTime.IsZero() {
		return 0
	}
	return time.Since(d.startTime)
}

// Config returns the daemon's configuration.
func (d *Daemon) Config() *config.Config {
	return d.cfg
}

// SyncNow runs a reconciliation pass immediately and returns its report.
// The reconciler serializes passes internally, so a concurrent scheduled
// pass simply makes this call wait.
func (d *Daemon) SyncNow(ctx context.Context) (*reconciler.SyncReport, error) {
	return d.rec.RunSync(ctx)
}

// Scores computes momentum snapshots. With entityID 0 it scores every
// project; otherwise just the named entity.
func (d *Daemon) Scores(entityID int64) ([]momentum.Snapshot, error) {
	now := time.Now().UTC()

	if entityID != 0 {
		snap, err := d.scoreOne(entityID, now)
		if err != nil {
			return nil, err
		}
		return []momentum.Snapshot{snap}, nil
	}

	projects, err := d.store.ListEntities(store.KindProject)
	if err != nil {
		return nil, err
	}

	snaps := make([]momentum.Snapshot, 0, len(projects))
	for _, p := range projects {
		snap, err := d.scoreOne(p.ID, now)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}

	// Highest momentum first.
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Score > snaps[j].Score })
	return snaps, nil
}

func (d *Daemon) scoreOne(entityID int64, now time.Time) (momentum.Snapshot, error) {
	e, err := d.store.GetEntity(entityID)
	if err != nil {
		return momentum.Snapshot{}, err
	}

	var tasks []*store.Entity
	var entries []store.ActivityEntry
	if e.Kind == store.KindProject {
		tasks, err = d.store.ListChildren(e.ID)
		if err != nil {
			return momentum.Snapshot{}, err
		}
		entries, err = d.store.ListProjectActivity(e.ID)
	} else {
		entries, err = d.store.ListActivity(e.ID)
	}
	if err != nil {
		return momentum.Snapshot{}, err
	}

	return d.scorer.Score(e, tasks, entries, now), nil
}

// Flagged lists every sync unit awaiting user attention: conflicts under
// manual mode plus orphaned files and rows.
func (d *Daemon) Flagged() (*ipc.FlaggedData, error) {
	flagged := &ipc.FlaggedData{}

	conflicts, err := d.store.ListSyncStatesByStatus(store.SyncConflict)
	if err != nil {
		return nil, err
	}
	for _, ss := range conflicts {
		flagged.Conflicts = append(flagged.Conflicts, reconciler.ConflictRecord{
			Path:       ss.Path,
			FileMarker: ss.FileMarker,
			Resolution: "flagged",
		})
	}

	for _, status := range []string{store.SyncOrphanedFile, store.SyncOrphanedRow} {
		states, err := d.store.ListSyncStatesByStatus(status)
		if err != nil {
			return nil, err
		}
		for _, ss := range states {
			flagged.Orphans = append(flagged.Orphans, reconciler.OrphanRecord{
				Path:       ss.Path,
				FileMarker: ss.FileMarker,
				Kind:       status,
			})
		}
	}

	return flagged, nil
}

// Resolve picks a winning side for a manually flagged conflict, then
// triggers a pass so the resolution propagates right away.
func (d *Daemon) Resolve(path, winner string) error {
	if err := d.rec.ResolveFlagged(path, winner); err != nil {
		return err
	}
	d.sched.SyncNow()
	return nil
}

func scorerConfig(cfg *config.Config) momentum.Config {
	return momentum.Config{
		HalfLife:         time.Duration(cfg.HalfLifeDays * 24 * float64(time.Hour)),
		StalledThreshold: cfg.StalledThreshold(),
		HealthyFloor:     cfg.HealthyMomentumFloor,
		ImminentDeadline: time.Duration(cfg.ImminentDeadlineDays) * 24 * time.Hour,
	}
}
