// Package scheduler owns the engine's single background execution context.
// It triggers reconciliation on a fixed interval and on debounced filesystem
// notifications, and exposes a manual "sync now" trigger. Passes never
// overlap: the reconciler serializes them, and the scheduler coalesces
// pending triggers into at most one queued pass.
package scheduler

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mkrall/momentum/internal/config"
	"github.com/mkrall/momentum/internal/reconciler"
	"github.com/mkrall/momentum/internal/vault"
)

// Snapshotter records a vault snapshot after a pass that changed files.
// Optional: a nil Snapshotter disables snapshotting.
type Snapshotter interface {
	Commit(report *reconciler.SyncReport) error
}

// Scheduler drives the reconciler. Each instance owns its own lifecycle;
// multiple instances are constructible for testing.
type Scheduler struct {
	rec  *reconciler.Reconciler
	cfg  *config.Config
	snap Snapshotter

	fsw       *fsnotify.Watcher
	filter    *vault.Filter
	debouncer *Debouncer
	trigger   chan struct{}
}

// New creates a Scheduler wired to the given reconciler and config.
// snap may be nil.
func New(rec *reconciler.Reconciler, cfg *config.Config, snap Snapshotter) *Scheduler {
	return &Scheduler{
		rec:     rec,
		cfg:     cfg,
		snap:    snap,
		trigger: make(chan struct{}, 1),
	}
}

// SyncNow requests a reconciliation pass. Safe to call from any goroutine;
// multiple requests while a pass is queued coalesce into one.
func (s *Scheduler) SyncNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start begins the scheduling loop: an interval ticker plus recursive
// fsnotify watches over the vault roots. It blocks until ctx is cancelled.
// A pass in progress completes its current unit before a stop is honored.
func (s *Scheduler) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.fsw = fsw

	s.filter = vault.NewFilter(s.cfg.IgnorePatterns)
	s.debouncer = NewDebouncer(s.cfg.DebounceWindow(), func(string) {
		s.SyncNow()
	})

	for _, root := range s.cfg.VaultPaths {
		if err := s.addRecursive(root); err != nil {
			log.Printf("scheduler: watch %s: %v", root, err)
		}
	}

	ticker := time.NewTicker(s.cfg.SyncInterval())
	defer ticker.Stop()

	// Initial pass on startup so the vault and store converge before the
	// first tick.
	s.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			s.runPass(ctx)

		case <-s.trigger:
			s.runPass(ctx)

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			s.handleEvent(ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("scheduler: fsnotify error: %v", err)
		}
	}
}

// Stop drains the debouncer and closes the fsnotify watcher.
func (s *Scheduler) Stop() {
	if s.debouncer != nil {
		s.debouncer.Stop()
	}
	if s.fsw != nil {
		_ = s.fsw.Close()
	}
}

// runPass executes one reconciliation pass and logs its outcome.
func (s *Scheduler) runPass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	report, err := s.rec.RunSync(ctx)
	if err != nil {
		log.Printf("scheduler: sync pass failed: %v", err)
		return
	}

	if !report.Empty() {
		log.Printf("scheduler: pass scanned=%d files_updated=%d files_created=%d rows_updated=%d entities_created=%d conflicts=%d orphans=%d skipped=%d",
			report.FilesScanned, report.FilesUpdated, report.FilesCreated,
			report.RowsUpdated, report.EntitiesCreated,
			len(report.Conflicts), len(report.Orphans), len(report.Skipped))
	}
	if report.TimedOut {
		log.Printf("scheduler: pass hit its time budget, remaining files resume next tick")
	}

	if s.snap != nil && (report.FilesUpdated > 0 || report.FilesCreated > 0) {
		if err := s.snap.Commit(report); err != nil {
			log.Printf("scheduler: vault snapshot: %v", err)
		}
	}
}

// handleEvent filters and debounces a single fsnotify event.
func (s *Scheduler) handleEvent(ev fsnotify.Event) {
	if s.filter.ShouldIgnore(ev.Name) {
		return
	}

	// Watch newly created directories recursively.
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = s.addRecursive(ev.Name)
			return
		}
	}

	if !interesting(ev.Op) {
		return
	}
	if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		// Only markdown files matter for sync; deletes and renames are fed
		// through regardless since the old path's extension is all we have.
		if filepath.Ext(ev.Name) != ".md" {
			return
		}
	}

	s.debouncer.Feed(ev.Name)
}

// addRecursive walks root and adds every directory that is not ignored.
func (s *Scheduler) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible entries
		}
		if !d.IsDir() {
			return nil
		}
		if s.filter.ShouldIgnore(path) {
			return filepath.SkipDir
		}
		_ = s.fsw.Add(path)
		return nil
	})
}

// interesting reports whether the fsnotify operation can affect sync state.
func interesting(op fsnotify.Op) bool {
	return op.Has(fsnotify.Create) || op.Has(fsnotify.Write) ||
		op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)
}
