// Package reconciler keeps the entity store and the markdown vault
// convergent. Each pass compares every tracked unit (one entity bound to one
// file by its file marker), decides the direction of propagation, and applies
// changes to whichever side is stale. Ambiguous situations are flagged and
// skipped, never guessed at: the engine must not corrupt user files.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkrall/momentum/internal/config"
	"github.com/mkrall/momentum/internal/fingerprint"
	"github.com/mkrall/momentum/internal/frontmatter"
	"github.com/mkrall/momentum/internal/store"
	"github.com/mkrall/momentum/internal/vault"
)

// ErrStoreUnavailable marks entity-store failures. A pass that hits one
// aborts cleanly; the next scheduled tick retries.
var ErrStoreUnavailable = errors.New("entity store unavailable")

// Reconciler runs reconciliation passes. Passes are strictly sequential:
// one completes fully before the next begins.
type Reconciler struct {
	store  *store.Store
	cfg    *config.Config
	filter *vault.Filter

	mu sync.Mutex
}

// New creates a Reconciler over the given store and configuration.
func New(s *store.Store, cfg *config.Config) *Reconciler {
	return &Reconciler{
		store:  s,
		cfg:    cfg,
		filter: vault.NewFilter(cfg.IgnorePatterns),
	}
}

// RunSync executes one full reconciliation pass and returns its report.
//
// The pass walks every markdown file under the vault roots, classifies it
// against stored sync state, applies the resulting transition, then sweeps
// for vanished files and for sync-enabled entities that have no file yet.
// A pass that exceeds the configured wall-clock budget stops after its
// current unit and leaves the remaining files for the next tick.
func (r *Reconciler) RunSync(ctx context.Context) (*SyncReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := &SyncReport{StartedAt: time.Now().UTC()}

	if r.cfg.PassTimeout() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.PassTimeout())
		defer cancel()
	}

	paths, err := vault.Walk(r.cfg.VaultPaths, r.filter)
	if err != nil {
		return nil, fmt.Errorf("walk vault: %w", err)
	}

	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		if ctx.Err() != nil {
			report.TimedOut = true
			break
		}
		seen[path] = true
		report.FilesScanned++

		if err := r.reconcileFile(path, report); err != nil {
			if errors.Is(err, ErrStoreUnavailable) {
				return nil, err
			}
			report.addSkip(path, err.Error())
		}
	}

	if !report.TimedOut {
		if err := r.sweepMissing(seen, report); err != nil {
			return nil, err
		}
		if err := r.createMissingFiles(ctx, report); err != nil {
			return nil, err
		}
	}

	if err := r.collectFlagged(report); err != nil {
		return nil, err
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// storeErr wraps a store-layer failure so the pass aborts instead of
// misreading missing data as a sync decision.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// reconcileFile runs the state machine for a single on-disk file.
func (r *Reconciler) reconcileFile(path string, report *SyncReport) error {
	ss, err := r.store.GetSyncState(path)
	if err != nil {
		return storeErr(err)
	}

	res, err := r.classify(path, ss)
	if err != nil {
		return err
	}

	switch res.Change {
	case fingerprint.Missing:
		return nil // handled by sweepMissing
	case fingerprint.New:
		return r.reconcileNew(path, res, report)
	case fingerprint.Unchanged:
		return r.reconcileUnchanged(path, ss, res, report)
	case fingerprint.ExternallyModified:
		return r.reconcileModified(path, ss, res, report)
	}
	return nil
}

// reconcileNew handles a file with no sync state: either a brand new note
// (mint an entity and write the marker back) or a file that already carries
// a marker, e.g. after a rename or a fresh checkout of the vault.
func (r *Reconciler) reconcileNew(path string, res *fingerprint.Result, report *SyncReport) error {
	fields, body, err := frontmatter.Decode(res.Data)
	if errors.Is(err, frontmatter.ErrNoFrontmatter) {
		return nil // not a sync candidate
	}
	if err != nil {
		report.addSkip(path, err.Error())
		return nil
	}

	if fields.Marker == "" {
		return r.mintEntity(path, fields, body, res, report)
	}

	// The marker may already be tracked under another path (file moved).
	other, err := r.store.GetSyncStateByMarker(fields.Marker)
	if err != nil {
		return storeErr(err)
	}
	if other != nil && other.Path != path {
		if fileExists(other.Path) {
			report.addSkip(path, fmt.Sprintf("marker %s already carried by %s", fields.Marker, other.Path))
			return nil
		}
		// Rename: the old path is gone, adopt the new one.
		if err := r.store.DeleteSyncState(other.Path); err != nil {
			return storeErr(err)
		}
	}

	e, err := r.store.GetEntityByMarker(fields.Marker)
	if errors.Is(err, store.ErrNotFound) {
		// File references an entity that does not exist: orphaned file.
		if err := r.store.UpsertSyncState(&store.SyncState{
			Path:       path,
			FileMarker: fields.Marker,
			FileHash:   res.Digest,
			SyncStatus: store.SyncOrphanedFile,
		}); err != nil {
			return storeErr(err)
		}
		return nil
	}
	if err != nil {
		return storeErr(err)
	}

	// First contact for an existing pairing: no baseline to compare
	// against, so differing fields resolve like a conflict.
	if !structuredDiffers(fields, e) {
		return r.markClean(path, e.FileMarker, res.Digest, res.Mtime)
	}
	return r.resolveConflict(path, e, fields, body, res, report)
}

// mintEntity creates a new entity for a marker-less file and writes the
// fresh marker back into its header.
func (r *Reconciler) mintEntity(path string, fields *frontmatter.Fields, body []byte, res *fingerprint.Result, report *SyncReport) error {
	kind := store.KindProject
	if fields.Kind != "" {
		k, ok := validKinds[fields.Kind]
		if !ok {
			report.addSkip(path, fmt.Sprintf("unknown entity type %q", fields.Kind))
			return nil
		}
		kind = k
	}

	title := fields.Title
	if title == "" {
		base := filepath.Base(path)
		title = base[:len(base)-len(filepath.Ext(base))]
	}
	status := fields.Status
	if status == "" {
		status = defaultStatus(kind)
	}

	e := &store.Entity{
		Kind:        kind,
		Title:       title,
		Status:      status,
		Priority:    fields.Priority,
		DueDate:     fields.Due,
		FileMarker:  "m-" + uuid.NewString(),
		SyncEnabled: true,
	}
	if err := r.store.CreateEntity(e); err != nil {
		return storeErr(err)
	}
	report.EntitiesCreated++

	// Record the pairing before touching the file, so an aborted write
	// surfaces as a flagged unit instead of a duplicate entity next pass.
	if err := r.store.UpsertSyncState(&store.SyncState{
		Path:       path,
		FileMarker: e.FileMarker,
		SyncStatus: store.SyncFileAhead,
	}); err != nil {
		return storeErr(err)
	}

	applyEntityToFields(e, fields)
	out, err := frontmatter.Encode(fields, body)
	if err != nil {
		return err
	}
	mtime, err := r.writeFileChecked(path, res.Digest, out)
	if err != nil {
		if errors.Is(err, ErrFingerprintRace) {
			report.addSkip(path, err.Error())
			return nil
		}
		return err
	}
	report.FilesUpdated++

	return r.markClean(path, e.FileMarker, fingerprint.Fingerprint(out), mtime)
}

// reconcileUnchanged handles a file whose content matches the last sync:
// the only possible propagation is DB -> file.
func (r *Reconciler) reconcileUnchanged(path string, ss *store.SyncState, res *fingerprint.Result, report *SyncReport) error {
	if ss.FileMarker == "" {
		return nil
	}

	e, err := r.store.GetEntityByMarker(ss.FileMarker)
	if errors.Is(err, store.ErrNotFound) {
		return r.flagOrphanedFile(path, ss)
	}
	if err != nil {
		return storeErr(err)
	}
	if e.Status == store.StatusArchived {
		return r.flagOrphanedFile(path, ss)
	}

	if !e.UpdatedAt.After(ss.LastSyncedAt) {
		return nil // Clean: stay put
	}

	// DbAhead: re-encode the entity's structured fields into the header,
	// leaving body and unknown keys exactly as they are on disk.
	data := res.Data
	if data == nil {
		if data, err = r.readFile(path); err != nil {
			return err
		}
	}
	fields, body, err := frontmatter.Decode(data)
	if err != nil {
		report.addSkip(path, err.Error())
		return nil
	}

	applyEntityToFields(e, fields)
	out, err := frontmatter.Encode(fields, body)
	if err != nil {
		return err
	}

	mtime := res.Mtime
	if string(out) != string(data) {
		if mtime, err = r.writeFileChecked(path, res.Digest, out); err != nil {
			if errors.Is(err, ErrFingerprintRace) {
				report.addSkip(path, err.Error())
				return nil
			}
			return err
		}
		if err := r.store.AppendActivity(e.ID, e.Kind, store.ActionSyncedToFile, time.Now().UTC(), ""); err != nil {
			return storeErr(err)
		}
		report.FilesUpdated++
	}

	return r.markClean(path, ss.FileMarker, fingerprint.Fingerprint(out), mtime)
}

// reconcileModified handles a file whose content fingerprint changed since
// the last sync: FileAhead when the DB row is untouched, Conflict otherwise.
func (r *Reconciler) reconcileModified(path string, ss *store.SyncState, res *fingerprint.Result, report *SyncReport) error {
	fields, body, err := frontmatter.Decode(res.Data)
	if errors.Is(err, frontmatter.ErrNoFrontmatter) {
		// Header removed by hand: the file has left the managed set. Flag
		// the row as orphaned rather than re-writing structure into a file
		// the user stripped.
		if ss.SyncStatus != store.SyncOrphanedRow {
			if err := r.store.SetSyncStatus(path, store.SyncOrphanedRow); err != nil {
				return storeErr(err)
			}
			report.addSkip(path, "frontmatter removed")
		}
		return nil
	}
	if err != nil {
		report.addSkip(path, err.Error())
		return nil
	}

	if ss.FileMarker != "" && fields.Marker != ss.FileMarker {
		report.addSkip(path, fmt.Sprintf("file marker changed from %s to %s", ss.FileMarker, fields.Marker))
		return nil
	}

	e, err := r.store.GetEntityByMarker(ss.FileMarker)
	if errors.Is(err, store.ErrNotFound) {
		return r.flagOrphanedFile(path, ss)
	}
	if err != nil {
		return storeErr(err)
	}
	if e.Status == store.StatusArchived {
		return r.flagOrphanedFile(path, ss)
	}

	dbChanged := e.UpdatedAt.After(ss.LastSyncedAt)
	if dbChanged {
		return r.resolveConflict(path, e, fields, body, res, report)
	}

	// FileAhead: apply the file's structured delta to the entity.
	changes := applyFieldsToEntity(fields, e)
	if len(changes) > 0 {
		if err := r.store.UpdateEntitySynced(e, store.ActionSyncedFromFile, deltaJSON(changes), res.Mtime); err != nil {
			return storeErr(err)
		}
		if statusBecameDone(changes) {
			if err := r.store.AppendActivity(e.ID, e.Kind, store.ActionCompleted, res.Mtime, ""); err != nil {
				return storeErr(err)
			}
		}
		report.RowsUpdated++
	} else {
		// Body-only edit: nothing to copy, but it is user activity and
		// counts toward momentum.
		if err := r.store.AppendActivity(e.ID, e.Kind, store.ActionSyncedFromFile, res.Mtime, ""); err != nil {
			return storeErr(err)
		}
	}

	return r.markClean(path, ss.FileMarker, res.Digest, res.Mtime)
}

// resolveConflict handles a unit where both sides changed independently.
// In auto mode, structured fields go to the side with the more recent
// timestamp; the file's free-text body is always preserved verbatim, and
// the audit entry carries both prior field sets.
func (r *Reconciler) resolveConflict(path string, e *store.Entity, fields *frontmatter.Fields, body []byte, res *fingerprint.Result, report *SyncReport) error {
	if r.cfg.ConflictMode == config.ConflictModeManual {
		if err := r.store.UpsertSyncState(&store.SyncState{
			Path:            path,
			FileMarker:      e.FileMarker,
			FileHash:        "", // force re-evaluation once the user resolves
			LastSyncedMtime: time.Time{},
			LastSyncedAt:    time.Time{},
			SyncStatus:      store.SyncConflict,
		}); err != nil {
			return storeErr(err)
		}
		return nil
	}

	winner := "db"
	if res.Mtime.After(e.UpdatedAt) {
		winner = "file"
	}
	detail := conflictJSON(winner, snapshotEntity(e), snapshotFields(fields))

	resolved, err := r.store.ResolveEntity(e.ID, func(cur *store.Entity) (string, string, error) {
		if winner == "file" {
			applyFieldsToEntity(fields, cur)
			return store.ActionSyncedFromFile, detail, nil
		}
		return store.ActionUpdated, detail, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return r.flagOrphanedFile(path, &store.SyncState{Path: path, FileMarker: e.FileMarker})
		}
		return storeErr(err)
	}
	report.RowsUpdated++

	// Rewrite the header from the resolved entity; body and unknown keys
	// stay exactly as the file has them.
	applyEntityToFields(resolved, fields)
	out, err := frontmatter.Encode(fields, body)
	if err != nil {
		return err
	}

	mtime := res.Mtime
	digest := res.Digest
	if string(out) != string(res.Data) {
		if mtime, err = r.writeFileChecked(path, res.Digest, out); err != nil {
			if errors.Is(err, ErrFingerprintRace) {
				report.addSkip(path, err.Error())
				return nil
			}
			return err
		}
		digest = fingerprint.Fingerprint(out)
		if err := r.store.AppendActivity(resolved.ID, resolved.Kind, store.ActionSyncedToFile, time.Now().UTC(), ""); err != nil {
			return storeErr(err)
		}
		report.FilesUpdated++
	}

	report.Conflicts = append(report.Conflicts, ConflictRecord{
		Path:       path,
		FileMarker: resolved.FileMarker,
		Resolution: "auto",
		Winner:     winner,
	})
	return r.markClean(path, resolved.FileMarker, digest, mtime)
}

// sweepMissing flags orphaned rows for tracked paths that vanished from
// disk. The entity is never deleted automatically: a missing file is
// ambiguous (trash vs intentional removal) and stays for user resolution.
func (r *Reconciler) sweepMissing(seen map[string]bool, report *SyncReport) error {
	states, err := r.store.ListSyncStates()
	if err != nil {
		return storeErr(err)
	}

	for _, ss := range states {
		if seen[ss.Path] || fileExists(ss.Path) {
			continue
		}
		if ss.FileMarker == "" {
			if err := r.store.DeleteSyncState(ss.Path); err != nil {
				return storeErr(err)
			}
			continue
		}

		_, err := r.store.GetEntityByMarker(ss.FileMarker)
		if errors.Is(err, store.ErrNotFound) {
			// Both sides are gone; the bookkeeping row can finally go too.
			if err := r.store.DeleteSyncState(ss.Path); err != nil {
				return storeErr(err)
			}
			continue
		}
		if err != nil {
			return storeErr(err)
		}

		if ss.SyncStatus != store.SyncOrphanedRow {
			if err := r.store.SetSyncStatus(ss.Path, store.SyncOrphanedRow); err != nil {
				return storeErr(err)
			}
			log.Printf("reconciler: file %s missing, entity %s flagged orphaned_row", ss.Path, ss.FileMarker)
		}
	}
	return nil
}

// createMissingFiles materializes files for sync-enabled entities that have
// never been bound to one.
func (r *Reconciler) createMissingFiles(ctx context.Context, report *SyncReport) error {
	if len(r.cfg.VaultPaths) == 0 {
		return nil
	}
	entities, err := r.store.ListSyncEnabled()
	if err != nil {
		return storeErr(err)
	}

	for _, e := range entities {
		if ctx.Err() != nil {
			report.TimedOut = true
			return nil
		}
		if e.FileMarker != "" {
			continue // bound already, or orphaned_row awaiting resolution
		}

		dir := filepath.Join(r.cfg.VaultPaths[0], string(e.Kind)+"s")
		path := filepath.Join(dir, fmt.Sprintf("%s-%d.md", vault.Slug(e.Title), e.ID))
		if fileExists(path) {
			report.addSkip(path, "target path already exists")
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			report.addSkip(path, err.Error())
			continue
		}

		e.FileMarker = "m-" + uuid.NewString()
		if err := r.store.UpdateEntity(e, store.ActionSyncedToFile, ""); err != nil {
			return storeErr(err)
		}

		fields := &frontmatter.Fields{}
		applyEntityToFields(e, fields)
		out, err := frontmatter.Encode(fields, nil)
		if err != nil {
			return err
		}
		mtime, err := r.writeFileChecked(path, "", out)
		if err != nil {
			report.addSkip(path, err.Error())
			continue
		}
		report.FilesCreated++

		if err := r.markClean(path, e.FileMarker, fingerprint.Fingerprint(out), mtime); err != nil {
			return err
		}
	}
	return nil
}

// collectFlagged fills the report's conflict and orphan lists from sync
// state, so units awaiting user resolution stay visible every pass.
func (r *Reconciler) collectFlagged(report *SyncReport) error {
	conflicts, err := r.store.ListSyncStatesByStatus(store.SyncConflict)
	if err != nil {
		return storeErr(err)
	}
	for _, ss := range conflicts {
		report.Conflicts = append(report.Conflicts, ConflictRecord{
			Path:       ss.Path,
			FileMarker: ss.FileMarker,
			Resolution: "flagged",
		})
	}

	for _, status := range []string{store.SyncOrphanedFile, store.SyncOrphanedRow} {
		states, err := r.store.ListSyncStatesByStatus(status)
		if err != nil {
			return storeErr(err)
		}
		for _, ss := range states {
			report.Orphans = append(report.Orphans, OrphanRecord{
				Path:       ss.Path,
				FileMarker: ss.FileMarker,
				Kind:       status,
			})
		}
	}
	return nil
}

// markClean records a successful reconciliation for a unit.
func (r *Reconciler) markClean(path, marker, digest string, mtime time.Time) error {
	err := r.store.UpsertSyncState(&store.SyncState{
		Path:            path,
		FileMarker:      marker,
		FileHash:        digest,
		LastSyncedMtime: mtime,
		LastSyncedAt:    time.Now().UTC(),
		SyncStatus:      store.SyncClean,
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// ResolveFlagged clears a manually-flagged conflict by declaring a winning
// side. It only rewrites sync state: the next pass sees the unit as plainly
// DbAhead or FileAhead and applies the normal propagation path.
func (r *Reconciler) ResolveFlagged(path, winner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ss, err := r.store.GetSyncState(path)
	if err != nil {
		return storeErr(err)
	}
	if ss == nil {
		return fmt.Errorf("no sync state for %s", path)
	}
	if ss.SyncStatus != store.SyncConflict {
		return fmt.Errorf("%s is not a flagged conflict (status %s)", path, ss.SyncStatus)
	}

	switch winner {
	case "file":
		// Empty hash makes the file read as modified; a fresh sync point
		// makes the DB read as unchanged.
		ss.FileHash = ""
		ss.LastSyncedAt = time.Now().UTC()
	case "db":
		// Current hash makes the file read as unchanged; a zero sync point
		// makes the DB read as ahead.
		data, err := r.readFile(path)
		if err != nil {
			return err
		}
		ss.FileHash = fingerprint.Fingerprint(data)
		ss.LastSyncedMtime = time.Time{}
		ss.LastSyncedAt = time.Time{}
	default:
		return fmt.Errorf("winner must be \"db\" or \"file\", got %q", winner)
	}

	ss.SyncStatus = store.SyncClean
	if err := r.store.UpsertSyncState(ss); err != nil {
		return storeErr(err)
	}
	return nil
}

// flagOrphanedFile marks a unit whose entity vanished or was archived while
// the file still exists. The file is never touched.
func (r *Reconciler) flagOrphanedFile(path string, ss *store.SyncState) error {
	if ss.SyncStatus == store.SyncOrphanedFile {
		return nil
	}
	err := r.store.UpsertSyncState(&store.SyncState{
		Path:            path,
		FileMarker:      ss.FileMarker,
		FileHash:        ss.FileHash,
		LastSyncedMtime: ss.LastSyncedMtime,
		LastSyncedAt:    ss.LastSyncedAt,
		SyncStatus:      store.SyncOrphanedFile,
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
