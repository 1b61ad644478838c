package reconciler

import "time"

// SyncReport summarizes one reconciliation pass. It is returned from manual
// "sync now" invocations and logged by the scheduler.
type SyncReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	FilesScanned    int  `json:"files_scanned"`
	FilesUpdated    int  `json:"files_updated"`
	FilesCreated    int  `json:"files_created"`
	RowsUpdated     int  `json:"rows_updated"`
	EntitiesCreated int  `json:"entities_created"`
	TimedOut        bool `json:"timed_out"`

	Conflicts []ConflictRecord `json:"conflicts,omitempty"`
	Orphans   []OrphanRecord   `json:"orphans,omitempty"`
	Skipped   []SkipRecord     `json:"skipped,omitempty"`
}

// ConflictRecord describes one unit where both sides changed independently.
type ConflictRecord struct {
	Path       string `json:"path"`
	FileMarker string `json:"file_marker"`
	Resolution string `json:"resolution"` // "auto" or "flagged"
	Winner     string `json:"winner,omitempty"`
}

// OrphanRecord describes a unit where one side vanished.
type OrphanRecord struct {
	Path       string `json:"path"`
	FileMarker string `json:"file_marker"`
	Kind       string `json:"kind"` // "orphaned_file" or "orphaned_row"
}

// SkipRecord describes a unit the pass could not safely act on.
type SkipRecord struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Empty reports whether the pass wrote anything. Two back-to-back passes
// with no external change must produce an empty second report. Flagged
// conflicts and orphans awaiting user resolution are still listed in an
// otherwise empty report.
func (r *SyncReport) Empty() bool {
	return r.FilesUpdated == 0 && r.FilesCreated == 0 && r.RowsUpdated == 0 &&
		r.EntitiesCreated == 0
}

func (r *SyncReport) addSkip(path, reason string) {
	r.Skipped = append(r.Skipped, SkipRecord{Path: path, Reason: reason})
}
