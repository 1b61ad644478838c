package reconciler

import (
	"encoding/json"
	"time"

	"github.com/mkrall/momentum/internal/frontmatter"
	"github.com/mkrall/momentum/internal/store"
)

// validKinds maps the frontmatter "type" field to entity kinds.
var validKinds = map[string]store.Kind{
	"project": store.KindProject,
	"task":    store.KindTask,
	"area":    store.KindArea,
	"goal":    store.KindGoal,
	"vision":  store.KindVision,
}

// defaultStatus returns the initial status for a freshly minted entity.
func defaultStatus(kind store.Kind) string {
	if kind == store.KindTask {
		return store.StatusPending
	}
	return store.StatusActive
}

// applyEntityToFields overwrites the structured header fields with the
// entity's current values. Extras and the body are never touched: the DB
// only round-trips structured fields, never prose.
func applyEntityToFields(e *store.Entity, f *frontmatter.Fields) {
	f.Marker = e.FileMarker
	f.Kind = string(e.Kind)
	f.Title = e.Title
	f.Status = e.Status
	f.Priority = e.Priority
	f.Due = e.DueDate
	f.Created = e.CreatedAt.Truncate(time.Second)
	f.Updated = e.UpdatedAt.Truncate(time.Second)
}

// applyFieldsToEntity copies the file's structured fields onto the entity
// and returns the delta as field -> {old, new}. Empty title/status/priority
// in the file keep the entity value (a blank field is not an instruction to
// erase); a missing due date clears the deadline.
func applyFieldsToEntity(f *frontmatter.Fields, e *store.Entity) map[string][2]string {
	changes := make(map[string][2]string)

	if f.Title != "" && f.Title != e.Title {
		changes["title"] = [2]string{e.Title, f.Title}
		e.Title = f.Title
	}
	if f.Status != "" && f.Status != e.Status {
		changes["status"] = [2]string{e.Status, f.Status}
		e.Status = f.Status
	}
	if f.Priority != "" && f.Priority != e.Priority {
		changes["priority"] = [2]string{e.Priority, f.Priority}
		e.Priority = f.Priority
	}
	if !f.Due.Equal(e.DueDate) {
		changes["due"] = [2]string{fmtDue(e.DueDate), fmtDue(f.Due)}
		e.DueDate = f.Due
	}
	return changes
}

// structuredDiffers reports whether the file's structured fields differ from
// the entity's, without mutating either side.
func structuredDiffers(f *frontmatter.Fields, e *store.Entity) bool {
	scratch := *e
	return len(applyFieldsToEntity(f, &scratch)) > 0
}

func fmtDue(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// deltaJSON encodes a field delta for an activity detail payload.
func deltaJSON(changes map[string][2]string) string {
	if len(changes) == 0 {
		return ""
	}
	out := make(map[string]map[string]string, len(changes))
	for field, pair := range changes {
		out[field] = map[string]string{"old": pair[0], "new": pair[1]}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(data)
}

// fieldSnapshot captures one side's structured fields for conflict audit
// entries, so no information is silently discarded even though only one
// side wins.
type fieldSnapshot struct {
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Due      string `json:"due,omitempty"`
}

func snapshotEntity(e *store.Entity) fieldSnapshot {
	return fieldSnapshot{Title: e.Title, Status: e.Status, Priority: e.Priority, Due: fmtDue(e.DueDate)}
}

func snapshotFields(f *frontmatter.Fields) fieldSnapshot {
	return fieldSnapshot{Title: f.Title, Status: f.Status, Priority: f.Priority, Due: fmtDue(f.Due)}
}

// conflictJSON encodes both prior field sets plus the winning side.
func conflictJSON(winner string, db, file fieldSnapshot) string {
	payload := map[string]any{
		"conflict": map[string]any{
			"winner": winner,
			"db":     db,
			"file":   file,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}

// statusBecameDone reports whether the delta includes a transition into a
// terminal "done"/"completed" status, which earns a completion activity
// entry of its own for momentum purposes.
func statusBecameDone(changes map[string][2]string) bool {
	pair, ok := changes["status"]
	if !ok {
		return false
	}
	return pair[1] == store.StatusDone || pair[1] == store.StatusCompleted
}
