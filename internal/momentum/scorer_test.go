package momentum

import (
	"testing"
	"time"

	"github.com/mkrall/momentum/internal/store"
)

var now = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

func activeProject() *store.Entity {
	return &store.Entity{ID: 1, Kind: store.KindProject, Status: store.StatusActive, Priority: store.PriorityNormal}
}

func entry(action string, age time.Duration) store.ActivityEntry {
	return store.ActivityEntry{EntityID: 1, EntityKind: store.KindProject, Action: action, OccurredAt: now.Add(-age)}
}

func TestScore_Bounded(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// Pile on activity; the score must stay below 1.
	var entries []store.ActivityEntry
	for i := 0; i < 200; i++ {
		entries = append(entries, entry(store.ActionCompleted, time.Duration(i)*time.Minute))
	}
	snap := s.Score(activeProject(), nil, entries, now)
	if snap.Score <= 0 || snap.Score >= 1 {
		t.Errorf("score = %v, want strictly inside (0, 1)", snap.Score)
	}
}

func TestScore_EmptyHistoryDegradesNotFails(t *testing.T) {
	s := NewScorer(DefaultConfig())

	snap := s.Score(activeProject(), nil, nil, now)
	if snap.Score != 0 {
		t.Errorf("score = %v, want 0 for empty history", snap.Score)
	}
	if !snap.Stalled {
		t.Error("active project with no history should be stalled")
	}

	// Nil project degrades to the zero snapshot.
	nilSnap := s.Score(nil, nil, nil, now)
	if nilSnap.Score != 0 || nilSnap.Zone != ZoneOverTheHorizon {
		t.Errorf("nil project snapshot = %+v", nilSnap)
	}
}

func TestScore_RecencyMonotonic(t *testing.T) {
	s := NewScorer(DefaultConfig())

	base := []store.ActivityEntry{
		entry(store.ActionCreated, 30*24*time.Hour),
		entry(store.ActionUpdated, 10*24*time.Hour),
	}

	// Same history, with the most recent entry progressively more recent.
	var prev float64
	for i, age := range []time.Duration{9 * 24 * time.Hour, 5 * 24 * time.Hour, 24 * time.Hour, time.Hour} {
		entries := append(append([]store.ActivityEntry{}, base...), entry(store.ActionUpdated, age))
		score := s.Score(activeProject(), nil, entries, now).Score
		if i > 0 && score <= prev {
			t.Errorf("score did not strictly increase with recency: %v -> %v at age %v", prev, score, age)
		}
		prev = score
	}
}

func TestStalled_FourteenDayDefault(t *testing.T) {
	s := NewScorer(DefaultConfig())

	old := []store.ActivityEntry{entry(store.ActionUpdated, 20*24*time.Hour)}
	snap := s.Score(activeProject(), nil, old, now)
	if !snap.Stalled {
		t.Error("active project with last activity 20 days ago should be stalled")
	}

	// One completed task logged yesterday flips it.
	recent := append(old, entry(store.ActionCompleted, 24*time.Hour))
	snap = s.Score(activeProject(), nil, recent, now)
	if snap.Stalled {
		t.Error("completion yesterday should clear the stalled flag")
	}
}

func TestStalled_OnlyAppliesToActive(t *testing.T) {
	s := NewScorer(DefaultConfig())

	p := activeProject()
	p.Status = store.StatusCompleted
	snap := s.Score(p, nil, nil, now)
	if snap.Stalled {
		t.Error("completed projects are never stalled")
	}
}

func TestStalled_SyncToFileIsNotQualifyingActivity(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// The reconciler rewriting a file is not user activity.
	entries := []store.ActivityEntry{entry(store.ActionSyncedToFile, time.Hour)}
	snap := s.Score(activeProject(), nil, entries, now)
	if !snap.Stalled {
		t.Error("synced_to_file alone should not clear the stalled flag")
	}
}

func TestZone_HighPriorityStalledIsCriticalNow(t *testing.T) {
	s := NewScorer(DefaultConfig())

	p := activeProject()
	p.Priority = store.PriorityHigh
	entries := []store.ActivityEntry{entry(store.ActionUpdated, 20*24*time.Hour)}

	snap := s.Score(p, nil, entries, now)
	if !snap.Stalled {
		t.Fatal("expected stalled")
	}
	if snap.Zone != ZoneCriticalNow {
		t.Errorf("zone = %v, want CriticalNow", snap.Zone)
	}
}

func TestZone_ImminentDeadlineIsCriticalNow(t *testing.T) {
	s := NewScorer(DefaultConfig())

	p := activeProject()
	p.Priority = store.PriorityHigh
	p.DueDate = now.Add(24 * time.Hour)
	entries := []store.ActivityEntry{entry(store.ActionUpdated, time.Hour)}

	snap := s.Score(p, nil, entries, now)
	if snap.Stalled {
		t.Fatal("recent activity should not be stalled")
	}
	if snap.Zone != ZoneCriticalNow {
		t.Errorf("zone = %v, want CriticalNow for imminent high-priority deadline", snap.Zone)
	}
}

func TestZone_HealthyWithNextActionIsOpportunityNow(t *testing.T) {
	s := NewScorer(DefaultConfig())

	tasks := []*store.Entity{{ID: 2, Kind: store.KindTask, Status: store.StatusPending, ParentID: 1}}
	entries := []store.ActivityEntry{
		entry(store.ActionCompleted, 24*time.Hour),
		entry(store.ActionUpdated, 2*24*time.Hour),
	}

	snap := s.Score(activeProject(), tasks, entries, now)
	if snap.Zone != ZoneOpportunityNow {
		t.Errorf("zone = %v (score %v), want OpportunityNow", snap.Zone, snap.Score)
	}
}

func TestZone_EverythingElseIsOverTheHorizon(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// Healthy momentum but no next action: nothing to do right now.
	entries := []store.ActivityEntry{entry(store.ActionCompleted, 24*time.Hour)}
	snap := s.Score(activeProject(), nil, entries, now)
	if snap.Zone != ZoneOverTheHorizon {
		t.Errorf("zone = %v, want OverTheHorizon", snap.Zone)
	}

	p := activeProject()
	p.Status = store.StatusArchived
	snap = s.Score(p, nil, entries, now)
	if snap.Zone != ZoneOverTheHorizon {
		t.Errorf("archived zone = %v, want OverTheHorizon", snap.Zone)
	}
}
