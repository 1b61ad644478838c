// Package momentum derives a bounded, time-decaying activity score, a
// stalled flag, and an MYN urgency zone per project. Scores are advisory:
// they are recomputable at any time from the activity log and current task
// state, and missing or garbled history degrades the score toward zero
// rather than failing.
package momentum

import (
	"math"
	"time"

	"github.com/mkrall/momentum/internal/store"
)

// Zone is the MYN urgency classification.
type Zone string

const (
	ZoneCriticalNow    Zone = "critical_now"
	ZoneOpportunityNow Zone = "opportunity_now"
	ZoneOverTheHorizon Zone = "over_the_horizon"
)

// Snapshot is the derived momentum state for one project. It is never the
// sole record of any fact.
type Snapshot struct {
	EntityID   int64     `json:"entity_id"`
	Score      float64   `json:"score"` // in [0, 1]
	Stalled    bool      `json:"stalled"`
	Zone       Zone      `json:"zone"`
	ComputedAt time.Time `json:"computed_at"`
}

// Config holds the scoring thresholds. All of these are tunable without
// touching the scorer.
type Config struct {
	HalfLife         time.Duration // decay half-life for activity weight
	StalledThreshold time.Duration // no qualifying activity within -> stalled
	HealthyFloor     float64       // minimum score for OpportunityNow
	ImminentDeadline time.Duration // due within this window counts as imminent
}

// DefaultConfig mirrors the daemon's default configuration.
func DefaultConfig() Config {
	return Config{
		HalfLife:         7 * 24 * time.Hour,
		StalledThreshold: 14 * 24 * time.Hour,
		HealthyFloor:     0.35,
		ImminentDeadline: 3 * 24 * time.Hour,
	}
}

// actionWeights determine how much each activity action contributes before
// decay. synced_to_file is zero because it mirrors a DB-side edit that is
// already logged under its own action; counting it would double-score.
var actionWeights = map[string]float64{
	store.ActionCreated:        0.5,
	store.ActionUpdated:        0.6,
	store.ActionStatusChanged:  0.7,
	store.ActionCompleted:      1.0,
	store.ActionSyncedFromFile: 0.6,
	store.ActionSyncedToFile:   0.0,
}

// Scorer computes momentum snapshots.
type Scorer struct {
	cfg Config
}

// NewScorer creates a Scorer with the given thresholds.
func NewScorer(cfg Config) *Scorer {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultConfig().HalfLife
	}
	if cfg.StalledThreshold <= 0 {
		cfg.StalledThreshold = DefaultConfig().StalledThreshold
	}
	return &Scorer{cfg: cfg}
}

// Score computes the snapshot for a project from its activity entries and
// current task state. Pure: no I/O, no clock reads beyond the supplied now.
func (s *Scorer) Score(project *store.Entity, tasks []*store.Entity, entries []store.ActivityEntry, now time.Time) Snapshot {
	snap := Snapshot{ComputedAt: now, Zone: ZoneOverTheHorizon}
	if project == nil {
		return snap
	}
	snap.EntityID = project.ID

	nextAction := hasNextAction(tasks)

	var raw float64
	var lastQualifying time.Time
	for _, e := range entries {
		w := actionWeights[e.Action]
		if w <= 0 {
			continue
		}
		if e.OccurredAt.After(lastQualifying) {
			lastQualifying = e.OccurredAt
		}
		age := now.Sub(e.OccurredAt)
		if age < 0 {
			age = 0
		}
		raw += w * decay(age, s.cfg.HalfLife)
	}
	if nextAction {
		raw += 0.3
	}

	// Bounded normalization: monotonic in raw, asymptotic to 1.
	snap.Score = raw / (raw + 1)

	snap.Stalled = project.Status == store.StatusActive &&
		(lastQualifying.IsZero() || now.Sub(lastQualifying) > s.cfg.StalledThreshold)

	snap.Zone = s.zone(project, snap, nextAction, now)
	return snap
}

// decay returns the exponential decay factor for the given age.
func decay(age, halfLife time.Duration) float64 {
	return math.Exp2(-age.Hours() / halfLife.Hours())
}

// zone applies the priority x momentum x deadline rule table.
func (s *Scorer) zone(project *store.Entity, snap Snapshot, nextAction bool, now time.Time) Zone {
	if project.Status == store.StatusCompleted || project.Status == store.StatusArchived {
		return ZoneOverTheHorizon
	}

	imminent := !project.DueDate.IsZero() &&
		project.DueDate.Sub(now) <= s.cfg.ImminentDeadline

	if project.Priority == store.PriorityHigh && (snap.Stalled || imminent) {
		return ZoneCriticalNow
	}
	if project.Status == store.StatusActive && snap.Score >= s.cfg.HealthyFloor && nextAction {
		return ZoneOpportunityNow
	}
	return ZoneOverTheHorizon
}

// hasNextAction reports whether any task is actionable right now.
func hasNextAction(tasks []*store.Entity) bool {
	for _, t := range tasks {
		if t.Status == store.StatusPending || t.Status == store.StatusInProgress {
			return true
		}
	}
	return false
}
