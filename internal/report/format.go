// Package report renders daemon responses for the terminal.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mkrall/momentum/internal/ipc"
	"github.com/mkrall/momentum/internal/momentum"
	"github.com/mkrall/momentum/internal/reconciler"
)

// ANSI escape codes for terminal formatting.
const (
	bold   = "\033[1m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	reset  = "\033[0m"
)

// FormatStatus formats daemon StatusData as a terminal-friendly table.
func FormatStatus(status *ipc.StatusData) string {
	var b strings.Builder

	b.WriteString(bold + "Momentum - Daemon Status" + reset + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	b.WriteString(fmt.Sprintf("%-20s %s\n", "Uptime:", status.Uptime))
	b.WriteString(fmt.Sprintf("%-20s %s\n", "DB Size:", humanBytes(status.DBSizeBytes)))
	b.WriteString(fmt.Sprintf("%-20s %d\n", "Entities:", status.EntitiesCount))
	b.WriteString(fmt.Sprintf("%-20s %d\n", "Activity Entries:", status.ActivityCount))
	b.WriteString(fmt.Sprintf("%-20s %d\n", "Sync Units:", status.SyncStatesCount))

	if len(status.VaultPaths) > 0 {
		b.WriteString(fmt.Sprintf("\n%sVault Paths:%s\n", bold, reset))
		for _, p := range status.VaultPaths {
			b.WriteString(fmt.Sprintf("  %s\n", p))
		}
	} else {
		b.WriteString(fmt.Sprintf("%-20s %s\n", "Vault Paths:", "(none)"))
	}

	return b.String()
}

// FormatSyncReport formats one reconciliation pass for the terminal.
func FormatSyncReport(r *reconciler.SyncReport) string {
	var b strings.Builder

	b.WriteString(bold + "Momentum - Sync Report" + reset + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	b.WriteString(fmt.Sprintf("%-20s %s\n", "Duration:", r.FinishedAt.Sub(r.StartedAt).Truncate(1e6).String()))
	b.WriteString(fmt.Sprintf("%-20s %d\n", "Files Scanned:", r.FilesScanned))
	b.WriteString(fmt.Sprintf("%-20s %d\n", "Files Updated:", r.FilesUpdated))
	b.WriteString(fmt.Sprintf("%-20s %d\n", "Files Created:", r.FilesCreated))
	b.WriteString(fmt.Sprintf("%-20s %d\n", "Rows Updated:", r.RowsUpdated))
	b.WriteString(fmt.Sprintf("%-20s %d\n", "Entities Created:", r.EntitiesCreated))
	if r.TimedOut {
		b.WriteString(red + "pass hit its time budget; remaining files deferred" + reset + "\n")
	}

	if len(r.Conflicts) > 0 {
		b.WriteString(fmt.Sprintf("\n%sConflicts:%s\n", bold, reset))
		for _, c := range r.Conflicts {
			if c.Resolution == "auto" {
				b.WriteString(fmt.Sprintf("  %s (auto, %s won)\n", c.Path, c.Winner))
			} else {
				b.WriteString(fmt.Sprintf("  %s%s (awaiting resolution)%s\n", yellow, c.Path, reset))
			}
		}
	}

	if len(r.Orphans) > 0 {
		b.WriteString(fmt.Sprintf("\n%sOrphans:%s\n", bold, reset))
		for _, o := range r.Orphans {
			b.WriteString(fmt.Sprintf("  %s (%s)\n", o.Path, o.Kind))
		}
	}

	if len(r.Skipped) > 0 {
		b.WriteString(fmt.Sprintf("\n%sSkipped:%s\n", bold, reset))
		for _, s := range r.Skipped {
			b.WriteString(fmt.Sprintf("  %s: %s\n", s.Path, s.Reason))
		}
	}

	return b.String()
}

// FormatScores formats momentum snapshots as a terminal-friendly table.
func FormatScores(snaps []momentum.Snapshot) string {
	var b strings.Builder

	b.WriteString(bold + "Momentum - Scores" + reset + "\n")
	b.WriteString(strings.Repeat("=", 56) + "\n")
	b.WriteString(fmt.Sprintf("%-8s %8s %9s %s\n", "Entity", "Score", "Stalled", "Zone"))
	b.WriteString(strings.Repeat("-", 56) + "\n")

	for _, s := range snaps {
		stalled := ""
		if s.Stalled {
			stalled = "stalled"
		}
		b.WriteString(fmt.Sprintf("%-8d %s%8.3f%s %9s %s%s%s\n",
			s.EntityID,
			colorForScore(s.Score), s.Score, reset,
			stalled,
			colorForZone(s.Zone), s.Zone, reset))
	}

	return b.String()
}

// FormatFlagged formats the units awaiting user attention.
func FormatFlagged(f *ipc.FlaggedData) string {
	if len(f.Conflicts) == 0 && len(f.Orphans) == 0 {
		return "nothing flagged\n"
	}

	var b strings.Builder

	if len(f.Conflicts) > 0 {
		b.WriteString(bold + "Conflicts (resolve with: momentum resolve <path> db|file)" + reset + "\n")
		for _, c := range f.Conflicts {
			b.WriteString(fmt.Sprintf("  %s%s%s (marker %s)\n", yellow, c.Path, reset, c.FileMarker))
		}
	}

	if len(f.Orphans) > 0 {
		b.WriteString(bold + "Orphans" + reset + "\n")
		for _, o := range f.Orphans {
			b.WriteString(fmt.Sprintf("  %s (%s, marker %s)\n", o.Path, o.Kind, o.FileMarker))
		}
	}

	return b.String()
}

// FormatJSON marshals any value as indented JSON.
func FormatJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// colorForZone maps urgency zones to ANSI colors.
func colorForZone(z momentum.Zone) string {
	switch z {
	case momentum.ZoneCriticalNow:
		return red
	case momentum.ZoneOpportunityNow:
		return green
	default:
		return yellow
	}
}

// colorForScore colors momentum: healthy green, middling yellow, fading red.
func colorForScore(score float64) string {
	switch {
	case score >= 0.35:
		return green
	case score >= 0.15:
		return yellow
	default:
		return red
	}
}

// humanBytes formats bytes as a human-readable string (KB, MB, GB).
func humanBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)

	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
