package ipc

import "github.com/mkrall/momentum/internal/reconciler"

// Request is a JSON message sent from client to server.
type Request struct {
	Command string            `json:"command"` // "ping", "status", "stop", "sync", "score", "orphans", "resolve"
	Args    map[string]string `json:"args,omitempty"`
}

// Response is a JSON message sent from server to client.
type Response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// StatusData is returned by the "status" command.
type StatusData struct {
	Uptime          string   `json:"uptime"`
	DBSizeBytes     int64    `json:"db_size_bytes"`
	EntitiesCount   int64    `json:"entities_count"`
	ActivityCount   int64    `json:"activity_count"`
	SyncStatesCount int64    `json:"sync_states_count"`
	VaultPaths      []string `json:"vault_paths"`
}

// FlaggedData is returned by the "orphans" command: every sync unit the
// reconciler has flagged for user attention.
type FlaggedData struct {
	Conflicts []reconciler.ConflictRecord `json:"conflicts"`
	Orphans   []reconciler.OrphanRecord   `json:"orphans"`
}
