package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all daemon configuration.
type Config struct {
	DataDir        string   `json:"data_dir"`
	SocketPath     string   `json:"socket_path"`
	DBPath         string   `json:"db_path"`
	VaultPaths     []string `json:"vault_paths"`
	IgnorePatterns []string `json:"ignore_patterns"`

	// Sync behaviour.
	SyncIntervalSeconds int    `json:"sync_interval_seconds"`
	DebounceMillis      int    `json:"debounce_millis"`
	PassTimeoutSeconds  int    `json:"pass_timeout_seconds"`
	IORetryAttempts     int    `json:"io_retry_attempts"`
	ConflictMode        string `json:"conflict_mode"` // "auto" or "manual"
	SnapshotEnabled     bool   `json:"snapshot_enabled"`

	// Momentum scoring.
	StalledThresholdDays int     `json:"stalled_threshold_days"`
	HalfLifeDays         float64 `json:"half_life_days"`
	HealthyMomentumFloor float64 `json:"healthy_momentum_floor"`
	ImminentDeadlineDays int     `json:"imminent_deadline_days"`
}

// Conflict resolution modes.
const (
	ConflictModeAuto   = "auto"
	ConflictModeManual = "manual"
)

// DefaultDataDir returns the default data directory (~/.momentum).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".momentum")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		DataDir:    dataDir,
		SocketPath: filepath.Join(dataDir, "momentum.sock"),
		DBPath:     filepath.Join(dataDir, "momentum.db"),
		VaultPaths: []string{},
		IgnorePatterns: []string{
			".git",
			".obsidian",
			".trash",
			".DS_Store",
			"*.swp",
			"*.swo",
			"*~",
		},
		SyncIntervalSeconds:  60,
		DebounceMillis:       500,
		PassTimeoutSeconds:   120,
		IORetryAttempts:      3,
		ConflictMode:         ConflictModeAuto,
		SnapshotEnabled:      false,
		StalledThresholdDays: 14,
		HalfLifeDays:         7,
		HealthyMomentumFloor: 0.35,
		ImminentDeadlineDays: 3,
	}
}

// Load reads configuration from a JSON file, falling back to defaults
// for any unset fields.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file is fine, use defaults.
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Re-derive paths if DataDir was overridden but socket/db paths were not.
	if cfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.DataDir, "momentum.sock")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "momentum.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the sync and scoring loops cannot work with.
func (c *Config) Validate() error {
	if c.ConflictMode != ConflictModeAuto && c.ConflictMode != ConflictModeManual {
		return fmt.Errorf("conflict_mode must be %q or %q, got %q",
			ConflictModeAuto, ConflictModeManual, c.ConflictMode)
	}
	if c.SyncIntervalSeconds <= 0 {
		return fmt.Errorf("sync_interval_seconds must be positive, got %d", c.SyncIntervalSeconds)
	}
	if c.StalledThresholdDays <= 0 {
		return fmt.Errorf("stalled_threshold_days must be positive, got %d", c.StalledThresholdDays)
	}
	if c.HalfLifeDays <= 0 {
		return fmt.Errorf("half_life_days must be positive, got %v", c.HalfLifeDays)
	}
	return nil
}

// SyncInterval returns the reconciliation interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// DebounceWindow returns the watcher debounce window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// PassTimeout returns the per-pass wall-clock budget as a duration.
func (c *Config) PassTimeout() time.Duration {
	return time.Duration(c.PassTimeoutSeconds) * time.Second
}

// StalledThreshold returns the stalled window as a duration.
func (c *Config) StalledThreshold() time.Duration {
	return time.Duration(c.StalledThresholdDays) * 24 * time.Hour
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// ConfigPath returns the default path to the config file.
func ConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.json")
}
