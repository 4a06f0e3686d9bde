// Package config loads user-facing configuration for agentpanel from
// config.toml in the panel directory.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/tomquist/agentpanel/internal/logging"
)

var confLog = logging.ForComponent(logging.CompConfig)

// FileName is the TOML config file for user preferences.
const FileName = "config.toml"

// Config represents user-facing configuration in TOML format.
type Config struct {
	// Watch configures the state file watcher.
	Watch WatchSettings `toml:"watch"`

	// Web configures the browser panel endpoint.
	Web WebSettings `toml:"web"`

	// Logs configures the debug log.
	Logs LogSettings `toml:"logs"`

	// Hooks configures agent hook integration.
	Hooks HookSettings `toml:"hooks"`
}

// WatchSettings configures the session state watcher.
type WatchSettings struct {
	// StateFile overrides the shared state file location.
	// Default: <panel dir>/state/sessions.json
	StateFile string `toml:"state_file"`

	// DebounceMs coalesces rapid file-change notifications (default: 100)
	DebounceMs int `toml:"debounce_ms"`

	// RetentionMinutes is how long a session correlation survives without
	// a matching record before it is swept (default: 60)
	RetentionMinutes int `toml:"retention_minutes"`

	// SweepIntervalMinutes is how often the staleness sweeper runs
	// (default: 5)
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
}

// WebSettings configures the websocket status endpoint.
type WebSettings struct {
	// Enabled starts the web server with `agentpanel run`
	// Default: true (pointer to distinguish "not set" from "explicitly false")
	Enabled *bool `toml:"enabled"`

	// Listen is the address to bind (default: "127.0.0.1:7483")
	Listen string `toml:"listen"`
}

// GetEnabled returns whether the web endpoint is enabled, defaulting to true.
func (w *WebSettings) GetEnabled() bool {
	if w.Enabled == nil {
		return true
	}
	return *w.Enabled
}

// LogSettings configures the rotating debug log.
type LogSettings struct {
	// Level is the minimum log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `toml:"level"`

	// Format is "json" (default) or "text"
	Format string `toml:"format"`

	// MaxSizeMB is the max size in MB before rotation (default: 10)
	MaxSizeMB int `toml:"max_size_mb"`

	// Backups is rotated files to keep (default: 5)
	Backups int `toml:"backups"`

	// RetentionDays is days to keep rotated files (default: 10)
	RetentionDays int `toml:"retention_days"`

	// Compress rotated files (default: true)
	Compress *bool `toml:"compress"`
}

// GetCompress returns whether rotated logs are compressed, defaulting to true.
func (l *LogSettings) GetCompress() bool {
	if l.Compress == nil {
		return true
	}
	return *l.Compress
}

// HookSettings configures agent hook integration.
type HookSettings struct {
	// Enabled enables hook-based status detection (default: true)
	Enabled *bool `toml:"enabled"`
}

// GetEnabled returns whether hooks are enabled, defaulting to true.
func (h *HookSettings) GetEnabled() bool {
	if h.Enabled == nil {
		return true
	}
	return *h.Enabled
}

var (
	cache   *Config
	cacheMu sync.RWMutex
)

// Dir returns the panel directory, honoring the AGENTPANEL_DIR override.
func Dir() string {
	if dir := os.Getenv("AGENTPANEL_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".agentpanel")
	}
	return filepath.Join(home, ".agentpanel")
}

// Path returns the path to the config file.
func Path() string {
	return filepath.Join(Dir(), FileName)
}

// Load reads the configuration, returning defaults when no file exists.
// The result is cached after the first load.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if cache != nil {
		return cache, nil
	}

	var cfg Config
	path := Path()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			confLog.Warn("config_parse_failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			// Cache defaults to prevent repeated parse attempts, but
			// surface the error so the caller can show it.
			cache = &Config{}
			applyDefaults(cache)
			return cache, fmt.Errorf("config.toml parse error: %w", err)
		}
	}

	applyDefaults(&cfg)
	cache = &cfg
	return cache, nil
}

// Reload clears the cache and loads fresh from disk.
func Reload() (*Config, error) {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
	return Load()
}

// Save writes the config atomically and clears the cache.
func Save(cfg *Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# agentpanel configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalize config save: %w", err)
	}

	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
	return nil
}

// ClearCache resets the cached config (tests).
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

func applyDefaults(cfg *Config) {
	if cfg.Watch.StateFile == "" {
		cfg.Watch.StateFile = filepath.Join(Dir(), "state", "sessions.json")
	}
	if cfg.Watch.DebounceMs <= 0 {
		cfg.Watch.DebounceMs = 100
	}
	if cfg.Watch.RetentionMinutes <= 0 {
		cfg.Watch.RetentionMinutes = 60
	}
	if cfg.Watch.SweepIntervalMinutes <= 0 {
		cfg.Watch.SweepIntervalMinutes = 5
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:7483"
	}
	if cfg.Logs.Level == "" {
		cfg.Logs.Level = "info"
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 10
	}
	if cfg.Logs.Backups <= 0 {
		cfg.Logs.Backups = 5
	}
	if cfg.Logs.RetentionDays <= 0 {
		cfg.Logs.RetentionDays = 10
	}
}

// StateFilePath returns the shared state file location from config,
// falling back to the default under the panel directory.
func StateFilePath() string {
	cfg, err := Load()
	if err != nil || cfg == nil {
		return filepath.Join(Dir(), "state", "sessions.json")
	}
	return cfg.Watch.StateFile
}

// DBPath returns the terminal registry database location.
func DBPath() string {
	return filepath.Join(Dir(), "panel.db")
}

// LogDir returns the directory for debug logs.
func LogDir() string {
	return filepath.Join(Dir(), "logs")
}
