// Package hooks manages installation of the agentpanel hook handler into
// the agent tool's settings.json.
package hooks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomquist/agentpanel/internal/logging"
)

var hookLog = logging.ForComponent(logging.CompHook)

// HookCommand is the marker command used to identify agentpanel hooks in
// settings.json.
const HookCommand = "agentpanel hook-handler"

// hookEntry represents a single hook entry in the agent tool's settings.
type hookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Async   bool   `json:"async,omitempty"`
}

// hookMatcher represents a matcher block (with optional matcher pattern).
type hookMatcher struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []hookEntry `json:"hooks"`
}

func panelHook() hookEntry {
	return hookEntry{
		Type:    "command",
		Command: HookCommand,
		Async:   true,
	}
}

// eventConfigs defines which lifecycle events we subscribe to and their
// matcher patterns.
var eventConfigs = []struct {
	Event   string
	Matcher string // empty = no matcher
}{
	{Event: "SessionStart"},
	{Event: "UserPromptSubmit"},
	{Event: "PreToolUse"},
	{Event: "Stop"},
	{Event: "PermissionRequest"},
	{Event: "Notification", Matcher: "permission_prompt|idle_prompt"},
	{Event: "SessionEnd"},
}

// ConfigDir resolves the agent tool's config directory: the
// AGENTPANEL_AGENT_CONFIG_DIR override, then ~/.claude.
func ConfigDir() string {
	if dir := os.Getenv("AGENTPANEL_AGENT_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".claude")
	}
	return filepath.Join(home, ".claude")
}

// Install injects agentpanel hook entries into settings.json, preserving
// all existing settings and user hooks. Returns true if hooks were newly
// installed, false if already present.
func Install(configDir string) (bool, error) {
	settingsPath := filepath.Join(configDir, "settings.json")

	var rawSettings map[string]json.RawMessage
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("read settings.json: %w", err)
		}
		rawSettings = make(map[string]json.RawMessage)
	} else {
		if err := json.Unmarshal(data, &rawSettings); err != nil {
			return false, fmt.Errorf("parse settings.json: %w", err)
		}
	}

	var existingHooks map[string]json.RawMessage
	if raw, ok := rawSettings["hooks"]; ok {
		if err := json.Unmarshal(raw, &existingHooks); err != nil {
			// hooks key exists but isn't a valid object; start fresh for hooks
			existingHooks = make(map[string]json.RawMessage)
		}
	} else {
		existingHooks = make(map[string]json.RawMessage)
	}

	if installed(existingHooks) {
		return false, nil
	}

	for _, cfg := range eventConfigs {
		existingHooks[cfg.Event] = mergeEvent(existingHooks[cfg.Event], cfg.Matcher)
	}

	hooksRaw, err := json.Marshal(existingHooks)
	if err != nil {
		return false, fmt.Errorf("marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksRaw

	if err := writeSettings(configDir, settingsPath, rawSettings); err != nil {
		return false, err
	}

	hookLog.Info("hooks_installed", slog.String("config_dir", configDir))
	return true, nil
}

// Remove deletes agentpanel hook entries from settings.json, leaving user
// hooks untouched. Returns true if anything was removed.
func Remove(configDir string) (bool, error) {
	settingsPath := filepath.Join(configDir, "settings.json")

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read settings.json: %w", err)
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false, fmt.Errorf("parse settings.json: %w", err)
	}

	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return false, nil
	}

	var existingHooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &existingHooks); err != nil {
		return false, nil
	}

	removed := false
	for _, cfg := range eventConfigs {
		if raw, ok := existingHooks[cfg.Event]; ok {
			cleaned, didRemove := removeFromEvent(raw)
			if didRemove {
				removed = true
				if cleaned == nil {
					delete(existingHooks, cfg.Event)
				} else {
					existingHooks[cfg.Event] = cleaned
				}
			}
		}
	}

	if !removed {
		return false, nil
	}

	if len(existingHooks) == 0 {
		delete(rawSettings, "hooks")
	} else {
		hooksData, _ := json.Marshal(existingHooks)
		rawSettings["hooks"] = hooksData
	}

	if err := writeSettings(configDir, settingsPath, rawSettings); err != nil {
		return false, err
	}

	hookLog.Info("hooks_removed", slog.String("config_dir", configDir))
	return true, nil
}

// Installed checks if all agentpanel hooks are present in settings.json.
func Installed(configDir string) bool {
	data, err := os.ReadFile(filepath.Join(configDir, "settings.json"))
	if err != nil {
		return false
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawSettings); err != nil {
		return false
	}

	hooksRaw, ok := rawSettings["hooks"]
	if !ok {
		return false
	}

	var existingHooks map[string]json.RawMessage
	if err := json.Unmarshal(hooksRaw, &existingHooks); err != nil {
		return false
	}

	return installed(existingHooks)
}

func writeSettings(configDir, settingsPath string, rawSettings map[string]json.RawMessage) error {
	finalData, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmpPath := settingsPath + ".tmp"
	if err := os.WriteFile(tmpPath, finalData, 0644); err != nil {
		return fmt.Errorf("write settings.json.tmp: %w", err)
	}
	if err := os.Rename(tmpPath, settingsPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename settings.json: %w", err)
	}
	return nil
}

func installed(hooks map[string]json.RawMessage) bool {
	for _, cfg := range eventConfigs {
		raw, ok := hooks[cfg.Event]
		if !ok {
			return false
		}
		if !eventHasPanelHook(raw) {
			return false
		}
	}
	return true
}

func eventHasPanelHook(raw json.RawMessage) bool {
	var matchers []hookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return false
	}
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, HookCommand) {
				return true
			}
		}
	}
	return false
}

// mergeEvent adds the panel hook to an existing event's matcher array,
// preserving all existing matchers and hooks.
func mergeEvent(existing json.RawMessage, matcher string) json.RawMessage {
	var matchers []hookMatcher

	if existing != nil {
		if err := json.Unmarshal(existing, &matchers); err != nil {
			matchers = nil
		}
	}

	for i, m := range matchers {
		if m.Matcher == matcher {
			for _, h := range m.Hooks {
				if strings.Contains(h.Command, HookCommand) {
					result, _ := json.Marshal(matchers)
					return result
				}
			}
			matchers[i].Hooks = append(matchers[i].Hooks, panelHook())
			result, _ := json.Marshal(matchers)
			return result
		}
	}

	matchers = append(matchers, hookMatcher{
		Matcher: matcher,
		Hooks:   []hookEntry{panelHook()},
	})
	result, _ := json.Marshal(matchers)
	return result
}

// removeFromEvent strips panel hook entries from an event's matcher array.
// Returns cleaned JSON and whether any removal happened; nil JSON means the
// array ended up empty.
func removeFromEvent(raw json.RawMessage) (json.RawMessage, bool) {
	var matchers []hookMatcher
	if err := json.Unmarshal(raw, &matchers); err != nil {
		return raw, false
	}

	removed := false
	var cleaned []hookMatcher

	for _, m := range matchers {
		var hooks []hookEntry
		for _, h := range m.Hooks {
			if strings.Contains(h.Command, HookCommand) {
				removed = true
				continue
			}
			hooks = append(hooks, h)
		}
		if len(hooks) > 0 {
			m.Hooks = hooks
			cleaned = append(cleaned, m)
		} else if m.Matcher != "" && len(m.Hooks) == 0 {
			removed = true
		}
	}

	if !removed {
		return raw, false
	}

	if len(cleaned) == 0 {
		return nil, true
	}

	result, _ := json.Marshal(cleaned)
	return result, true
}
