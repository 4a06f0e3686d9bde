package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/tomquist/agentpanel/internal/config"
	"github.com/tomquist/agentpanel/internal/hookstate"
)

// hookPayload represents the JSON payload the agent tool sends to hooks via
// stdin. Only the fields we need are decoded; unknown fields are ignored.
type hookPayload struct {
	HookEventName string          `json:"hook_event_name"`
	SessionID     string          `json:"session_id"`
	Cwd           string          `json:"cwd"`
	ToolName      string          `json:"tool_name"`
	Matcher       json.RawMessage `json:"matcher,omitempty"`
}

// handleHookHandler processes one agent lifecycle event: read JSON from
// stdin, map it to a display state, and merge a record into the shared
// state file. Writes nothing to stdout and always exits 0 so the agent
// tool's own execution is never disrupted.
func handleHookHandler() {
	data, err := io.ReadAll(os.Stdin)
	if err != nil || len(data) == 0 {
		return
	}

	var payload hookPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if payload.SessionID == "" {
		return
	}

	cwd := payload.Cwd
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	var matcher string
	if payload.Matcher != nil {
		_ = json.Unmarshal(payload.Matcher, &matcher)
	}

	state := hookstate.MapEvent(payload.HookEventName, payload.ToolName, matcher)

	// Session-end records carry no display state but must still reach the
	// watcher so it can drop the binding. Everything else without a state
	// is informational only; skip the write.
	if state == "" && !hookstate.IsSessionEnd(payload.HookEventName) {
		return
	}

	rec := hookstate.Record{
		SessionID: payload.SessionID,
		Cwd:       hookstate.NormalizeCwd(cwd),
		State:     state,
		Timestamp: time.Now().UnixMilli(),
		HookEvent: payload.HookEventName,
	}

	// The emitter is the only writer, so it also takes out the trash:
	// entries from sessions that died without a final event are pruned
	// once they age past the retention window.
	cfg, _ := config.Load()
	retention := time.Duration(cfg.Watch.RetentionMinutes) * time.Minute

	// Errors are swallowed: a missed update self-heals on the next write.
	_ = hookstate.Merge(config.StateFilePath(), rec, retention)
}
