// Package hookstate defines the shared state file written by the hook
// emitter and read by the session watcher, plus the event-to-display-state
// mapping both sides agree on.
package hookstate

import (
	"path"
	"strings"
)

// DisplayState is the small enumerated status shown in the panel for a
// terminal.
type DisplayState string

const (
	StateBusy       DisplayState = "busy"
	StatePermission DisplayState = "permission"
	StateQuestion   DisplayState = "question"
	StateDone       DisplayState = "done"
)

// Valid reports whether s is one of the known display states.
func (s DisplayState) Valid() bool {
	switch s {
	case StateBusy, StatePermission, StateQuestion, StateDone:
		return true
	}
	return false
}

// Hook event names sent by the agent tool.
const (
	EventSessionStart      = "SessionStart"
	EventSessionEnd        = "SessionEnd"
	EventUserPromptSubmit  = "UserPromptSubmit"
	EventPreToolUse        = "PreToolUse"
	EventStop              = "Stop"
	EventNotification      = "Notification"
	EventPermissionRequest = "PermissionRequest"
)

// Notification matcher values that carry status meaning.
const (
	matcherPermissionPrompt = "permission_prompt"
	matcherIdlePrompt       = "idle_prompt"
)

// questionTool is the tool name whose invocation means the agent is asking
// the user a question rather than doing work.
const questionTool = "AskUserQuestion"

// MapEvent maps a hook event to a display state. An empty result means the
// event carries no state change (unrecognized events included).
func MapEvent(event, toolName, matcher string) DisplayState {
	switch event {
	case EventPreToolUse:
		if toolName == questionTool {
			return StateQuestion
		}
		return StateBusy
	case EventSessionStart:
		return StateBusy
	case EventUserPromptSubmit:
		return StateBusy
	case EventStop:
		return StateDone
	case EventPermissionRequest:
		return StatePermission
	case EventNotification:
		switch matcher {
		case matcherPermissionPrompt:
			return StatePermission
		case matcherIdlePrompt:
			return StateDone
		}
		return ""
	}
	return ""
}

// IsSessionStart reports whether event announces a new agent session.
func IsSessionStart(event string) bool {
	return event == EventSessionStart
}

// IsSessionEnd reports whether event ends an agent session.
func IsSessionEnd(event string) bool {
	return event == EventSessionEnd
}

// NormalizeCwd canonicalizes a working directory path so that correlation
// keys computed by the emitter and the host always match. The function is
// idempotent and treats all directory separators as equivalent.
func NormalizeCwd(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	// Strip a Windows drive letter's case sensitivity problem at the
	// cheapest point: lowercase only the drive prefix, never the rest.
	if len(p) >= 2 && p[1] == ':' {
		p = strings.ToLower(p[:2]) + p[2:]
	}
	return path.Clean(p)
}
