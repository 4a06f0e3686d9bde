package correlate

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomquist/agentpanel/internal/hookstate"
)

// captureForwarder records every Send for assertions.
type captureForwarder struct {
	mu    sync.Mutex
	calls []forwardCall
}

type forwardCall struct {
	terminalID string
	state      hookstate.DisplayState
}

func (c *captureForwarder) Send(terminalID string, state hookstate.DisplayState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, forwardCall{terminalID, state})
}

func (c *captureForwarder) Calls() []forwardCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]forwardCall(nil), c.calls...)
}

// testClock anchors the watcher clock near the small record timestamps the
// tests use, so none of them fall outside the retention window.
var testClock = time.UnixMilli(1000)

// newTestWatcher builds a watcher without starting the fsnotify goroutine;
// tests drive dispatch() directly after writing the state file.
func newTestWatcher(t *testing.T) (*Watcher, *captureForwarder, string) {
	t.Helper()
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	fwd := &captureForwarder{}
	w, err := NewWatcher(statePath, NewRegistry(), fwd,
		WithClock(func() time.Time { return testClock }),
	)
	require.NoError(t, err)
	t.Cleanup(w.Stop)
	return w, fwd, statePath
}

func emit(t *testing.T, statePath string, rec hookstate.Record) {
	t.Helper()
	require.NoError(t, hookstate.Merge(statePath, rec, 0))
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSessionStartBindsAndForwards(t *testing.T) {
	w, fwd, statePath := newTestWatcher(t)

	w.RegisterTerminal("t1", "/proj")
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: 100, HookEvent: hookstate.EventSessionStart,
	})
	w.dispatch()

	terminalID, ok := w.registry.Resolve("s1", "")
	require.True(t, ok)
	assert.Equal(t, "t1", terminalID)
	assert.Equal(t, []forwardCall{{"t1", hookstate.StateBusy}}, fwd.Calls())
}

func TestQuestionStateForwarded(t *testing.T) {
	w, fwd, statePath := newTestWatcher(t)

	w.RegisterTerminal("t1", "/proj")
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: 100, HookEvent: hookstate.EventSessionStart,
	})
	w.dispatch()

	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateQuestion,
		Timestamp: 200, HookEvent: hookstate.EventPreToolUse,
	})
	w.dispatch()

	calls := fwd.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, forwardCall{"t1", hookstate.StateQuestion}, calls[1])
}

func TestDuplicateTimestampIsIdempotent(t *testing.T) {
	w, fwd, statePath := newTestWatcher(t)

	w.RegisterTerminal("t1", "/proj")
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateQuestion,
		Timestamp: 200, HookEvent: hookstate.EventPreToolUse,
	})
	w.dispatch()
	// Same logical update observed again (duplicate fsnotify delivery).
	w.dispatch()

	assert.Len(t, fwd.Calls(), 1)
}

func TestOlderTimestampIgnored(t *testing.T) {
	w, fwd, statePath := newTestWatcher(t)

	w.RegisterTerminal("t1", "/proj")
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateDone,
		Timestamp: 300, HookEvent: hookstate.EventStop,
	})
	w.dispatch()

	// A stale record must not affect state or produce output.
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: 250, HookEvent: hookstate.EventUserPromptSubmit,
	})
	w.dispatch()

	assert.Equal(t, []forwardCall{{"t1", hookstate.StateDone}}, fwd.Calls())
}

func TestUnknownSessionDropped(t *testing.T) {
	w, fwd, statePath := newTestWatcher(t)

	emit(t, statePath, hookstate.Record{
		SessionID: "s9", Cwd: "/elsewhere", State: hookstate.StateBusy,
		Timestamp: 100, HookEvent: hookstate.EventSessionStart,
	})
	w.dispatch()

	assert.Empty(t, fwd.Calls())
	assert.Equal(t, 0, w.registry.BoundCount())
}

func TestLateRecordAfterUnregister(t *testing.T) {
	w, fwd, statePath := newTestWatcher(t)

	w.RegisterTerminal("t1", "/proj")
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: 100, HookEvent: hookstate.EventSessionStart,
	})
	w.dispatch()

	w.UnregisterTerminal("t1")

	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateDone,
		Timestamp: 200, HookEvent: hookstate.EventStop,
	})
	w.dispatch()

	// Only the initial busy update; the late record resolves to nothing.
	assert.Equal(t, []forwardCall{{"t1", hookstate.StateBusy}}, fwd.Calls())
}

func TestSessionEndRemovesBinding(t *testing.T) {
	w, fwd, statePath := newTestWatcher(t)

	w.RegisterTerminal("t1", "/proj")
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: 100, HookEvent: hookstate.EventSessionStart,
	})
	w.dispatch()

	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: "",
		Timestamp: 200, HookEvent: hookstate.EventSessionEnd,
	})
	w.dispatch()

	_, ok := w.registry.Resolve("s1", "")
	assert.False(t, ok)
	// SessionEnd carries no display state, so no second forward.
	assert.Len(t, fwd.Calls(), 1)
}

func TestStalenessSweepSilent(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	fwd := &captureForwarder{}

	clock := testClock
	w, err := NewWatcher(statePath, NewRegistry(), fwd,
		WithRetention(time.Hour),
		WithClock(func() time.Time { return clock }),
	)
	require.NoError(t, err)
	defer w.Stop()

	w.RegisterTerminal("t1", "/proj")
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: 100, HookEvent: hookstate.EventSessionStart,
	})
	w.dispatch()
	require.Equal(t, 1, w.registry.BoundCount())

	// Advance past the retention window with no further records.
	clock = clock.Add(2 * time.Hour)
	removed := w.registry.Sweep(w.now(), w.retention)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, w.registry.BoundCount())

	// Removal is silent: no forwarder call beyond the initial one.
	assert.Len(t, fwd.Calls(), 1)
}

func TestParseFailureRetainsState(t *testing.T) {
	w, fwd, statePath := newTestWatcher(t)

	w.RegisterTerminal("t1", "/proj")
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: 100, HookEvent: hookstate.EventSessionStart,
	})
	w.dispatch()
	require.Equal(t, 1, w.registry.BoundCount())

	// A transient partial write must not cause spurious session loss.
	writeRaw(t, statePath, `{"s1": {"session_id": "s1", "cw`)
	w.dispatch()

	assert.Equal(t, 1, w.registry.BoundCount())
	assert.Len(t, fwd.Calls(), 1)
}

func TestRecordBeforeSessionStart(t *testing.T) {
	w, fwd, statePath := newTestWatcher(t)

	w.RegisterTerminal("t1", "/proj")

	// A first tool-use record preceding any session-start event still
	// resolves through the pending fallback.
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: 100, HookEvent: hookstate.EventPreToolUse,
	})
	w.dispatch()

	assert.Equal(t, []forwardCall{{"t1", hookstate.StateBusy}}, fwd.Calls())
}

func TestExpiredRecordDoesNotStealPending(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "sessions.json")
	fwd := &captureForwarder{}

	base := time.UnixMilli(0).Add(24 * time.Hour)
	w, err := NewWatcher(statePath, NewRegistry(), fwd,
		WithRetention(time.Hour),
		WithClock(func() time.Time { return base }),
	)
	require.NoError(t, err)
	defer w.Stop()

	// Leftover start record from a session that died before the daemon
	// restarted; with fresh watermarks nothing else filters it out.
	emit(t, statePath, hookstate.Record{
		SessionID: "dead", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: base.Add(-2 * time.Hour).UnixMilli(),
		HookEvent: hookstate.EventSessionStart,
	})

	w.RegisterTerminal("t1", "/proj")
	w.dispatch()

	assert.Empty(t, fwd.Calls())
	assert.Equal(t, 1, w.registry.PendingCount())
	assert.Equal(t, 0, w.registry.BoundCount())

	// The session that actually starts in the same directory still binds.
	emit(t, statePath, hookstate.Record{
		SessionID: "live", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: base.UnixMilli(),
		HookEvent: hookstate.EventSessionStart,
	})
	w.dispatch()

	terminalID, ok := w.registry.Resolve("live", "")
	require.True(t, ok)
	assert.Equal(t, "t1", terminalID)
	assert.Equal(t, []forwardCall{{"t1", hookstate.StateBusy}}, fwd.Calls())
}

func TestNoDispatchAfterStop(t *testing.T) {
	w, fwd, statePath := newTestWatcher(t)

	w.RegisterTerminal("t1", "/proj")
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: 100, HookEvent: hookstate.EventSessionStart,
	})

	w.Stop()
	w.dispatch()

	assert.Empty(t, fwd.Calls())
	assert.Equal(t, 0, w.registry.BoundCount())
}

func TestWatermarkPrunedWithFileEntry(t *testing.T) {
	w, _, statePath := newTestWatcher(t)

	w.RegisterTerminal("t1", "/proj")
	emit(t, statePath, hookstate.Record{
		SessionID: "s1", Cwd: "/proj", State: hookstate.StateBusy,
		Timestamp: 100, HookEvent: hookstate.EventSessionStart,
	})
	w.dispatch()

	w.mu.Lock()
	_, ok := w.watermarks["s1"]
	w.mu.Unlock()
	require.True(t, ok)

	// Once the emitter prunes the entry, the watermark goes with it.
	writeRaw(t, statePath, `{}`)
	w.dispatch()

	w.mu.Lock()
	_, ok = w.watermarks["s1"]
	w.mu.Unlock()
	assert.False(t, ok)
}
