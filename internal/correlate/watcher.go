package correlate

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tomquist/agentpanel/internal/hookstate"
	"github.com/tomquist/agentpanel/internal/logging"
)

var watchLog = logging.ForComponent(logging.CompWatcher)

const (
	// DefaultRetention is how long a bound correlation survives without a
	// matching record before the sweeper evicts it.
	DefaultRetention = time.Hour

	// DefaultSweepInterval is how often the sweeper runs, independent of
	// file-change events.
	DefaultSweepInterval = 5 * time.Minute

	// defaultDebounce coalesces rapid fsnotify deliveries for one logical
	// write into a single dispatch cycle.
	defaultDebounce = 100 * time.Millisecond
)

// Forwarder receives (terminalID, state) pairs and pushes them across the
// host/UI boundary. Calls are fire-and-forget: no acknowledgment, no
// backpressure, and a torn-down UI silently drops them.
type Forwarder interface {
	Send(terminalID string, state hookstate.DisplayState)
}

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(terminalID string, state hookstate.DisplayState)

// Send calls f.
func (f ForwarderFunc) Send(terminalID string, state hookstate.DisplayState) {
	f(terminalID, state)
}

// Watcher observes the shared state file, correlates each new record with a
// terminal via the registry, and forwards display states to the UI. It also
// runs the staleness sweeper on a fixed interval.
type Watcher struct {
	statePath string
	registry  *Registry
	forwarder Forwarder

	retention     time.Duration
	sweepInterval time.Duration
	debounce      time.Duration
	now           func() time.Time

	watcher *fsnotify.Watcher

	mu         sync.Mutex
	watermarks map[string]int64 // session id -> last processed timestamp (ms)

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithRetention overrides the staleness retention window.
func WithRetention(d time.Duration) Option {
	return func(w *Watcher) { w.retention = d }
}

// WithSweepInterval overrides the sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(w *Watcher) { w.sweepInterval = d }
}

// WithDebounce overrides the file-change debounce window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// NewWatcher creates a watcher for the state file at statePath. Call
// Start() in a goroutine, then Stop() to release the file-watch
// subscription.
func NewWatcher(statePath string, registry *Registry, forwarder Forwarder, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		statePath:     statePath,
		registry:      registry,
		forwarder:     forwarder,
		retention:     DefaultRetention,
		sweepInterval: DefaultSweepInterval,
		debounce:      defaultDebounce,
		now:           time.Now,
		watcher:       fsw,
		watermarks:    make(map[string]int64),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// RegisterTerminal records a pending correlation for a newly created
// terminal. Must be called before any agent output is expected for it.
func (w *Watcher) RegisterTerminal(terminalID, cwd string) {
	w.registry.RegisterPending(terminalID, cwd)
	watchLog.Debug("terminal_registered",
		slog.String("terminal", terminalID),
		slog.String("cwd", cwd),
	)
}

// UnregisterTerminal drops all correlations for a destroyed terminal.
// Idempotent; unknown terminals are a no-op.
func (w *Watcher) UnregisterTerminal(terminalID string) {
	w.registry.Unregister(terminalID)
	watchLog.Debug("terminal_unregistered", slog.String("terminal", terminalID))
}

// Start watches the state file's directory and dispatches on every change,
// and runs the staleness sweeper on its own ticker. Must be called in a
// goroutine; blocks until Stop().
func (w *Watcher) Start() {
	// Watch the parent directory: the emitter replaces the file via
	// rename, which would drop a watch on the file itself.
	dir := filepath.Dir(w.statePath)
	if err := w.watcher.Add(dir); err != nil {
		watchLog.Warn("watch_add_failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}

	// Process whatever is already on disk at startup.
	w.dispatch()

	sweepTicker := time.NewTicker(w.sweepInterval)
	defer sweepTicker.Stop()

	var debounceTimer *time.Timer
	var pendingMu sync.Mutex
	pendingChange := false

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.statePath) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			pendingMu.Lock()
			pendingChange = true
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				pendingMu.Lock()
				had := pendingChange
				pendingChange = false
				pendingMu.Unlock()
				if had {
					w.dispatch()
				}
			})
			pendingMu.Unlock()

		case <-sweepTicker.C:
			if n := w.registry.Sweep(w.now(), w.retention); n > 0 {
				watchLog.Info("stale_sessions_swept", slog.Int("count", n))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			watchLog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

// Stop releases the file-watch subscription. No dispatch occurs after Stop
// returns; an in-flight cycle completes and its effects are discarded with
// the registry.
func (w *Watcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}

// dispatch runs one synchronization cycle: read the state file, correlate
// each new record, forward display states, and advance the per-session
// watermarks. A parse failure skips the cycle and retains prior state,
// since the file may have been observed mid-write.
func (w *Watcher) dispatch() {
	// Stop() bars any further dispatch, including one scheduled by a
	// debounce timer armed just before it.
	if w.ctx.Err() != nil {
		return
	}

	records, err := hookstate.Read(w.statePath)
	if err != nil {
		watchLog.Debug("dispatch_skipped", slog.String("error", err.Error()))
		return
	}

	now := w.now()
	for sessionID, rec := range records {
		w.processRecord(sessionID, rec, now)
	}

	// A watermark only matters while the session's entry is still in the
	// file; once the emitter prunes the entry the watermark would leak.
	w.mu.Lock()
	for sessionID := range w.watermarks {
		if _, ok := records[sessionID]; !ok {
			delete(w.watermarks, sessionID)
		}
	}
	w.mu.Unlock()
}

// processRecord handles one lifecycle record. Records whose timestamp is
// not strictly newer than the session's watermark are dropped, which makes
// duplicate fsnotify deliveries and redundant emitter writes idempotent.
func (w *Watcher) processRecord(sessionID string, rec hookstate.Record, now time.Time) {
	w.mu.Lock()
	last, seen := w.watermarks[sessionID]
	w.mu.Unlock()
	if seen && rec.Timestamp <= last {
		return
	}

	// Records older than the retention window are leftovers from sessions
	// that died without a final event. Replaying one after a restart must
	// not consume a live pending correlation or forward a stale state.
	if rec.Timestamp <= now.Add(-w.retention).UnixMilli() {
		watchLog.Debug("record_expired",
			slog.String("session", sessionID),
			slog.Int64("timestamp", rec.Timestamp),
		)
		w.advanceWatermark(sessionID, rec.Timestamp)
		return
	}

	if hookstate.IsSessionStart(rec.HookEvent) {
		if terminalID, ok := w.registry.Promote(sessionID, rec.Cwd, now); ok {
			watchLog.Info("session_bound",
				slog.String("session", sessionID),
				slog.String("terminal", terminalID),
				slog.String("cwd", rec.Cwd),
			)
		}
	}

	terminalID, ok := w.registry.Resolve(sessionID, rec.Cwd)
	if !ok {
		// Terminal already closed, or this session was never opened from
		// the panel. Not an error.
		watchLog.Debug("record_unmatched",
			slog.String("session", sessionID),
			slog.String("cwd", rec.Cwd),
			slog.String("event", rec.HookEvent),
		)
		w.advanceWatermark(sessionID, rec.Timestamp)
		return
	}

	if rec.State.Valid() {
		w.forwarder.Send(terminalID, rec.State)
	}

	w.registry.Touch(sessionID, now)

	if hookstate.IsSessionEnd(rec.HookEvent) {
		w.registry.Remove(sessionID)
		watchLog.Info("session_ended", slog.String("session", sessionID))
	}

	w.advanceWatermark(sessionID, rec.Timestamp)
}

func (w *Watcher) advanceWatermark(sessionID string, ts int64) {
	w.mu.Lock()
	w.watermarks[sessionID] = ts
	w.mu.Unlock()
}
