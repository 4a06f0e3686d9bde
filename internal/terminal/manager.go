package terminal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tomquist/agentpanel/internal/hookstate"
	"github.com/tomquist/agentpanel/internal/logging"
)

var termLog = logging.ForComponent(logging.CompTerminal)

// Lifecycle is the correlation core's consumed interface: terminals are
// announced before any agent output is expected and withdrawn before their
// working directory can be removed by other subsystems.
type Lifecycle interface {
	RegisterTerminal(terminalID, cwd string)
	UnregisterTerminal(terminalID string)
}

// Manager owns terminal creation and teardown, keeping the persisted
// registry and the correlation core in step.
type Manager struct {
	db   *DB
	core Lifecycle
	now  func() time.Time
}

// NewManager creates a Manager over db and the correlation core.
func NewManager(db *DB, core Lifecycle) *Manager {
	return &Manager{db: db, core: core, now: time.Now}
}

// Create mints a terminal id, persists the row, and registers a pending
// correlation for its working directory.
func (m *Manager) Create(title, cwd string) (Row, error) {
	now := m.now()
	row := Row{
		ID:           uuid.NewString(),
		Title:        title,
		Cwd:          cwd,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := m.db.Insert(row); err != nil {
		return Row{}, fmt.Errorf("create terminal: %w", err)
	}

	m.core.RegisterTerminal(row.ID, cwd)
	termLog.Info("terminal_created",
		slog.String("terminal", row.ID),
		slog.String("cwd", cwd),
	)
	return row, nil
}

// CreateWorktree is Create for a terminal running inside a git worktree.
func (m *Manager) CreateWorktree(title, cwd, worktreePath, branch string) (Row, error) {
	now := m.now()
	row := Row{
		ID:             uuid.NewString(),
		Title:          title,
		Cwd:            cwd,
		WorktreePath:   worktreePath,
		WorktreeBranch: branch,
		CreatedAt:      now,
		LastAccessed:   now,
	}
	if err := m.db.Insert(row); err != nil {
		return Row{}, fmt.Errorf("create terminal: %w", err)
	}

	m.core.RegisterTerminal(row.ID, cwd)
	return row, nil
}

// Close withdraws the terminal from the correlation core, then deletes the
// persisted row. Unregistration happens first so no late record can
// resolve to a terminal that is being torn down.
func (m *Manager) Close(id string) error {
	m.core.UnregisterTerminal(id)
	if err := m.db.Delete(id); err != nil {
		return fmt.Errorf("close terminal: %w", err)
	}
	termLog.Info("terminal_closed", slog.String("terminal", id))
	return nil
}

// List returns all persisted terminals.
func (m *Manager) List() ([]Row, error) {
	return m.db.List()
}

// Get returns one persisted terminal.
func (m *Manager) Get(id string) (Row, error) {
	return m.db.Get(id)
}

// StatusForwarder persists each display state before handing it to the
// next forwarder, so the panel's view survives restarts. Persistence
// failures are logged and swallowed: the forwarding path is
// fire-and-forget by contract.
type StatusForwarder struct {
	db   *DB
	next Forwarder
	now  func() time.Time
}

// Forwarder mirrors correlate.Forwarder without importing it; the two are
// satisfied by the same implementations.
type Forwarder interface {
	Send(terminalID string, state hookstate.DisplayState)
}

// NewStatusForwarder wraps next with status persistence. next may be nil.
func NewStatusForwarder(db *DB, next Forwarder) *StatusForwarder {
	return &StatusForwarder{db: db, next: next, now: time.Now}
}

// Send persists the state and forwards it.
func (f *StatusForwarder) Send(terminalID string, state hookstate.DisplayState) {
	if err := f.db.SetStatus(terminalID, string(state), f.now()); err != nil {
		termLog.Warn("status_persist_failed",
			slog.String("terminal", terminalID),
			slog.String("error", err.Error()),
		)
	}
	if f.next != nil {
		f.next.Send(terminalID, state)
	}
}
