package terminal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomquist/agentpanel/internal/hookstate"
)

// fakeCore records lifecycle calls from the manager.
type fakeCore struct {
	registered   map[string]string
	unregistered []string
}

func newFakeCore() *fakeCore {
	return &fakeCore{registered: make(map[string]string)}
}

func (c *fakeCore) RegisterTerminal(terminalID, cwd string) {
	c.registered[terminalID] = cwd
}

func (c *fakeCore) UnregisterTerminal(terminalID string) {
	c.unregistered = append(c.unregistered, terminalID)
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "panel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestManagerCreateRegistersPending(t *testing.T) {
	db := openTestDB(t)
	core := newFakeCore()
	m := NewManager(db, core)

	row, err := m.Create("api work", "/proj")
	require.NoError(t, err)
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, "/proj", core.registered[row.ID])

	got, err := db.Get(row.ID)
	require.NoError(t, err)
	assert.Equal(t, "api work", got.Title)
	assert.Equal(t, "/proj", got.Cwd)
}

func TestManagerCloseUnregistersFirst(t *testing.T) {
	db := openTestDB(t)
	core := newFakeCore()
	m := NewManager(db, core)

	row, err := m.Create("t", "/proj")
	require.NoError(t, err)

	require.NoError(t, m.Close(row.ID))
	assert.Equal(t, []string{row.ID}, core.unregistered)

	_, err = db.Get(row.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestManagerListOrdered(t *testing.T) {
	db := openTestDB(t)
	m := NewManager(db, newFakeCore())

	clock := time.Now()
	m.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	first, err := m.Create("first", "/a")
	require.NoError(t, err)
	second, err := m.CreateWorktree("second", "/b", "/b", "feature/login")
	require.NoError(t, err)

	rows, err := m.List()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.Equal(t, second.ID, rows[1].ID)
	assert.Equal(t, "feature/login", rows[1].WorktreeBranch)
}

func TestStatusForwarderPersistsAndForwards(t *testing.T) {
	db := openTestDB(t)
	m := NewManager(db, newFakeCore())

	row, err := m.Create("t", "/proj")
	require.NoError(t, err)

	var forwarded []hookstate.DisplayState
	next := forwarderFunc(func(id string, state hookstate.DisplayState) {
		forwarded = append(forwarded, state)
	})

	f := NewStatusForwarder(db, next)
	f.Send(row.ID, hookstate.StateBusy)
	f.Send(row.ID, hookstate.StateDone)

	got, err := db.Get(row.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", got.Status)
	assert.Equal(t, []hookstate.DisplayState{hookstate.StateBusy, hookstate.StateDone}, forwarded)
}

func TestStatusForwarderUnknownTerminal(t *testing.T) {
	db := openTestDB(t)
	f := NewStatusForwarder(db, nil)
	// Fire-and-forget: unknown ids must not panic or error out.
	f.Send("missing", hookstate.StatePermission)
}

type forwarderFunc func(string, hookstate.DisplayState)

func (f forwarderFunc) Send(id string, state hookstate.DisplayState) { f(id, state) }
