package main

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamegineer/tablenet/pkg/protocol"
)

func enter(t *testing.T, m model, line string) model {
	t.Helper()
	m.input.SetValue(line)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return next.(model)
}

// closeSession delivers the session's close to the model the way the
// program would
func closeSession(t *testing.T, m model) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(waitForClose(m.sess)())
	return next.(model), cmd
}

func TestModelShowsSession(t *testing.T) {
	m := newModel(newFakeSession())
	view := m.View()
	assert.Contains(t, view, "alice @ table:7465")
	assert.Contains(t, view, "Type 'help' for commands")
	assert.NotNil(t, m.Init())
}

func TestModelRunsCommands(t *testing.T) {
	sess := newFakeSession()
	m := newModel(sess)

	m = enter(t, m, "request")
	m = enter(t, m, "   ")
	m = enter(t, m, "bogus")
	m = enter(t, m, "give bob")
	m = enter(t, m, "help")

	assert.Equal(t, []string{"request", "give bob"}, sess.Calls())
	assert.Empty(t, m.input.Value())

	view := m.View()
	assert.Contains(t, view, "> give bob")
	assert.Contains(t, view, `unknown command "bogus"`)
	assert.Contains(t, view, "hand control to another player")
	assert.False(t, m.leaving)
}

func TestModelQuitWaitsForClose(t *testing.T) {
	sess := newFakeSession()
	m := newModel(sess)

	m = enter(t, m, "quit")
	assert.True(t, m.leaving)
	assert.Contains(t, m.View(), "Leaving...")

	// Input after quitting is ignored
	m = enter(t, m, "request")
	assert.Equal(t, []string{"goodbye"}, sess.Calls())

	m, cmd := closeSession(t, m)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.NoError(t, m.err)
	assert.Contains(t, m.View(), "Left the table.")
}

func TestModelCtrlCSaysGoodbyeOnce(t *testing.T) {
	sess := newFakeSession()
	m := newModel(sess)

	for i := 0; i < 2; i++ {
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
		m = next.(model)
	}
	assert.Equal(t, []string{"goodbye"}, sess.Calls())
	assert.True(t, m.leaving)
}

func TestModelShowsServerCloseReason(t *testing.T) {
	sess := newFakeSession()
	m := newModel(sess)
	sess.drop(protocol.ErrUnexpectedMessage)

	m, cmd := closeSession(t, m)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.True(t, errors.Is(m.err, protocol.ErrUnexpectedMessage))
	assert.Contains(t, m.View(), "UNEXPECTED_MESSAGE")

	// Keys after the close do nothing
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Empty(t, sess.Calls())
	assert.True(t, next.(model).closed)
}

func TestModelScrollbackIsBounded(t *testing.T) {
	m := newModel(newFakeSession())
	for i := 0; i < maxScrollback; i++ {
		m = enter(t, m, "bogus")
	}
	assert.Len(t, m.lines, maxScrollback)
}
