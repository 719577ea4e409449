package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gamegineer/tablenet/pkg/client"
)

// maxScrollback is the number of output lines kept on screen
const maxScrollback = 200

var (
	primaryColor = lipgloss.Color("39")  // Blue
	errorColor   = lipgloss.Color("196") // Red
	mutedColor   = lipgloss.Color("243") // Gray

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	echoStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	footerStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// closedMsg reports that the session has ended and why
type closedMsg struct {
	err error
}

// waitForClose blocks until the session closes
func waitForClose(sess client.TableSession) tea.Cmd {
	return func() tea.Msg {
		return closedMsg{err: sess.Wait()}
	}
}

// model is the terminal front end for one table session. Each entered line
// goes through execute; the program quits once the session closes.
type model struct {
	sess    client.TableSession
	input   textinput.Model
	lines   []string
	leaving bool
	closed  bool
	err     error
}

func newModel(sess client.TableSession) model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "help"
	input.CharLimit = 256
	input.Focus()

	return model{
		sess:  sess,
		input: input,
		lines: []string{fmt.Sprintf("Joined %s as %s. Type 'help' for commands.", sess.Address(), sess.PlayerName())},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForClose(m.sess))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case closedMsg:
		m.closed = true
		m.err = msg.err
		return m, tea.Quit

	case tea.KeyMsg:
		if m.closed {
			return m, nil
		}
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m.leave(), nil
		case tea.KeyEnter:
			return m.submit(), nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// leave says goodbye once; the closedMsg that follows ends the program
func (m model) leave() model {
	if m.leaving {
		return m
	}
	m.leaving = true
	if err := m.sess.Goodbye(); err != nil {
		m = m.appendLines(errorStyle.Render("error: " + err.Error()))
	}
	return m
}

func (m model) submit() model {
	line := m.input.Value()
	m.input.Reset()
	if strings.TrimSpace(line) == "" || m.leaving {
		return m
	}

	m = m.appendLines(echoStyle.Render("> " + line))

	var out strings.Builder
	quit, err := execute(&out, m.sess, line)
	if out.Len() > 0 {
		m = m.appendLines(strings.Split(strings.TrimRight(out.String(), "\n"), "\n")...)
	}
	if err != nil {
		m = m.appendLines(errorStyle.Render("error: " + err.Error()))
	}
	if quit {
		m.leaving = true
	}
	return m
}

func (m model) appendLines(lines ...string) model {
	m.lines = append(m.lines, lines...)
	if over := len(m.lines) - maxScrollback; over > 0 {
		m.lines = append([]string(nil), m.lines[over:]...)
	}
	return m
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("%s @ %s", m.sess.PlayerName(), m.sess.Address())))
	b.WriteString("\n\n")
	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case m.closed && m.err != nil:
		b.WriteString(errorStyle.Render("Disconnected: " + m.err.Error()))
	case m.closed:
		b.WriteString("Left the table.")
	case m.leaving:
		b.WriteString(footerStyle.Render("Leaving..."))
	default:
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(footerStyle.Render("enter: run  ctrl+c: leave"))
	}
	b.WriteString("\n")
	return b.String()
}
