// Package tui renders the chat session in the terminal with Bubble Tea.
package tui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/reflow/wordwrap"

	"github.com/rbright/parley/internal/session"
	"github.com/rbright/parley/internal/transcript"
)

// chromeLines is the row count taken by everything except the transcript pane.
const chromeLines = 6

// Controller is the part of the session controller the UI drives.
type Controller interface {
	View() session.View
	RequestLookup(name string) error
	SubmitText(text string) error
	ToggleListening()
}

type viewMsg session.View

type entryMsg transcript.Entry

// ViewChanged wraps a controller snapshot for Program.Send.
func ViewChanged(view session.View) tea.Msg {
	return viewMsg(view)
}

// EntryAdded wraps a transcript entry for Program.Send.
func EntryAdded(entry transcript.Entry) tea.Msg {
	return entryMsg(entry)
}

// Model is the Bubble Tea model for one chat session.
type Model struct {
	ctrl    Controller
	title   string
	styles  styles
	entries []transcript.Entry

	view     session.View
	input    textinput.Model
	viewport viewport.Model

	width int
}

// New builds a model seeded with the controller's current view and any entries
// already in the transcript.
func New(ctrl Controller, title string, entries []transcript.Entry) Model {
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 500

	m := Model{
		ctrl:     ctrl,
		title:    title,
		styles:   defaultStyles(),
		entries:  append([]transcript.Entry(nil), entries...),
		input:    input,
		viewport: viewport.New(80, 10),
		width:    80,
	}
	m.applyView(ctrl.View())
	m.refreshTranscript()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case viewMsg:
		cmd := m.applyView(session.View(msg))
		return m, cmd

	case entryMsg:
		m.entries = append(m.entries, transcript.Entry(msg))
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			m.submit()
			return m, nil
		case "pgup", "pgdown", "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		if m.inputEnabled() {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit routes Enter to whichever surface is enabled.
func (m *Model) submit() {
	switch m.view.Surface {
	case session.SurfaceLookup:
		err := m.ctrl.RequestLookup(m.input.Value())
		if err == nil || errors.Is(err, session.ErrEmptyInput) {
			m.input.Reset()
		}
	case session.SurfaceText:
		err := m.ctrl.SubmitText(m.input.Value())
		if err == nil || errors.Is(err, session.ErrEmptyInput) {
			m.input.Reset()
		}
	case session.SurfaceVoiceStart, session.SurfaceVoiceStop:
		m.ctrl.ToggleListening()
	}
}

func (m Model) inputEnabled() bool {
	return m.view.Surface == session.SurfaceLookup || m.view.Surface == session.SurfaceText
}

func (m *Model) applyView(view session.View) tea.Cmd {
	m.view = view
	if view.Placeholder != "" {
		m.input.Placeholder = view.Placeholder
	}
	if m.inputEnabled() {
		return m.input.Focus()
	}
	m.input.Blur()
	return nil
}

func (m *Model) resize(width int, height int) {
	m.width = width
	m.input.Width = max(width-len(m.input.Prompt)-1, 10)
	m.viewport.Width = width
	m.viewport.Height = max(height-chromeLines, 3)
	m.refreshTranscript()
}

func (m *Model) refreshTranscript() {
	width := max(m.viewport.Width, 20)
	lines := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		lines = append(lines, m.renderEntry(entry, width))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

func (m Model) renderEntry(entry transcript.Entry, width int) string {
	label := m.styles.collector.Render(string(entry.Sender) + ":")
	if entry.Sender == transcript.User {
		label = m.styles.user.Render(string(entry.Sender) + ":")
	}
	return wordwrap.String(label+" "+entry.Text, width)
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render(m.title))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.styles.rule.Render(strings.Repeat("─", max(m.width, 1))))
	b.WriteString("\n")

	if m.view.Listening && m.view.Interim != "" {
		b.WriteString(m.styles.interim.Render(m.view.Interim))
	}
	b.WriteString("\n")

	b.WriteString(m.surfaceLine())
	b.WriteString("\n")
	b.WriteString(m.styles.status.Render(m.view.Status))
	return b.String()
}

func (m Model) surfaceLine() string {
	switch m.view.Surface {
	case session.SurfaceLookup, session.SurfaceText:
		return m.input.View()
	case session.SurfaceVoiceStart:
		return m.styles.button.Render("[ Enter ] Start talking")
	case session.SurfaceVoiceStop:
		return m.styles.buttonActive.Render("[ Enter ] Stop listening")
	default:
		if m.view.Speaking {
			return m.styles.disabled.Render("Collector is speaking...")
		}
		return m.styles.disabled.Render("Waiting for the collector...")
	}
}
