// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/marquee/pkg/coolled"
	"github.com/Thermoquad/marquee/pkg/session"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	consoleRefresh   = 500 * time.Millisecond
	maxConsoleEvents = 100
	commandListWidth = 34
)

// Focus states
const (
	focusInput = iota
	focusCommands
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// signSession is the part of a session the console drives.
type signSession interface {
	Send(ctx context.Context, cmd coolled.Command) (*session.Result, error)
	Stats() session.Stats
	State() session.State
}

// Log entry severities
const (
	levelInfo = iota
	levelWarn
	levelError
)

type eventLogEntry struct {
	timestamp time.Time
	message   string
	level     int
}

// consoleModel is the Bubble Tea model for the console TUI
type consoleModel struct {
	ctx         context.Context
	session     signSession
	description string

	input    textinput.Model
	commands list.Model
	focus    int

	events []eventLogEntry
	stats  session.Stats
	state  session.State

	// Command in flight
	sending string
	cancel  context.CancelFunc

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type consoleTickMsg time.Time

type sessionEventMsg session.Event

type sendDoneMsg struct {
	command string
	result  *session.Result
	err     error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func newConsoleModel(ctx context.Context, s signSession, description string) consoleModel {
	ti := textinput.New()
	ti.Placeholder = "Hello <#00ff00>world   or   /brightness 40"
	ti.CharLimit = 512
	ti.Width = 60
	ti.Focus()

	items := make([]list.Item, len(consoleCommands))
	for i, c := range consoleCommands {
		items[i] = c
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	commands := list.New(items, delegate, commandListWidth, 14)
	commands.Title = "Commands"
	commands.SetShowStatusBar(false)
	commands.SetShowHelp(false)
	commands.SetFilteringEnabled(false)

	return consoleModel{
		ctx:         ctx,
		session:     s,
		description: description,
		input:       ti,
		commands:    commands,
		focus:       focusInput,
		events:      make([]eventLogEntry, 0),
		state:       s.State(),
		width:       100,
		height:      30,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, consoleTickCmd())
}

func consoleTickCmd() tea.Cmd {
	return tea.Tick(consoleRefresh, func(t time.Time) tea.Msg {
		return consoleTickMsg(t)
	})
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-commandListWidth-12, 20)
		m.commands.SetSize(commandListWidth, max(msg.Height-12, 6))
		return m, nil

	case consoleTickMsg:
		m.stats = m.session.Stats()
		m.state = m.session.State()
		return m, consoleTickCmd()

	case sessionEventMsg:
		m.logSessionEvent(session.Event(msg))
		m.state = m.session.State()
		return m, nil

	case sendDoneMsg:
		m.finishSend(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	return m.updateFocused(msg)
}

func (m consoleModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+q":
		if m.cancel != nil {
			m.cancel()
		}
		m.quitting = true
		return m, tea.Quit

	case "esc":
		if m.cancel != nil {
			m.cancel()
			m.addLogEntry(fmt.Sprintf("cancelling %s", m.sending), levelWarn)
		}
		return m, nil

	case "tab", "shift+tab":
		if m.focus == focusInput {
			m.focus = focusCommands
			m.input.Blur()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return m, nil

	case "enter":
		if m.focus == focusCommands {
			if c, ok := m.commands.SelectedItem().(consoleCommand); ok {
				m.input.SetValue("/" + c.name + " ")
				m.input.CursorEnd()
			}
			m.focus = focusInput
			m.input.Focus()
			return m, nil
		}
		return m.submit()
	}

	return m.updateFocused(msg)
}

func (m consoleModel) updateFocused(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	if m.focus == focusCommands {
		m.commands, cmd = m.commands.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

// submit parses the input line and starts sending it.
func (m consoleModel) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	if strings.TrimSpace(line) == "" {
		return m, nil
	}
	if m.sending != "" {
		m.addLogEntry(fmt.Sprintf("still sending %s (Esc cancels)", m.sending), levelWarn)
		return m, nil
	}

	c, err := parseConsoleLine(line)
	if err != nil {
		m.addLogEntry(err.Error(), levelError)
		return m, nil
	}
	m.input.Reset()
	return m, m.send(c)
}

// send runs c on its own goroutine; the result arrives as sendDoneMsg.
func (m *consoleModel) send(c coolled.Command) tea.Cmd {
	ctx, cancel := context.WithCancel(m.ctx)
	m.sending = c.Name()
	m.cancel = cancel
	s := m.session
	return func() tea.Msg {
		defer cancel()
		res, err := s.Send(ctx, c)
		return sendDoneMsg{command: c.Name(), result: res, err: err}
	}
}

func (m *consoleModel) finishSend(msg sendDoneMsg) {
	m.sending = ""
	m.cancel = nil
	m.stats = m.session.Stats()
	m.state = m.session.State()

	var fe *session.FaultError
	switch {
	case msg.err == nil:
	case errors.As(msg.err, &fe), errors.Is(msg.err, session.ErrCancelled):
		// Already reported through session events
	default:
		m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.command, msg.err), levelError)
	}
}

func (m *consoleModel) logSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventConnected:
		m.addLogEntry("connected", levelInfo)
	case session.EventDisconnected:
		m.addLogEntry("link lost", levelError)
	case session.EventAttemptFailed:
		m.addLogEntry(fmt.Sprintf("%s attempt %d failed (%d left): %v",
			ev.Command, ev.Attempt, ev.Remaining, ev.Err), levelWarn)
	case session.EventSent:
		m.addLogEntry(describeResult(ev.Result), levelInfo)
	case session.EventCancelled:
		m.addLogEntry(fmt.Sprintf("%s cancelled", ev.Command), levelWarn)
	case session.EventFaulted:
		m.addLogEntry(fmt.Sprintf("%s gave up: %v", ev.Command, ev.Err), levelError)
	}
}

func describeResult(res *session.Result) string {
	if res == nil {
		return "sent"
	}
	detail := fmt.Sprintf("%d frames", res.FramesWritten)
	if res.CacheHit {
		detail = "cache hit"
	} else if res.Chunks > 0 {
		detail = fmt.Sprintf("%d chunks", res.Chunks)
	}
	return fmt.Sprintf("%s sent: %s, %d attempt(s), %s",
		res.Command, detail, res.Attempts, res.Duration.Round(time.Millisecond))
}

func (m *consoleModel) addLogEntry(message string, level int) {
	m.events = append(m.events, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		level:     level,
	})
	if len(m.events) > maxConsoleEvents {
		m.events = m.events[len(m.events)-maxConsoleEvents:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))
)

func (m consoleModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("MARQUEE CONSOLE"))
	s.WriteString(" ")
	state := statsValueStyle.Render(m.state.String())
	if m.state == session.StateFaulted || m.state == session.StateDisconnected {
		state = warningStyle.Render(m.state.String())
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | ", m.description)))
	s.WriteString(state)
	s.WriteString(headerStyle.Render(" | Enter=send Esc=cancel Tab=switch Ctrl+C=quit"))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n")

	listBox, logBox := boxStyle, boxStyle
	if m.focus == focusCommands {
		listBox = focusedBoxStyle
	}
	logWidth := max(m.width-commandListWidth-10, 30)
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		listBox.Render(m.commands.View()),
		" ",
		logBox.Width(logWidth).Render(m.renderEventLog()),
	))
	s.WriteString("\n")

	inputBox := boxStyle
	if m.focus == focusInput {
		inputBox = focusedBoxStyle
	}
	prompt := m.input.View()
	if m.sending != "" {
		prompt += "  " + warningStyle.Render("sending "+m.sending+"...")
	}
	s.WriteString(inputBox.Width(max(m.width-4, 40)).Render(prompt))
	s.WriteString("\n")
	return s.String()
}

func (m consoleModel) renderStatisticsBar() string {
	st := m.stats
	value := func(v uint64) string { return statsValueStyle.Render(fmt.Sprintf("%d", v)) }
	failures := value(st.Failures)
	if st.Failures > 0 {
		failures = errorStyle.Render(fmt.Sprintf("%d", st.Failures))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Sent:"), value(st.Sends),
		statsLabelStyle.Render("Failed:"), failures,
		statsLabelStyle.Render("Retries:"), value(st.Retries),
		statsLabelStyle.Render("Cache hits:"), value(st.CacheHits),
		statsLabelStyle.Render("Frames:"), value(st.FramesWritten),
		statsLabelStyle.Render("Chunks:"), value(st.ChunksWritten),
		statsLabelStyle.Render("Link losses:"), value(st.LinkLosses),
	)
	return boxStyle.Width(max(m.width-4, 40)).Render(content)
}

func (m consoleModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	if len(m.events) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
		return s.String()
	}

	logHeight := max(m.height-14, 4)
	start := max(len(m.events)-logHeight, 0)
	for _, entry := range m.events[start:] {
		icon, style := "i", statsValueStyle
		switch entry.level {
		case levelWarn:
			icon, style = "!", warningStyle
		case levelError:
			icon, style = "x", errorStyle
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message))
	}
	return s.String()
}
