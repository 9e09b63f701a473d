// Package watch is a live terminal view of the sync service: connection
// state, poll progress, folder counts and incoming new-mail events.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsync/internal/folder"
	"github.com/nhle/mailsync/internal/keys"
	"github.com/nhle/mailsync/internal/model"
	appsync "github.com/nhle/mailsync/internal/sync"
	"github.com/nhle/mailsync/internal/theme"
)

const (
	maxEvents      = 20
	statusInterval = time.Second
	statsTimeout   = 30 * time.Second
	timeLayout     = "15:04:05"
)

// Backend is the part of the service the view reads from.
type Backend interface {
	IsConnected() bool
	SyncStatus() appsync.SyncStatus
	FolderStats(ctx context.Context) (map[folder.Canonical]uint32, error)
	Subscribe() (<-chan model.NewMailEvent, func())
	TriggerPoll()
}

// NewMailMsg delivers one event from the service subscription.
type NewMailMsg struct {
	Event model.NewMailEvent
}

// StreamClosedMsg is sent once the subscription channel is closed.
type StreamClosedMsg struct{}

// StatsLoadedMsg carries the result of a folder stats request.
type StatsLoadedMsg struct {
	Stats map[folder.Canonical]uint32
	Err   error
}

type statusTickMsg struct{}

// Model is the root Bubble Tea model of the watch view.
type Model struct {
	backend     Backend
	keys        *keys.KeyMap
	help        help.Model
	spinner     spinner.Model
	events      <-chan model.NewMailEvent
	unsubscribe func()

	connected bool
	status    appsync.SyncStatus
	received  []model.NewMailEvent
	stats     map[folder.Canonical]uint32
	statsErr  error
	closed    bool

	width  int
	height int
}

// New subscribes to backend events and returns the view model. The
// subscription is released when the user quits.
func New(b Backend, k *keys.KeyMap) Model {
	events, unsubscribe := b.Subscribe()

	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(theme.ColorYellow)),
	)

	return Model{
		backend:     b,
		keys:        k,
		help:        help.New(),
		spinner:     s,
		events:      events,
		unsubscribe: unsubscribe,
		connected:   b.IsConnected(),
		status:      b.SyncStatus(),
	}
}

// Init starts the spinner, the status ticker and the event listener, and
// loads the initial folder stats.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForEvent(m.events),
		tickStatus(),
		m.loadStats(),
	)
}

// Update handles messages for the watch view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.unsubscribe()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			m.backend.TriggerPoll()
			return m, nil
		case key.Matches(msg, m.keys.Stats):
			return m, m.loadStats()
		case key.Matches(msg, m.keys.Clear):
			m.received = nil
			return m, nil
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
		return m, nil

	case NewMailMsg:
		m.received = append([]model.NewMailEvent{msg.Event}, m.received...)
		if len(m.received) > maxEvents {
			m.received = m.received[:maxEvents]
		}
		// Counts are stale once new mail arrives.
		return m, tea.Batch(waitForEvent(m.events), m.loadStats())

	case StreamClosedMsg:
		m.closed = true
		return m, nil

	case StatsLoadedMsg:
		m.stats = msg.Stats
		m.statsErr = msg.Err
		return m, nil

	case statusTickMsg:
		m.connected = m.backend.IsConnected()
		m.status = m.backend.SyncStatus()
		return m, tickStatus()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the header, folder counts, event log and help line.
func (m Model) View() string {
	sections := []string{
		m.renderHeader(),
		m.renderStats(),
		m.renderEvents(),
		theme.HelpStyle.Render(m.help.View(m.keys)),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// Received returns the buffered events, newest first.
func (m Model) Received() []model.NewMailEvent {
	return m.received
}

func (m Model) state() string {
	switch {
	case m.closed:
		return "stopped"
	case !m.connected:
		return "disconnected"
	default:
		return m.status.State.String()
	}
}

func (m Model) renderHeader() string {
	state := m.state()
	indicator := theme.StateStyle(state).Render(state)
	if state == appsync.SyncRunning.String() {
		indicator = m.spinner.View() + indicator
	}

	line := lipgloss.JoinHorizontal(lipgloss.Top,
		theme.HeaderStyle.Render("mailsync"),
		" ",
		indicator,
	)

	var detail string
	switch {
	case m.status.Error != nil:
		detail = theme.ErrorStyle.Render(m.status.Error.Error())
	case !m.status.LastSync.IsZero():
		detail = theme.HelpStyle.Render("last sync " + m.status.LastSync.Local().Format(timeLayout))
	default:
		detail = theme.HelpStyle.Render("waiting for the first poll")
	}
	return line + "\n" + detail + "\n"
}

func (m Model) renderStats() string {
	var b strings.Builder
	b.WriteString(theme.LabelStyle.Render("Folders"))
	b.WriteString("\n")

	if m.statsErr != nil {
		b.WriteString(theme.ErrorStyle.Render("  " + m.statsErr.Error()))
		b.WriteString("\n")
		return b.String()
	}
	for _, c := range folder.All {
		n := m.stats[c]
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			"  ",
			theme.LabelStyle.Render(string(c)),
			theme.CountStyle(n).Render(fmt.Sprint(n)),
		))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderEvents() string {
	var b strings.Builder
	b.WriteString(theme.LabelStyle.Render("New mail"))
	b.WriteString("\n")

	if len(m.received) == 0 {
		b.WriteString(theme.HelpStyle.Render("  nothing yet"))
		b.WriteString("\n")
		return b.String()
	}
	for _, ev := range m.received {
		noun := "messages"
		if ev.NewEmailCount == 1 {
			noun = "message"
		}
		b.WriteString(fmt.Sprintf("  %s  %s %d new %s, %d in INBOX\n",
			theme.HelpStyle.Render(ev.Timestamp.Local().Format(timeLayout)),
			theme.SuccessStyle.Render("+"),
			ev.NewEmailCount, noun, ev.TotalEmails,
		))
	}
	return b.String()
}

func (m Model) loadStats() tea.Cmd {
	b := m.backend
	return func() tea.Msg {
		if !b.IsConnected() {
			return StatsLoadedMsg{}
		}
		ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
		defer cancel()
		stats, err := b.FolderStats(ctx)
		return StatsLoadedMsg{Stats: stats, Err: err}
	}
}

func waitForEvent(ch <-chan model.NewMailEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return StreamClosedMsg{}
		}
		return NewMailMsg{Event: ev}
	}
}

func tickStatus() tea.Cmd {
	return tea.Tick(statusInterval, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}
