// Package tui renders a live terminal view of a running telbridge server.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/telbridge/internal/dispatch"
	"github.com/mattjoyce/telbridge/internal/events"
	"github.com/mattjoyce/telbridge/internal/outbox"
)

const (
	maxRows        = 200
	maxEventLines  = 8
	healthInterval = 5 * time.Second
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	styleMissing = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	styleHelp    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// Invocation is one row of the monitor table.
type Invocation struct {
	At         time.Time
	RequestID  string
	Command    string
	Outcome    dispatch.Outcome
	Code       dispatch.Code
	TargetHash string
	Duration   time.Duration
}

type health struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	OutboxDepth   *int   `json:"outbox_depth"`
}

type Model struct {
	apiURL string
	apiKey string
	client *http.Client
	ctx    context.Context
	stream chan events.Event

	width  int
	height int

	invocations []Invocation
	eventLog    []events.Event
	sent        int
	failed      int
	health      health
	connErr     error

	table table.Model
}

type eventMsg events.Event
type healthMsg health
type errMsg struct{ err error }
type streamClosedMsg struct{}

// NewMonitor builds the model. ctx bounds the event stream.
func NewMonitor(ctx context.Context, apiURL, apiKey string) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Time", Width: 8},
			{Title: "Command", Width: 12},
			{Title: "Code", Width: 18},
			{Title: "Target", Width: 16},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
		client: &http.Client{},
		ctx:    ctx,
		stream: make(chan events.Event, 128),
		table:  t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribe(),
		m.receiveNextEvent(),
		m.fetchHealth,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 6)
		m.table.SetHeight(max(5, m.height/2))

	case eventMsg:
		m.apply(events.Event(msg))
		m.table.SetRows(m.rows())
		return m, m.receiveNextEvent()

	case healthMsg:
		m.health = health(msg)
		m.connErr = nil
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.fetchHealth() })

	case errMsg:
		m.connErr = msg.err
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.fetchHealth() })

	case streamClosedMsg:
		m.connErr = fmt.Errorf("event stream closed")
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// apply folds one server event into the model.
func (m *Model) apply(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLines {
		m.eventLog = m.eventLog[:maxEventLines]
	}

	switch e.Type {
	case events.EventCommandResolved:
		var r events.Resolved
		if err := json.Unmarshal(e.Data, &r); err != nil {
			return
		}
		m.invocations = append([]Invocation{{
			At:         e.At,
			RequestID:  r.RequestID,
			Command:    r.Command,
			Outcome:    r.Outcome,
			Code:       r.Code,
			TargetHash: r.TargetHash,
			Duration:   time.Duration(r.DurationMS) * time.Millisecond,
		}}, m.invocations...)
		if len(m.invocations) > maxRows {
			m.invocations = m.invocations[:maxRows]
		}
	case outbox.EventSent:
		m.sent++
	case outbox.EventFailed:
		var t outbox.TransitionEvent
		if err := json.Unmarshal(e.Data, &t); err == nil && t.Status == outbox.StatusFailed {
			m.failed++
		}
	}
}

func (m Model) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.invocations))
	for _, inv := range m.invocations {
		sym := styleOK.Render("●")
		code := "-"
		switch inv.Outcome {
		case dispatch.OutcomeFailure:
			sym = styleFailed.Render("∅")
			code = string(inv.Code)
		case dispatch.OutcomeNotImplemented:
			sym = styleMissing.Render("○")
			code = "not implemented"
		}
		target := inv.TargetHash
		if target == "" {
			target = "-"
		}
		rows = append(rows, table.Row{
			sym,
			inv.At.Local().Format("15:04:05"),
			inv.Command,
			code,
			target,
			inv.Duration.String(),
		})
	}
	return rows
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	invocations := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Invocations"),
			m.table.View(),
		),
	)
	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		invocations,
		eventsView,
		styleHelp.Render(" [q] Quit • [↑/↓] Scroll"),
	))
}

func (m Model) renderHeader() string {
	status := styleOK.Render("RUNNING")
	switch {
	case m.connErr != nil:
		status = styleFailed.Render("UNREACHABLE")
	case m.health.Status != "" && m.health.Status != "ok":
		status = styleFailed.Render("DEGRADED")
	}

	depth := "-"
	if m.health.OutboxDepth != nil {
		depth = fmt.Sprintf("%d", *m.health.OutboxDepth)
	}

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", time.Duration(m.health.UptimeSeconds)*time.Second),
		fmt.Sprintf("Outbox: %s", depth),
		fmt.Sprintf("Sent/Failed: %d/%d", m.sent, m.failed),
	}

	cell := lipgloss.NewStyle().Width((m.width - 4) / len(items))
	cells := make([]string, len(items))
	for i, it := range items {
		cells[i] = cell.Render(it)
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) renderEvents() string {
	if len(m.eventLog) == 0 {
		return "  No events yet..."
	}
	lines := make([]string, 0, len(m.eventLog))
	for _, e := range m.eventLog {
		lines = append(lines, fmt.Sprintf("%s | %-16s | %s", e.At.Local().Format("15:04:05"), e.Type, string(e.Data)))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// subscribe streams /events into m.stream until the connection ends.
func (m Model) subscribe() tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequestWithContext(m.ctx, http.MethodGet, m.apiURL+"/events", nil)
		if err != nil {
			return errMsg{err}
		}
		req.Header.Set("Authorization", "Bearer "+m.apiKey)

		resp, err := m.client.Do(req)
		if err != nil {
			return errMsg{err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg{fmt.Errorf("GET /events: %s", resp.Status)}
		}

		_ = readSSE(resp.Body, func(ev events.Event) bool {
			select {
			case m.stream <- ev:
				return true
			case <-m.ctx.Done():
				return false
			}
		})
		close(m.stream)
		return nil
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.stream
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) fetchHealth() tea.Msg {
	ctx, cancel := context.WithTimeout(m.ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.apiURL+"/healthz", nil)
	if err != nil {
		return errMsg{err}
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return errMsg{err}
	}
	defer resp.Body.Close()

	var h health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg{err}
	}
	return healthMsg(h)
}

// Run starts the monitor full-screen and blocks until the user quits.
func Run(ctx context.Context, apiURL, apiKey string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewMonitor(ctx, apiURL, apiKey), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
