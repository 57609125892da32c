package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hookworks/deploygate/internal/server"
)

const pollInterval = 2 * time.Second

// Model is the main BubbleTea model for the watch TUI. It polls the daemon
// for recent runs and health and renders them as a navigable table.
type Model struct {
	apiURL string

	width  int
	height int

	runs      []server.RunView
	connected bool
	lastPoll  time.Time
	lastError string

	table table.Model
	theme Theme
}

// New creates a new watch TUI model pointed at a running daemon.
func New(apiURL string) *Model {
	columns := []table.Column{
		{Title: "When", Width: 19},
		{Title: "Status", Width: 10},
		{Title: "Branch", Width: 16},
		{Title: "Pusher", Width: 14},
		{Title: "Error", Width: 40},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("#61AFEF"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#E5C07B")).Bold(true)
	t.SetStyles(styles)

	return &Model{
		apiURL: apiURL,
		table:  t,
		theme:  NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return fetchRuns(m.apiURL) },
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
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
		m.table.SetHeight(max(5, m.height-8))

	case tickMsg:
		return m, tea.Batch(
			func() tea.Msg { return fetchRuns(m.apiURL) },
			tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) }),
		)

	case runsMsg:
		m.runs = msg
		m.connected = true
		m.lastPoll = time.Now()
		m.lastError = ""
		m.table.SetRows(m.rows())
		return m, nil

	case healthMsg:
		m.connected = true
		return m, nil

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.runs))
	for _, run := range m.runs {
		when := run.CreatedAt
		if t, err := time.Parse(time.RFC3339, run.CreatedAt); err == nil {
			when = t.Local().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, table.Row{when, run.Status, run.Branch, run.Pusher, run.LastError})
	}
	return rows
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to deploygate..."
	}

	title := m.theme.Title.Render("deploygate runs")

	var status string
	if m.connected {
		status = m.theme.StatusCompleted.Render(fmt.Sprintf("● %s", m.apiURL)) +
			m.theme.Dim.Render(fmt.Sprintf("  polled %s", m.lastPoll.Format("15:04:05")))
	} else {
		status = m.theme.StatusFailed.Render("○ disconnected")
	}

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := m.theme.Dim.Render(" [q] Quit • [↑/↓] Navigate")

	parts := []string{title, status, m.theme.Border.Render(m.table.View())}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
