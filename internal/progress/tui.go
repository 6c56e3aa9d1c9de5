package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUI is the default interactive Reporter, rendering one row per task as a
// live table. Grounded on internal/tui/monitor.go's bubbletea
// Model/table.Model/lipgloss styling, generalized from polling a job-queue
// HTTP API to consuming Reporter calls pushed directly over a channel (the
// engine has no HTTP surface — spec §1/§6 describe a CLI tool only).
type TUI struct {
	mu       sync.Mutex
	program  *tea.Program
	events   chan tuiEvent
	doneWg   sync.WaitGroup
}

type rowStatus string

const (
	rowReady    rowStatus = "READY"
	rowRunning  rowStatus = "RUN"
	rowFinished rowStatus = "DONE"
)

type tuiEvent struct {
	rule      string
	status    rowStatus
	message   string
	finalStat string
	duration  time.Duration
	logLevel  string
	logMsg    string
}

var (
	statusSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// NewTUI starts the interactive renderer in a background goroutine and
// returns a Reporter bound to it. Call Stop when the invocation is
// complete.
func NewTUI() *TUI {
	t := &TUI{events: make(chan tuiEvent, 256)}
	model := newTUIModel(t.events)
	t.program = tea.NewProgram(model)

	t.doneWg.Add(1)
	go func() {
		defer t.doneWg.Done()
		_, _ = t.program.Run()
	}()
	return t
}

// Stop closes the event channel and waits for the render loop to exit.
func (t *TUI) Stop() {
	close(t.events)
	t.doneWg.Wait()
}

func (t *TUI) TaskReady(rule string) {
	t.events <- tuiEvent{rule: rule, status: rowReady}
}

func (t *TUI) TaskStarted(rule string) {
	t.events <- tuiEvent{rule: rule, status: rowRunning}
}

func (t *TUI) TaskProgress(rule, message string) {
	t.events <- tuiEvent{rule: rule, status: rowRunning, message: message}
}

func (t *TUI) TaskFinished(rule, status string, d time.Duration) {
	t.events <- tuiEvent{rule: rule, status: rowFinished, finalStat: status, duration: d}
}

func (t *TUI) Log(level, msg string) {
	t.events <- tuiEvent{logLevel: level, logMsg: msg}
}

var _ Reporter = (*TUI)(nil)

// --- bubbletea model ---

type tuiRow struct {
	rule      string
	status    string
	message   string
	started   time.Time
	duration  time.Duration
}

type tuiModel struct {
	events chan tuiEvent
	rows   map[string]*tuiRow
	order  []string
	table  table.Model
	logs   []string
}

type tuiEventMsg tuiEvent
type tuiClosedMsg struct{}

func newTUIModel(events chan tuiEvent) tuiModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 6},
			{Title: "Rule", Width: 40},
			{Title: "Message", Width: 40},
		}),
		table.WithHeight(15),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(false)
	t.SetStyles(s)

	return tuiModel{
		events: events,
		rows:   make(map[string]*tuiRow),
		table:  t,
	}
}

func (m tuiModel) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m tuiModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return tuiClosedMsg{}
		}
		return tuiEventMsg(ev)
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tuiClosedMsg:
		return m, tea.Quit
	case tuiEventMsg:
		m.apply(tuiEvent(msg))
		m.table.SetRows(m.rowsForTable())
		return m, m.waitForEvent()
	}
	return m, nil
}

func (m *tuiModel) apply(ev tuiEvent) {
	if ev.rule == "" {
		if ev.logMsg != "" {
			m.logs = append(m.logs, fmt.Sprintf("[%s] %s", ev.logLevel, ev.logMsg))
		}
		return
	}

	row, ok := m.rows[ev.rule]
	if !ok {
		row = &tuiRow{rule: ev.rule}
		m.rows[ev.rule] = row
		m.order = append(m.order, ev.rule)
	}

	switch ev.status {
	case rowReady:
		row.status = string(rowReady)
	case rowRunning:
		if row.started.IsZero() {
			row.started = time.Now()
		}
		row.status = string(rowRunning)
		if ev.message != "" {
			row.message = ev.message
		}
	case rowFinished:
		row.status = ev.finalStat
		row.duration = ev.duration
	}
}

func (m tuiModel) rowsForTable() []table.Row {
	rows := make([]table.Row, 0, len(m.order))
	for _, name := range m.order {
		r := m.rows[name]
		rows = append(rows, table.Row{styledStatus(r.status), r.rule, r.message})
	}
	return rows
}

func styledStatus(status string) string {
	switch status {
	case "Succeeded", "Skipped":
		return statusSucceeded.Render(status)
	case "Failed", "Cancelled":
		return statusFailed.Render(status)
	case string(rowRunning):
		return statusRunning.Render(status)
	default:
		return statusQueued.Render(status)
	}
}

func (m tuiModel) View() string {
	return m.table.View() + "\n(q to quit)\n"
}
