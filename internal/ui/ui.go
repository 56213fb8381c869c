// Package ui is the terminal monitor for a running scheduler. It shows
// workers, the task queue and a scrolling event log, and exposes the
// operator actions.
package ui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/paneshift/internal/detect"
	"github.com/marcus/paneshift/internal/logging"
	"github.com/marcus/paneshift/internal/orchestrator"
	"github.com/marcus/paneshift/internal/tasks"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelWorkers Panel = iota
	PanelTasks
	PanelLogs
)

const maxLogEntries = 500

// Controller is the part of the orchestrator the monitor drives.
type Controller interface {
	Snapshot() orchestrator.Snapshot
	PauseScheduler()
	ResumeScheduler()
	PauseWorker(id int) error
	ResumeWorker(id int) error
	ResetWorker(id int) error
}

// LogEntry represents a log line.
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// Model holds the TUI state.
type Model struct {
	width       int
	height      int
	activePanel Panel
	quitting    bool

	snap orchestrator.Snapshot
	src  Controller

	selectedWorker int
	selectedTask   int
	taskScroll     int

	logs    []LogEntry
	logView viewport.Model
	status  string

	ring    *logging.Ring
	ringSeq uint64

	progressTick int
	styles       *Styles
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	StatusOK      lipgloss.Style
	StatusWarn    lipgloss.Style
	StatusError   lipgloss.Style
	StatusRunning lipgloss.Style

	Selected lipgloss.Style

	LogDebug lipgloss.Style
	LogInfo  lipgloss.Style
	LogWarn  lipgloss.Style
	LogError lipgloss.Style

	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),
		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title:     lipgloss.NewStyle().Bold(true).Foreground(highlight),
		Label:     lipgloss.NewStyle().Foreground(subtle),
		Value:     lipgloss.NewStyle().Bold(true),
		Highlight: lipgloss.NewStyle().Foreground(highlight).Bold(true),
		Muted:     lipgloss.NewStyle().Foreground(subtle),

		StatusOK:      lipgloss.NewStyle().Foreground(green).Bold(true),
		StatusWarn:    lipgloss.NewStyle().Foreground(yellow).Bold(true),
		StatusError:   lipgloss.NewStyle().Foreground(red).Bold(true),
		StatusRunning: lipgloss.NewStyle().Foreground(blue).Bold(true),

		Selected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		LogDebug: lipgloss.NewStyle().Foreground(subtle),
		LogInfo:  lipgloss.NewStyle().Foreground(blue),
		LogWarn:  lipgloss.NewStyle().Foreground(yellow),
		LogError: lipgloss.NewStyle().Foreground(red),

		HelpKey:  lipgloss.NewStyle().Foreground(highlight).Bold(true),
		HelpText: lipgloss.NewStyle().Foreground(subtle),
	}
}

// tickMsg is sent periodically to refresh the snapshot.
type tickMsg time.Time

// EventMsg delivers an orchestrator event to the monitor.
type EventMsg orchestrator.Event

// New creates a monitor over src.
func New(src Controller) *Model {
	m := &Model{
		width:       80,
		height:      24,
		activePanel: PanelWorkers,
		src:         src,
		logs:        make([]LogEntry, 0),
		logView:     viewport.New(78, 6),
		styles:      newStyles(),
	}
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLogs()
		return m, nil

	case tickMsg:
		m.progressTick++
		m.pullRing()
		m.refresh()
		return m, tickCmd()

	case EventMsg:
		m.addEvent(orchestrator.Event(msg))
		m.refresh()
		return m, nil

	case actionMsg:
		m.status = string(msg)
		m.refresh()
		return m, nil
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.src == nil {
		return
	}
	m.snap = m.src.Snapshot()
	if m.selectedWorker >= len(m.snap.Workers) {
		m.selectedWorker = max(len(m.snap.Workers)-1, 0)
	}
	if m.selectedTask >= len(m.snap.Tasks) {
		m.selectedTask = max(len(m.snap.Tasks)-1, 0)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "right", "l":
		m.activePanel = (m.activePanel + 1) % 3
		return m, nil

	case "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + 2) % 3
		return m, nil

	case "p":
		return m, m.toggleScheduler()

	case " ", "w":
		return m, m.toggleWorker()

	case "r":
		return m, m.resetWorker()
	}

	if m.activePanel == PanelLogs {
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "up", "k":
		m.move(-1)
	case "down", "j":
		m.move(1)
	case "home", "g":
		m.move(-1 << 30)
	case "end", "G":
		m.move(1 << 30)
	}
	return m, nil
}

func (m *Model) move(delta int) {
	clamp := func(v, n int) int {
		if v < 0 || n == 0 {
			return 0
		}
		if v >= n {
			return n - 1
		}
		return v
	}
	switch m.activePanel {
	case PanelWorkers:
		m.selectedWorker = clamp(m.selectedWorker+delta, len(m.snap.Workers))
	case PanelTasks:
		m.selectedTask = clamp(m.selectedTask+delta, len(m.snap.Tasks))
	}
}

// actionMsg reports the outcome of an operator action.
type actionMsg string

// Operator actions run as commands: they take the orchestrator lock, which a
// running tick may hold while it sends events to this program.

func (m Model) toggleScheduler() tea.Cmd {
	if m.src == nil {
		return nil
	}
	src, paused := m.src, m.snap.Paused
	return func() tea.Msg {
		if paused {
			src.ResumeScheduler()
			return actionMsg("scheduler resumed")
		}
		src.PauseScheduler()
		return actionMsg("scheduler paused")
	}
}

func (m Model) toggleWorker() tea.Cmd {
	if m.src == nil || len(m.snap.Workers) == 0 {
		return nil
	}
	src, w := m.src, m.snap.Workers[m.selectedWorker]
	return func() tea.Msg {
		if w.ManuallyPaused {
			if err := src.ResumeWorker(w.ID); err != nil {
				return actionMsg(err.Error())
			}
			return actionMsg(fmt.Sprintf("worker %d resumed", w.ID))
		}
		if err := src.PauseWorker(w.ID); err != nil {
			return actionMsg(err.Error())
		}
		return actionMsg(fmt.Sprintf("worker %d held", w.ID))
	}
}

func (m Model) resetWorker() tea.Cmd {
	if m.src == nil || len(m.snap.Workers) == 0 {
		return nil
	}
	src, id := m.src, m.snap.Workers[m.selectedWorker].ID
	return func() tea.Msg {
		if err := src.ResetWorker(id); err != nil {
			return actionMsg(err.Error())
		}
		return actionMsg(fmt.Sprintf("worker %d reset", id))
	}
}

// addEvent turns an orchestrator event into a log line.
func (m *Model) addEvent(e orchestrator.Event) {
	level := e.Level
	if level == "" {
		level = "info"
	}
	var msg string
	switch e.Type {
	case orchestrator.EventTick:
		return
	case orchestrator.EventLog:
		msg = e.Message + formatFields(e.Fields)
		if level == "debug" {
			return
		}
	case orchestrator.EventDispatch:
		msg = fmt.Sprintf("worker %d <- %s %s", e.WorkerID, e.Command, e.TaskID)
	case orchestrator.EventDispatchFailed:
		msg = fmt.Sprintf("worker %d dispatch of %s failed: %s", e.WorkerID, e.TaskID, e.Error)
	case orchestrator.EventTaskComplete:
		msg = fmt.Sprintf("worker %d finished %s %s (%s)", e.WorkerID, e.Command, e.TaskID, e.Message)
	case orchestrator.EventWorkerError:
		msg = fmt.Sprintf("worker %d: %s", e.WorkerID, e.Error)
	default:
		msg = e.Message
		if msg == "" {
			msg = e.Type.String()
		}
	}
	t := e.Time
	if t.IsZero() {
		t = time.Now()
	}
	m.AddLog(t, level, msg)
}

// SetLogRing makes the monitor show log lines from components other than
// the orchestrator, whose messages already arrive as events.
func (m *Model) SetLogRing(r *logging.Ring) {
	m.ring = r
}

// ringLine is the subset of a JSON log line the monitor shows.
type ringLine struct {
	Level     string    `json:"level"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message"`
	Component string    `json:"component"`
	Error     string    `json:"error"`
}

func (m *Model) pullRing() {
	if m.ring == nil {
		return
	}
	lines, seq := m.ring.Since(m.ringSeq)
	m.ringSeq = seq
	for _, line := range lines {
		var entry ringLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			m.AddLog(time.Now(), "info", line)
			continue
		}
		if entry.Component == "orchestrator" || entry.Level == "debug" {
			continue
		}
		msg := entry.Message
		if entry.Component != "" {
			msg = "[" + entry.Component + "] " + msg
		}
		if entry.Error != "" {
			msg += " error=" + entry.Error
		}
		if entry.Time.IsZero() {
			entry.Time = time.Now()
		}
		m.AddLog(entry.Time, entry.Level, msg)
	}
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "stack" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// AddLog appends a log entry and keeps the view pinned to the bottom
// unless the operator scrolled up.
func (m *Model) AddLog(t time.Time, level, message string) {
	follow := m.logView.AtBottom()
	m.logs = append(m.logs, LogEntry{Time: t, Level: level, Message: message})
	if len(m.logs) > maxLogEntries {
		m.logs = m.logs[len(m.logs)-maxLogEntries:]
	}
	m.logView.SetContent(m.renderLogLines())
	if follow {
		m.logView.GotoBottom()
	}
}

func (m *Model) layout() (topHeight, bottomHeight, leftWidth, rightWidth int) {
	topHeight = m.height / 2
	bottomHeight = m.height - topHeight - 1
	leftWidth = m.width / 2
	rightWidth = m.width - leftWidth
	return
}

func (m *Model) resizeLogs() {
	_, bottom, _, _ := m.layout()
	m.logView.Width = max(m.width-4, 10)
	m.logView.Height = max(bottom-4, 1)
	m.logView.SetContent(m.renderLogLines())
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	topHeight, bottomHeight, leftWidth, rightWidth := m.layout()

	workers := m.border(PanelWorkers).Width(leftWidth - 2).Height(topHeight - 2).
		Render(m.renderWorkerPanel(topHeight - 2))
	queue := m.border(PanelTasks).Width(rightWidth - 2).Height(topHeight - 2).
		Render(m.renderTaskPanel(topHeight - 2))
	logs := m.border(PanelLogs).Width(m.width - 2).Height(bottomHeight - 2).
		Render(m.styles.Title.Render("Log") + "\n" + m.logView.View())

	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, workers, queue),
		logs,
		m.renderHelpBar(),
	)
}

func (m Model) border(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

func (m Model) renderWorkerPanel(height int) string {
	var b strings.Builder

	state := m.styles.StatusRunning.Render("running")
	if m.snap.Paused {
		state = m.styles.StatusWarn.Render("paused")
	}
	b.WriteString(m.styles.Title.Render("Workers"))
	b.WriteString("  ")
	b.WriteString(m.styles.Label.Render("mode "))
	b.WriteString(m.styles.Value.Render(m.snap.Mode.String()))
	b.WriteString(m.styles.Label.Render("  scheduler "))
	b.WriteString(state)
	b.WriteString("\n\n")

	if len(m.snap.Workers) == 0 {
		b.WriteString(m.styles.Muted.Render("No workers"))
		return b.String()
	}

	for i, w := range m.snap.Workers {
		if i >= height-3 {
			break
		}
		line := fmt.Sprintf(" %s %d %-7s %s", m.stateIcon(w.State), w.ID, w.State, w.SessionID)
		if w.CurrentTask != "" {
			line += " " + w.CurrentTask
			if w.CurrentStep != "" {
				line += " [" + w.CurrentStep + "]"
			}
		}
		if w.ManuallyPaused {
			line += m.styles.StatusWarn.Render(" (held)")
		}
		if !w.ResumeNotBefore.IsZero() {
			line += m.styles.Muted.Render(" resumes " + w.ResumeNotBefore.Format("15:04"))
		}
		if i == m.selectedWorker && m.activePanel == PanelWorkers {
			line = m.styles.Selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) stateIcon(s detect.State) string {
	switch s {
	case detect.StateBusy:
		return m.styles.StatusRunning.Render(m.spinner())
	case detect.StateIdle:
		return m.styles.Muted.Render("o")
	case detect.StateDone:
		return m.styles.StatusOK.Render("*")
	case detect.StatePaused, detect.StateBlocked:
		return m.styles.StatusWarn.Render("!")
	default:
		return m.styles.StatusError.Render("x")
	}
}

func (m Model) renderTaskPanel(height int) string {
	var b strings.Builder

	counts := make(map[tasks.Status]int)
	for _, t := range m.snap.Tasks {
		counts[t.Status]++
	}
	b.WriteString(m.styles.Title.Render("Tasks"))
	b.WriteString(m.styles.Muted.Render(fmt.Sprintf("  %d total, %d done, %d eligible",
		len(m.snap.Tasks), counts[tasks.StatusDone], len(m.snap.Eligible))))
	b.WriteString("\n\n")

	if len(m.snap.Tasks) == 0 {
		b.WriteString(m.styles.Muted.Render("No tasks"))
		return b.String()
	}

	next := make(map[string]string, len(m.snap.Eligible))
	for _, c := range m.snap.Eligible {
		next[c.Task.ID] = c.Command
	}

	visible := max(height-4, 1)
	scroll := m.taskScroll
	if m.selectedTask < scroll {
		scroll = m.selectedTask
	} else if m.selectedTask >= scroll+visible {
		scroll = m.selectedTask - visible + 1
	}

	for i := scroll; i < len(m.snap.Tasks) && i < scroll+visible; i++ {
		t := m.snap.Tasks[i]
		line := fmt.Sprintf(" %-10s %-14s %s", t.ID, t.Status, t.Title)
		switch {
		case t.Assigned():
			line += m.styles.StatusRunning.Render(fmt.Sprintf(" @%d", t.AssignedWorker))
		case next[t.ID] != "":
			line += m.styles.Muted.Render(" -> " + next[t.ID])
		}
		if i == m.selectedTask && m.activePanel == PanelTasks {
			line = m.styles.Selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.snap.Tasks) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.selectedTask+1, len(m.snap.Tasks))))
	}
	return b.String()
}

func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.progressTick%len(frames)]
}

func (m Model) renderLogLines() string {
	lines := make([]string, 0, len(m.logs))
	for _, entry := range m.logs {
		var levelStyle lipgloss.Style
		switch entry.Level {
		case "debug":
			levelStyle = m.styles.LogDebug
		case "info":
			levelStyle = m.styles.LogInfo
		case "warn":
			levelStyle = m.styles.LogWarn
		case "error":
			levelStyle = m.styles.LogError
		default:
			levelStyle = m.styles.Muted
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			m.styles.Muted.Render(entry.Time.Format("15:04:05")),
			levelStyle.Render(fmt.Sprintf("[%-5s]", entry.Level)),
			entry.Message,
		))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderHelpBar() string {
	helpItems := []struct {
		key  string
		desc string
	}{
		{"tab", "panel"},
		{"j/k", "move"},
		{"p", "pause scheduler"},
		{"space", "hold worker"},
		{"r", "reset worker"},
		{"q", "quit"},
	}

	var parts []string
	for _, item := range helpItems {
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(item.key),
			m.styles.HelpText.Render(item.desc),
		))
	}
	bar := "  " + strings.Join(parts, "  |  ")
	if m.status != "" {
		bar += "  " + m.styles.Highlight.Render(m.status)
	}
	return bar
}

// Handler returns an orchestrator event handler that forwards to p.
func Handler(p *tea.Program) orchestrator.EventHandler {
	return func(e orchestrator.Event) {
		p.Send(EventMsg(e))
	}
}

// NewProgram creates the bubbletea program for m.
func NewProgram(m *Model, opts ...tea.ProgramOption) *tea.Program {
	return tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)
}
