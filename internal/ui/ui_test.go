package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/paneshift/internal/detect"
	"github.com/marcus/paneshift/internal/logging"
	"github.com/marcus/paneshift/internal/mode"
	"github.com/marcus/paneshift/internal/orchestrator"
	"github.com/marcus/paneshift/internal/policy"
	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/worker"
)

type fakeController struct {
	snap    orchestrator.Snapshot
	actions []string
}

func (f *fakeController) Snapshot() orchestrator.Snapshot { return f.snap }

func (f *fakeController) PauseScheduler() {
	f.snap.Paused = true
	f.actions = append(f.actions, "pause")
}

func (f *fakeController) ResumeScheduler() {
	f.snap.Paused = false
	f.actions = append(f.actions, "resume")
}

func (f *fakeController) PauseWorker(id int) error {
	f.actions = append(f.actions, "hold")
	for _, w := range f.snap.Workers {
		if w.ID == id {
			w.ManuallyPaused = true
		}
	}
	return nil
}

func (f *fakeController) ResumeWorker(id int) error {
	f.actions = append(f.actions, "release")
	return nil
}

func (f *fakeController) ResetWorker(id int) error {
	f.actions = append(f.actions, "reset")
	return nil
}

func newFake() *fakeController {
	t1 := &tasks.Task{ID: "T1", Title: "checkout", Status: tasks.StatusTodo}
	return &fakeController{snap: orchestrator.Snapshot{
		Mode: mode.Quick,
		Workers: []*worker.Worker{
			{ID: 1, SessionID: "%1", State: detect.StateBusy, CurrentTask: "T2", CurrentStep: "implement:build"},
			{ID: 2, SessionID: "%2", State: detect.StateIdle},
		},
		Tasks: []*tasks.Task{
			t1,
			{ID: "T2", Title: "cart", Status: tasks.StatusImplement, AssignedWorker: 1},
		},
		Eligible: []policy.Candidate{{Task: t1, Command: "start"}},
	}}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm, cmd
}

func TestNew(t *testing.T) {
	m := New(newFake())
	if m.width != 80 || m.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", m.width, m.height)
	}
	if m.activePanel != PanelWorkers {
		t.Errorf("activePanel = %d, want PanelWorkers", m.activePanel)
	}
	if len(m.snap.Workers) != 2 {
		t.Errorf("snapshot not loaded: %d workers", len(m.snap.Workers))
	}
}

func TestPanelNavigation(t *testing.T) {
	m := *New(newFake())
	m, _ = update(t, m, key("tab"))
	if m.activePanel != PanelTasks {
		t.Errorf("after tab = %d, want PanelTasks", m.activePanel)
	}
	m, _ = update(t, m, key("h"))
	if m.activePanel != PanelWorkers {
		t.Errorf("after h = %d, want PanelWorkers", m.activePanel)
	}
}

func TestSelectionClamps(t *testing.T) {
	m := *New(newFake())
	for i := 0; i < 5; i++ {
		m, _ = update(t, m, key("j"))
	}
	if m.selectedWorker != 1 {
		t.Errorf("selectedWorker = %d, want 1", m.selectedWorker)
	}
	m, _ = update(t, m, key("g"))
	if m.selectedWorker != 0 {
		t.Errorf("selectedWorker after g = %d, want 0", m.selectedWorker)
	}
}

func TestOperatorActions(t *testing.T) {
	fake := newFake()
	m := *New(fake)

	tests := []struct {
		key    string
		action string
		status string
	}{
		{"p", "pause", "scheduler paused"},
		{"r", "reset", "worker 1 reset"},
		{" ", "hold", "worker 1 held"},
	}
	for _, tt := range tests {
		var cmd tea.Cmd
		m, cmd = update(t, m, key(tt.key))
		if cmd == nil {
			t.Fatalf("key %q produced no command", tt.key)
		}
		m, _ = update(t, m, cmd())
		if got := fake.actions[len(fake.actions)-1]; got != tt.action {
			t.Errorf("key %q action = %s, want %s", tt.key, got, tt.action)
		}
		if m.status != tt.status {
			t.Errorf("key %q status = %q, want %q", tt.key, m.status, tt.status)
		}
	}

	m, cmd := update(t, m, key("p"))
	m, _ = update(t, m, cmd())
	if fake.actions[len(fake.actions)-1] != "resume" || m.snap.Paused {
		t.Errorf("second p did not resume: %v", fake.actions)
	}
}

func TestEventsBecomeLogLines(t *testing.T) {
	m := *New(newFake())
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	m, _ = update(t, m, EventMsg{Type: orchestrator.EventTick, Time: now})
	if len(m.logs) != 0 {
		t.Errorf("tick event logged: %v", m.logs)
	}
	m, _ = update(t, m, EventMsg{Type: orchestrator.EventLog, Level: "debug", Message: "noise", Time: now})
	if len(m.logs) != 0 {
		t.Errorf("debug event logged: %v", m.logs)
	}

	m, _ = update(t, m, EventMsg{Type: orchestrator.EventDispatch, WorkerID: 2, TaskID: "T1", Command: "start", Time: now})
	m, _ = update(t, m, EventMsg{
		Type:    orchestrator.EventLog,
		Level:   "warn",
		Message: "dependency problem",
		Fields:  map[string]any{"error": "cycle", "stack": "ignored"},
		Time:    now,
	})
	if len(m.logs) != 2 {
		t.Fatalf("got %d log lines, want 2", len(m.logs))
	}
	if m.logs[0].Message != "worker 2 <- start T1" {
		t.Errorf("dispatch line = %q", m.logs[0].Message)
	}
	if m.logs[1].Message != "dependency problem error=cycle" || m.logs[1].Level != "warn" {
		t.Errorf("log line = %+v", m.logs[1])
	}
}

func TestLogCap(t *testing.T) {
	m := New(nil)
	for i := 0; i < maxLogEntries+10; i++ {
		m.AddLog(time.Now(), "info", "line")
	}
	if len(m.logs) != maxLogEntries {
		t.Errorf("len(logs) = %d, want %d", len(m.logs), maxLogEntries)
	}
}

func TestRingLines(t *testing.T) {
	ring := logging.NewRing(10)
	m := New(nil)
	m.SetLogRing(ring)

	_, _ = ring.Write([]byte(`{"level":"warn","component":"tmux","message":"circuit breaker state change"}` + "\n"))
	_, _ = ring.Write([]byte(`{"level":"info","component":"orchestrator","message":"dispatched"}` + "\n"))
	_, _ = ring.Write([]byte("plain text\n"))
	m.pullRing()

	if len(m.logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2: %+v", len(m.logs), m.logs)
	}
	if m.logs[0].Level != "warn" || m.logs[0].Message != "[tmux] circuit breaker state change" {
		t.Errorf("logs[0] = %+v", m.logs[0])
	}
	if m.logs[1].Message != "plain text" {
		t.Errorf("logs[1] = %+v", m.logs[1])
	}

	m.pullRing()
	if len(m.logs) != 2 {
		t.Errorf("second pull added lines: %d", len(m.logs))
	}
}

func TestView(t *testing.T) {
	m := *New(newFake())
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	view := m.View()
	for _, want := range []string{"Workers", "%1", "T2", "implement:build", "checkout", "-> start", "quick"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}

	m, _ = update(t, m, key("q"))
	if m.View() != "" {
		t.Error("View() after quit should be empty")
	}
}

func TestFormatFields(t *testing.T) {
	if got := formatFields(nil); got != "" {
		t.Errorf("formatFields(nil) = %q", got)
	}
	got := formatFields(map[string]any{"worker": 1, "task": "T1"})
	if got != " task=T1 worker=1" {
		t.Errorf("formatFields() = %q", got)
	}
}
