package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marcus/paneshift/internal/detect"
	"github.com/marcus/paneshift/internal/mode"
	"github.com/marcus/paneshift/internal/orchestrator"
	"github.com/marcus/paneshift/internal/policy"
	"github.com/marcus/paneshift/internal/state"
	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/worker"
)

type fakeController struct {
	snap       orchestrator.Snapshot
	calls      []string
	dispatched []string
	err        error
}

func (f *fakeController) Snapshot() orchestrator.Snapshot { return f.snap }
func (f *fakeController) PauseScheduler()                 { f.calls = append(f.calls, "pause"); f.snap.Paused = true }
func (f *fakeController) ResumeScheduler()                { f.calls = append(f.calls, "resume"); f.snap.Paused = false }

func (f *fakeController) PauseWorker(id int) error  { return f.record("pause_worker", id) }
func (f *fakeController) ResumeWorker(id int) error { return f.record("resume_worker", id) }
func (f *fakeController) ResetWorker(id int) error  { return f.record("reset_worker", id) }

func (f *fakeController) record(name string, id int) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, name)
	return nil
}

func (f *fakeController) DispatchCommand(ctx context.Context, workerID int, taskID, cmd string) error {
	if f.err != nil {
		return f.err
	}
	f.dispatched = append(f.dispatched, taskID+":"+cmd)
	return nil
}

type fakeHistory struct{ records []state.Record }

func (h *fakeHistory) History(limit int) ([]state.Record, error) { return h.records, nil }

func (h *fakeHistory) TaskHistory(taskID string, limit int) ([]state.Record, error) {
	var out []state.Record
	for _, r := range h.records {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newController() *fakeController {
	t1 := &tasks.Task{ID: "T1", Title: "checkout", Category: tasks.CategoryDevelopment, Status: tasks.StatusTodo}
	return &fakeController{snap: orchestrator.Snapshot{
		Mode:     mode.Develop,
		Ticks:    3,
		LastTick: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		Workers: []*worker.Worker{
			{ID: 1, SessionID: "%1", State: detect.StateBusy, CurrentTask: "T2"},
			{ID: 2, SessionID: "%2", State: detect.StateIdle, ManuallyPaused: true},
		},
		Tasks: []*tasks.Task{
			t1,
			{ID: "T2", Title: "cart", Category: tasks.CategoryDevelopment, Status: tasks.StatusImplement, AssignedWorker: 1},
		},
		Eligible: []policy.Candidate{{Task: t1, Command: "start"}},
	}}
}

func call(t *testing.T, s *server.MCPServer, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool := s.GetTool(name)
	if tool == nil {
		t.Fatalf("tool %s not registered", name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("%s handler error: %v", name, err)
	}
	return result
}

func text(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("empty result")
	}
	tc, ok := r.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", r.Content[0])
	}
	return tc.Text
}

func TestGetStatus(t *testing.T) {
	s := NewServer(newController(), nil)
	r := call(t, s, "get_status", map[string]any{})
	if r.IsError {
		t.Fatalf("get_status error: %s", text(t, r))
	}

	var v statusView
	if err := json.Unmarshal([]byte(text(t, r)), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Mode != "develop" || v.Paused || v.Ticks != 3 || v.Eligible != 1 {
		t.Errorf("status = %+v", v)
	}
	if v.Workers["busy"] != 1 || v.Workers["idle"] != 1 {
		t.Errorf("worker counts = %v", v.Workers)
	}
	if v.Tasks["todo"] != 1 || v.Tasks["implement"] != 1 {
		t.Errorf("task counts = %v", v.Tasks)
	}
}

func TestListWorkers(t *testing.T) {
	s := NewServer(newController(), nil)
	var resp struct {
		Workers []workerView `json:"workers"`
	}
	if err := json.Unmarshal([]byte(text(t, call(t, s, "list_workers", nil))), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Workers) != 2 {
		t.Fatalf("got %d workers", len(resp.Workers))
	}
	if resp.Workers[0].Task != "T2" || resp.Workers[0].State != "busy" {
		t.Errorf("worker 1 = %+v", resp.Workers[0])
	}
	if !resp.Workers[1].Held {
		t.Error("worker 2 should be held")
	}
}

func TestListTasks(t *testing.T) {
	s := NewServer(newController(), nil)

	tests := []struct {
		name string
		args map[string]any
		want []string
	}{
		{"all", map[string]any{}, []string{"T1", "T2"}},
		{"by status", map[string]any{"status": "implement"}, []string{"T2"}},
		{"eligible", map[string]any{"eligible": true}, []string{"T1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp struct {
				Tasks []taskView `json:"tasks"`
			}
			if err := json.Unmarshal([]byte(text(t, call(t, s, "list_tasks", tt.args))), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			var got []string
			for _, tv := range resp.Tasks {
				got = append(got, tv.ID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("tasks = %v, want %v", got, tt.want)
			}
		})
	}

	if r := call(t, s, "list_tasks", map[string]any{"status": "bogus"}); !r.IsError {
		t.Error("expected error for unknown status")
	}
}

func TestSchedulerTools(t *testing.T) {
	ctrl := newController()
	s := NewServer(ctrl, nil)

	call(t, s, "pause_scheduler", nil)
	if !ctrl.snap.Paused {
		t.Error("pause_scheduler did not pause")
	}
	call(t, s, "resume_scheduler", nil)
	if ctrl.snap.Paused {
		t.Error("resume_scheduler did not resume")
	}
}

func TestWorkerTools(t *testing.T) {
	ctrl := newController()
	s := NewServer(ctrl, nil)

	for _, name := range []string{"pause_worker", "resume_worker", "reset_worker"} {
		r := call(t, s, name, map[string]any{"worker_id": float64(2)})
		if r.IsError {
			t.Errorf("%s error: %s", name, text(t, r))
		}
	}
	if strings.Join(ctrl.calls, ",") != "pause_worker,resume_worker,reset_worker" {
		t.Errorf("calls = %v", ctrl.calls)
	}

	if r := call(t, s, "pause_worker", map[string]any{}); !r.IsError {
		t.Error("expected error without worker_id")
	}

	ctrl.err = worker.ErrUnknownWorker
	r := call(t, s, "reset_worker", map[string]any{"worker_id": float64(9)})
	if !r.IsError || !strings.Contains(text(t, r), "unknown worker") {
		t.Errorf("reset_worker(9) = %+v", r)
	}
}

func TestDispatchCommand(t *testing.T) {
	ctrl := newController()
	s := NewServer(ctrl, nil)

	r := call(t, s, "dispatch_command", map[string]any{"worker_id": float64(2), "task_id": "T1", "command": "approve"})
	if r.IsError {
		t.Fatalf("dispatch_command error: %s", text(t, r))
	}
	if len(ctrl.dispatched) != 1 || ctrl.dispatched[0] != "T1:approve" {
		t.Errorf("dispatched = %v", ctrl.dispatched)
	}

	if r := call(t, s, "dispatch_command", map[string]any{"worker_id": float64(2)}); !r.IsError {
		t.Error("expected error without task_id")
	}

	ctrl.err = errors.New("worker not ready")
	if r := call(t, s, "dispatch_command", map[string]any{"worker_id": float64(1), "task_id": "T1"}); !r.IsError {
		t.Error("expected controller error to surface")
	}
}

func TestHistoryTool(t *testing.T) {
	if NewServer(newController(), nil).GetTool("get_history") != nil {
		t.Error("get_history registered without a history reader")
	}

	h := &fakeHistory{records: []state.Record{
		{ID: "a", TaskID: "T1", Command: "start", Result: state.ResultDispatched},
		{ID: "b", TaskID: "T2", Command: "build", Result: state.ResultSuccess},
	}}
	s := NewServer(newController(), h)

	var resp struct {
		History []state.Record `json:"history"`
	}
	if err := json.Unmarshal([]byte(text(t, call(t, s, "get_history", map[string]any{"task_id": "T2"}))), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.History) != 1 || resp.History[0].ID != "b" {
		t.Errorf("history = %+v", resp.History)
	}
}
