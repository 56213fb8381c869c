// Package mcpserver exposes scheduler status and operator actions as MCP
// tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marcus/paneshift/internal/orchestrator"
	"github.com/marcus/paneshift/internal/state"
	"github.com/marcus/paneshift/internal/tasks"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Controller is the orchestrator surface the tools use.
type Controller interface {
	Snapshot() orchestrator.Snapshot
	PauseScheduler()
	ResumeScheduler()
	PauseWorker(id int) error
	ResumeWorker(id int) error
	ResetWorker(id int) error
	DispatchCommand(ctx context.Context, workerID int, taskID, cmd string) error
}

// HistoryReader reads dispatch history. Optional.
type HistoryReader interface {
	History(limit int) ([]state.Record, error)
	TaskHistory(taskID string, limit int) ([]state.Record, error)
}

// NewServer registers every tool on a new MCP server.
func NewServer(ctrl Controller, history HistoryReader) *server.MCPServer {
	s := server.NewMCPServer("paneshift", Version)

	s.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Scheduler mode, pause state, and worker and task counts."),
	), getStatusHandler(ctrl))

	s.AddTool(mcp.NewTool("list_workers",
		mcp.WithDescription("List worker sessions with their state and current task."),
	), listWorkersHandler(ctrl))

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List tasks with status, assignment and next command if eligible."),
		mcp.WithString("status", mcp.Description("Only tasks with this status")),
		mcp.WithBoolean("eligible", mcp.Description("Only tasks eligible for dispatch now")),
	), listTasksHandler(ctrl))

	s.AddTool(mcp.NewTool("pause_scheduler",
		mcp.WithDescription("Stop dispatching new commands. Running work is still tracked."),
	), pauseSchedulerHandler(ctrl))

	s.AddTool(mcp.NewTool("resume_scheduler",
		mcp.WithDescription("Resume dispatching."),
	), resumeSchedulerHandler(ctrl))

	s.AddTool(mcp.NewTool("pause_worker",
		mcp.WithDescription("Exclude a worker from dispatch."),
		mcp.WithNumber("worker_id", mcp.Description("Worker id"), mcp.Required()),
	), workerHandler(ctrl.PauseWorker, "paused"))

	s.AddTool(mcp.NewTool("resume_worker",
		mcp.WithDescription("Make a worker eligible for dispatch again."),
		mcp.WithNumber("worker_id", mcp.Description("Worker id"), mcp.Required()),
	), workerHandler(ctrl.ResumeWorker, "resumed"))

	s.AddTool(mcp.NewTool("reset_worker",
		mcp.WithDescription("Release a worker's task and clear its error and recovery state."),
		mcp.WithNumber("worker_id", mcp.Description("Worker id"), mcp.Required()),
	), workerHandler(ctrl.ResetWorker, "reset"))

	s.AddTool(mcp.NewTool("dispatch_command",
		mcp.WithDescription("Send a workflow command for a task to a specific worker, including manual commands."),
		mcp.WithNumber("worker_id", mcp.Description("Worker id"), mcp.Required()),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("command", mcp.Description("Command name; defaults to the task's next workflow command")),
	), dispatchHandler(ctrl))

	if history != nil {
		s.AddTool(mcp.NewTool("get_history",
			mcp.WithDescription("Recent dispatch history, newest first."),
			mcp.WithString("task_id", mcp.Description("Only records for this task")),
			mcp.WithNumber("limit", mcp.Description("Maximum records (default 20)")),
		), historyHandler(history))
	}

	return s
}

// Serve runs s on stdio until ctx is cancelled or stdin closes.
func Serve(ctx context.Context, s *server.MCPServer) error {
	stdio := server.NewStdioServer(s)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

type statusView struct {
	Mode     string         `json:"mode"`
	Paused   bool           `json:"paused"`
	Ticks    int            `json:"ticks"`
	LastTick *time.Time     `json:"last_tick,omitempty"`
	Workers  map[string]int `json:"workers"`
	Tasks    map[string]int `json:"tasks"`
	Eligible int            `json:"eligible"`
}

func getStatusHandler(ctrl Controller) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap := ctrl.Snapshot()
		v := statusView{
			Mode:     snap.Mode.String(),
			Paused:   snap.Paused,
			Ticks:    snap.Ticks,
			Workers:  make(map[string]int),
			Tasks:    make(map[string]int),
			Eligible: len(snap.Eligible),
		}
		if !snap.LastTick.IsZero() {
			lt := snap.LastTick
			v.LastTick = &lt
		}
		for _, w := range snap.Workers {
			v.Workers[string(w.State)]++
		}
		for _, t := range snap.Tasks {
			v.Tasks[string(t.Status)]++
		}
		return jsonResult(v)
	}
}

type workerView struct {
	ID              int        `json:"id"`
	Session         string     `json:"session"`
	Workspace       string     `json:"workspace,omitempty"`
	State           string     `json:"state"`
	Task            string     `json:"task,omitempty"`
	Step            string     `json:"step,omitempty"`
	Held            bool       `json:"held"`
	Exhausted       bool       `json:"exhausted,omitempty"`
	PauseReason     string     `json:"pause_reason,omitempty"`
	ResumeNotBefore *time.Time `json:"resume_not_before,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

func listWorkersHandler(ctrl Controller) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		snap := ctrl.Snapshot()
		out := make([]workerView, 0, len(snap.Workers))
		for _, w := range snap.Workers {
			v := workerView{
				ID:          w.ID,
				Session:     w.SessionID,
				Workspace:   w.Workspace,
				State:       string(w.State),
				Task:        w.CurrentTask,
				Step:        w.CurrentStep,
				Held:        w.ManuallyPaused,
				Exhausted:   w.Exhausted,
				PauseReason: string(w.PauseReason),
				LastError:   w.LastError,
			}
			if !w.ResumeNotBefore.IsZero() {
				t := w.ResumeNotBefore
				v.ResumeNotBefore = &t
			}
			out = append(out, v)
		}
		return jsonResult(map[string]any{"workers": out})
	}
}

type taskView struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority,omitempty"`
	Depends     []string `json:"depends,omitempty"`
	BlockedBy   string   `json:"blocked_by,omitempty"`
	Worker      int      `json:"worker,omitempty"`
	NextCommand string   `json:"next_command,omitempty"`
}

func listTasksHandler(ctrl Controller) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := mcp.ParseString(request, "status", "")
		eligibleOnly := mcp.ParseBoolean(request, "eligible", false)
		var status tasks.Status
		if raw != "" {
			st, err := tasks.ParseStatus(raw)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			status = st
		}

		snap := ctrl.Snapshot()
		next := make(map[string]string, len(snap.Eligible))
		for _, c := range snap.Eligible {
			next[c.Task.ID] = c.Command
		}

		out := make([]taskView, 0, len(snap.Tasks))
		for _, t := range snap.Tasks {
			if status != "" && t.Status != status {
				continue
			}
			if eligibleOnly && next[t.ID] == "" {
				continue
			}
			out = append(out, taskView{
				ID:          t.ID,
				Title:       t.Title,
				Category:    string(t.Category),
				Status:      string(t.Status),
				Priority:    string(t.Priority),
				Depends:     t.Depends,
				BlockedBy:   t.BlockedBy,
				Worker:      t.AssignedWorker,
				NextCommand: next[t.ID],
			})
		}
		return jsonResult(map[string]any{"tasks": out})
	}
}

func pauseSchedulerHandler(ctrl Controller) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctrl.PauseScheduler()
		return mcp.NewToolResultText("Scheduler paused."), nil
	}
}

func resumeSchedulerHandler(ctrl Controller) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctrl.ResumeScheduler()
		return mcp.NewToolResultText("Scheduler resumed."), nil
	}
}

func workerHandler(action func(id int) error, verb string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseInt(request, "worker_id", 0)
		if id <= 0 {
			return mcp.NewToolResultError("worker_id is required"), nil
		}
		if err := action(id); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Worker %d %s.", id, verb)), nil
	}
}

func dispatchHandler(ctrl Controller) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseInt(request, "worker_id", 0)
		taskID := mcp.ParseString(request, "task_id", "")
		cmd := mcp.ParseString(request, "command", "")
		if id <= 0 || taskID == "" {
			return mcp.NewToolResultError("worker_id and task_id are required"), nil
		}
		if err := ctrl.DispatchCommand(ctx, id, taskID, cmd); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if cmd == "" {
			cmd = "next command"
		}
		return mcp.NewToolResultText(fmt.Sprintf("Dispatched %s for %s to worker %d.", cmd, taskID, id)), nil
	}
}

func historyHandler(h HistoryReader) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")
		limit := mcp.ParseInt(request, "limit", 20)

		var (
			records []state.Record
			err     error
		)
		if taskID != "" {
			records, err = h.TaskHistory(taskID, limit)
		} else {
			records, err = h.History(limit)
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"history": records})
	}
}
