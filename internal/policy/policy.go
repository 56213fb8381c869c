// Package policy decides which tasks may be dispatched under a mode.
package policy

import (
	"sort"
	"sync"

	"github.com/marcus/paneshift/internal/logging"
	"github.com/marcus/paneshift/internal/mode"
	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/workflow"
)

// Candidate is an executable task with its resolved next command.
type Candidate struct {
	Task    *tasks.Task
	Command string
}

// Filter applies the dispatch rules. Finished tasks are remembered for the
// lifetime of the Filter.
type Filter struct {
	engine *workflow.Engine
	logger *logging.Logger

	mu       sync.Mutex
	finished map[string]bool
	warned   map[string]bool
}

// New creates a filter over engine.
func New(engine *workflow.Engine) *Filter {
	return &Filter{
		engine:   engine,
		logger:   logging.Component("policy"),
		finished: make(map[string]bool),
		warned:   make(map[string]bool),
	}
}

// MarkFinished excludes id from every later result. Used when a mode's
// stop-after command completes.
func (f *Filter) MarkFinished(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[id] = true
}

// IsFinished reports whether id was marked finished.
func (f *Filter) IsFinished(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished[id]
}

// FilterExecutable returns the tasks that may be dispatched under m, by
// priority, ties in input order.
func (f *Filter) FilterExecutable(list []*tasks.Task, m mode.Mode) []*tasks.Task {
	cands := f.Candidates(list, m)
	out := make([]*tasks.Task, len(cands))
	for i, c := range cands {
		out[i] = c.Task
	}
	return out
}

// Candidates is FilterExecutable with each task's next command.
func (f *Filter) Candidates(list []*tasks.Task, m mode.Mode) []Candidate {
	byID := make(map[string]*tasks.Task, len(list))
	for _, t := range list {
		byID[t.ID] = t
	}

	var out []Candidate
	for _, t := range list {
		if !f.passesGates(t, m, byID) {
			continue
		}
		cmd := f.engine.NextCommand(t, m, "")
		if cmd == "" {
			continue
		}
		if f.engine.IsManual(cmd, m) {
			continue
		}
		out = append(out, Candidate{Task: t, Command: cmd})
	}

	sortCandidates(out)
	return out
}

func (f *Filter) passesGates(t *tasks.Task, m mode.Mode, byID map[string]*tasks.Task) bool {
	if t.Status == tasks.StatusDone {
		return false
	}
	if t.BlockedBy != "" {
		return false
	}
	if t.Assigned() {
		return false
	}
	if f.IsFinished(t.ID) {
		return false
	}
	if f.engine.Settings(m).IsStopState(t.Status) {
		return false
	}

	switch m {
	case mode.Design:
		return t.Status == tasks.StatusTodo
	case mode.Force:
		return true
	case mode.Test:
		return t.Status.AtLeast(tasks.StatusImplement)
	default:
		if t.Status == tasks.StatusTodo {
			return true
		}
		return f.dependenciesImplemented(t, byID)
	}
}

// dependenciesImplemented requires every known dependency to be at implement
// or later. Unknown ids do not block.
func (f *Filter) dependenciesImplemented(t *tasks.Task, byID map[string]*tasks.Task) bool {
	for _, dep := range t.Depends {
		d, ok := byID[dep]
		if !ok {
			f.warnMissing(t.ID, dep)
			continue
		}
		if !d.Status.AtLeast(tasks.StatusImplement) {
			return false
		}
	}
	return true
}

func (f *Filter) warnMissing(id, dep string) {
	key := id + "->" + dep
	f.mu.Lock()
	seen := f.warned[key]
	f.warned[key] = true
	f.mu.Unlock()
	if !seen {
		f.logger.WarnCtx("dependency not found, treating as satisfied", map[string]any{
			"task":       id,
			"dependency": dep,
		})
	}
}

func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].Task.Priority.Rank() < c[j].Task.Priority.Rank()
	})
}
