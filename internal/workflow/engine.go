package workflow

import (
	"github.com/marcus/paneshift/internal/mode"
	"github.com/marcus/paneshift/internal/tasks"
)

// Engine resolves workflow commands for tasks.
type Engine struct {
	cfg   *Config
	modes *mode.Table
}

// NewEngine creates an engine over cfg and the mode table. A nil table uses
// the built-in mode settings.
func NewEngine(cfg *Config, modes *mode.Table) *Engine {
	if cfg == nil {
		cfg = NewStaticConfig(Builtin())
	}
	return &Engine{cfg: cfg, modes: modes}
}

// Config returns the engine's workflow config.
func (e *Engine) Config() *Config {
	return e.cfg
}

// Settings returns the settings of m.
func (e *Engine) Settings(m mode.Mode) mode.Settings {
	return e.modes.Get(m)
}

// ReloadIfStale forwards to the workflow config.
func (e *Engine) ReloadIfStale() (bool, error) {
	return e.cfg.ReloadIfStale()
}

// NextCommand returns the next command for task under m, or "" when nothing
// is left to automate. lastAction is the command the task last completed.
func (e *Engine) NextCommand(task *tasks.Task, m mode.Mode, lastAction string) string {
	settings := e.modes.Get(m)
	if settings.Scope == mode.ScopeTest {
		return mode.TestCommand
	}

	flow := e.cfg.Definition().Flow(task.Category)
	if flow == nil {
		return ""
	}

	if settings.Scope.UsesActions() {
		if cmd, ok := nextAction(flow.Actions[task.Status], lastAction); ok {
			return cmd
		}
	}

	for _, tr := range flow.Transitions {
		if tr.From == task.Status {
			return tr.Command
		}
	}
	return ""
}

// nextAction picks the action after lastAction. It reports false when the
// list is empty or lastAction was the final action.
func nextAction(actions []string, lastAction string) (string, bool) {
	if len(actions) == 0 {
		return "", false
	}
	idx := -1
	for i, a := range actions {
		if a == lastAction {
			idx = i
			break
		}
	}
	if idx < 0 {
		return actions[0], true
	}
	if idx+1 < len(actions) {
		return actions[idx+1], true
	}
	return "", false
}

// ManualCommands returns the commands m leaves to the operator.
func (e *Engine) ManualCommands(m mode.Mode) map[string]bool {
	out := make(map[string]bool)
	for c := range e.modes.Get(m).Manual {
		out[c] = true
	}
	return out
}

// IsManual reports whether cmd requires an operator under m.
func (e *Engine) IsManual(cmd string, m mode.Mode) bool {
	return e.modes.Get(m).IsManual(cmd)
}

// TargetStatus returns the status a transition command leads to from the
// task's current status, or "" for actions and unknown commands.
func (e *Engine) TargetStatus(task *tasks.Task, cmd string) tasks.Status {
	flow := e.cfg.Definition().Flow(task.Category)
	if flow == nil {
		return ""
	}
	for _, tr := range flow.Transitions {
		if tr.From == task.Status && tr.Command == cmd {
			return tr.To
		}
	}
	return ""
}
