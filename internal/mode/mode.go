// Package mode defines the execution modes that gate which workflow steps the
// scheduler runs automatically, and where it stops.
package mode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marcus/paneshift/internal/config"
	"github.com/marcus/paneshift/internal/tasks"
)

// Mode is a closed set of execution modes.
type Mode int

const (
	Design Mode = iota
	Quick
	Develop
	Force
	Test
)

var names = [...]string{"design", "quick", "develop", "force", "test"}

func (m Mode) String() string {
	if m < Design || m > Test {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return names[m]
}

// Parse converts a mode name.
func Parse(s string) (Mode, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == v {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// All returns every mode.
func All() []Mode {
	return []Mode{Design, Quick, Develop, Force, Test}
}

// Scope limits which parts of a workflow definition a mode uses.
type Scope int

const (
	// ScopeTransitions uses only status transitions.
	ScopeTransitions Scope = iota
	// ScopeDesign uses per-status actions and transitions, design phase only.
	ScopeDesign
	// ScopeFull uses per-status actions and transitions.
	ScopeFull
	// ScopeTest issues the fixed test command.
	ScopeTest
)

// UsesActions reports whether per-status action lists apply.
func (s Scope) UsesActions() bool {
	return s == ScopeDesign || s == ScopeFull
}

// Settings is the configuration record of one mode.
type Settings struct {
	Mode                Mode
	Scope               Scope
	Manual              map[string]bool
	StopStates          map[tasks.Status]bool
	StopAfterCommand    string
	ClearBeforeDispatch bool
}

// IsManual reports whether cmd needs an operator.
func (s Settings) IsManual(cmd string) bool {
	return s.Manual[cmd]
}

// IsStopState reports whether a task in st should be released.
func (s Settings) IsStopState(st tasks.Status) bool {
	return s.StopStates[st]
}

// ManualList returns the manual commands sorted.
func (s Settings) ManualList() []string {
	out := make([]string, 0, len(s.Manual))
	for c := range s.Manual {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// TestCommand is the command issued in test scope.
const TestCommand = "test"

func set[T comparable](items ...T) map[T]bool {
	m := make(map[T]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// Defaults returns the built-in settings table.
func Defaults() map[Mode]Settings {
	return map[Mode]Settings{
		Design: {
			Mode:       Design,
			Scope:      ScopeDesign,
			Manual:     set[string](),
			StopStates: set(tasks.StatusDetailDesign, tasks.StatusDone),
		},
		Quick: {
			Mode:       Quick,
			Scope:      ScopeTransitions,
			Manual:     set("approve", "done"),
			StopStates: set(tasks.StatusDone),
		},
		Develop: {
			Mode:       Develop,
			Scope:      ScopeFull,
			Manual:     set("approve", "done"),
			StopStates: set(tasks.StatusImplement, tasks.StatusVerify, tasks.StatusDone),
		},
		Force: {
			Mode:       Force,
			Scope:      ScopeFull,
			Manual:     set("done"),
			StopStates: set(tasks.StatusDone),
		},
		Test: {
			Mode:             Test,
			Scope:            ScopeTest,
			Manual:           set[string](),
			StopStates:       set(tasks.StatusDone),
			StopAfterCommand: TestCommand,
		},
	}
}

// Table resolves settings per mode, with config overrides applied.
type Table struct {
	settings map[Mode]Settings
}

// NewTable builds the settings table from the defaults and overrides keyed
// by mode name.
func NewTable(overrides map[string]config.ModeOverride) (*Table, error) {
	t := &Table{settings: Defaults()}
	for name, o := range overrides {
		m, err := Parse(name)
		if err != nil {
			return nil, err
		}
		s := t.settings[m]
		if o.Manual != nil {
			s.Manual = set(o.Manual...)
		}
		if o.StopAfter != "" {
			s.StopAfterCommand = o.StopAfter
		}
		if o.ClearBeforeDispatch != nil {
			s.ClearBeforeDispatch = *o.ClearBeforeDispatch
		}
		t.settings[m] = s
	}
	return t, nil
}

// Get returns the settings of m.
func (t *Table) Get(m Mode) Settings {
	if t == nil {
		return Defaults()[m]
	}
	return t.settings[m]
}
