// Package workflow resolves the next command a task should receive, from a
// declarative per-category transition table plus optional per-status actions.
package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/marcus/paneshift/internal/tasks"
)

// Definition errors.
var (
	ErrNoCategories      = errors.New("workflow defines no categories")
	ErrUnknownDefault    = errors.New("default category is not defined")
	ErrUnsupportedFormat = errors.New("workflow file must be .yaml, .yml or .toml")
)

// Transition moves a task From one status To another when Command completes.
type Transition struct {
	From    tasks.Status `yaml:"from" toml:"from"`
	To      tasks.Status `yaml:"to" toml:"to"`
	Command string       `yaml:"command" toml:"command"`
}

// Flow is the workflow of one category.
type Flow struct {
	Transitions []Transition              `yaml:"transitions" toml:"transitions"`
	Actions     map[tasks.Status][]string `yaml:"actions,omitempty" toml:"actions,omitempty"`
}

// Definition maps categories to flows.
type Definition struct {
	DefaultCategory tasks.Category           `yaml:"default_category" toml:"default_category"`
	Categories      map[tasks.Category]*Flow `yaml:"categories" toml:"categories"`
}

// Flow returns the flow of c, falling back to the default category.
func (d *Definition) Flow(c tasks.Category) *Flow {
	if f, ok := d.Categories[c]; ok {
		return f
	}
	return d.Categories[d.DefaultCategory]
}

// Validate checks statuses, commands and the default category.
func (d *Definition) Validate() error {
	if len(d.Categories) == 0 {
		return ErrNoCategories
	}
	if _, ok := d.Categories[d.DefaultCategory]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDefault, d.DefaultCategory)
	}
	for cat, flow := range d.Categories {
		if flow == nil {
			return fmt.Errorf("category %s: empty flow", cat)
		}
		for i, tr := range flow.Transitions {
			if !tr.From.Valid() || !tr.To.Valid() {
				return fmt.Errorf("category %s transition %d: unknown status %q -> %q", cat, i+1, tr.From, tr.To)
			}
			if strings.TrimSpace(tr.Command) == "" {
				return fmt.Errorf("category %s transition %d: empty command", cat, i+1)
			}
		}
		for st, actions := range flow.Actions {
			if !st.Valid() {
				return fmt.Errorf("category %s: actions for unknown status %q", cat, st)
			}
			for _, a := range actions {
				if strings.TrimSpace(a) == "" {
					return fmt.Errorf("category %s status %s: empty action", cat, st)
				}
			}
		}
	}
	return nil
}

// Commands lists every command the definition can issue, without duplicates.
func (d *Definition) Commands() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, cat := range sortedCategories(d) {
		flow := d.Categories[cat]
		for _, st := range tasks.AllStatuses() {
			for _, a := range flow.Actions[st] {
				add(a)
			}
		}
		for _, tr := range flow.Transitions {
			add(tr.Command)
		}
	}
	return out
}

func sortedCategories(d *Definition) []tasks.Category {
	out := make([]tasks.Category, 0, len(d.Categories))
	for c := range d.Categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LoadFile reads a YAML or TOML definition, chosen by extension.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}

	def := &Definition{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, def); err != nil {
			return nil, fmt.Errorf("parsing workflow yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), def); err != nil {
			return nil, fmt.Errorf("parsing workflow toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if def.DefaultCategory == "" {
		def.DefaultCategory = tasks.CategoryDevelopment
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Builtin returns the default workflow definition.
func Builtin() *Definition {
	development := []Transition{
		{tasks.StatusTodo, tasks.StatusBasicDesign, "start"},
		{tasks.StatusBasicDesign, tasks.StatusDetailDesign, "draft"},
		{tasks.StatusDetailDesign, tasks.StatusApproved, "approve"},
		{tasks.StatusApproved, tasks.StatusImplement, "build"},
		{tasks.StatusImplement, tasks.StatusVerify, "verify"},
		{tasks.StatusVerify, tasks.StatusDone, "done"},
	}

	return &Definition{
		DefaultCategory: tasks.CategoryDevelopment,
		Categories: map[tasks.Category]*Flow{
			tasks.CategoryDevelopment: {Transitions: development},
			tasks.CategoryDevelopmentFull: {
				Transitions: append([]Transition(nil), development...),
				Actions: map[tasks.Status][]string{
					tasks.StatusBasicDesign:  {"research", "outline"},
					tasks.StatusDetailDesign: {"interface", "review"},
					tasks.StatusImplement:    {"unit-test"},
				},
			},
			tasks.CategoryDefect: {Transitions: []Transition{
				{tasks.StatusTodo, tasks.StatusAnalysis, "start"},
				{tasks.StatusAnalysis, tasks.StatusFix, "fix"},
				{tasks.StatusFix, tasks.StatusVerify, "verify"},
				{tasks.StatusVerify, tasks.StatusDone, "done"},
			}},
			tasks.CategoryInfrastructure: {Transitions: []Transition{
				{tasks.StatusTodo, tasks.StatusDesign, "start"},
				{tasks.StatusDesign, tasks.StatusImplement, "build"},
				{tasks.StatusImplement, tasks.StatusDone, "done"},
			}},
			tasks.CategorySimpleDev: {Transitions: []Transition{
				{tasks.StatusTodo, tasks.StatusBasicDesign, "start"},
				{tasks.StatusBasicDesign, tasks.StatusImplement, "build"},
				{tasks.StatusImplement, tasks.StatusVerify, "verify"},
				{tasks.StatusVerify, tasks.StatusDone, "done"},
			}},
		},
	}
}
