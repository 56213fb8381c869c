// Package tasks defines the work-breakdown task model: statuses, categories,
// priorities, and the merge-by-id task set the dispatch loop works on.
package tasks

import (
	"fmt"
	"strings"
)

// Status is a task's workflow position. Statuses are ordered; Rank gives the order.
type Status string

const (
	StatusTodo         Status = "todo"
	StatusBasicDesign  Status = "basic-design"
	StatusDetailDesign Status = "detail-design"
	StatusAnalysis     Status = "analysis"
	StatusDesign       Status = "design"
	StatusApproved     Status = "approved"
	StatusImplement    Status = "implement"
	StatusFix          Status = "fix"
	StatusVerify       Status = "verify"
	StatusDone         Status = "done"
)

type statusInfo struct {
	rank int
	code string
}

var statuses = map[Status]statusInfo{
	StatusTodo:         {0, "[ ]"},
	StatusBasicDesign:  {1, "[bd]"},
	StatusDetailDesign: {2, "[dd]"},
	StatusAnalysis:     {3, "[an]"},
	StatusDesign:       {4, "[ds]"},
	StatusApproved:     {5, "[ap]"},
	StatusImplement:    {6, "[im]"},
	StatusFix:          {7, "[fx]"},
	StatusVerify:       {8, "[vf]"},
	StatusDone:         {9, "[xx]"},
}

// AllStatuses returns every status in rank order.
func AllStatuses() []Status {
	return []Status{
		StatusTodo, StatusBasicDesign, StatusDetailDesign, StatusAnalysis, StatusDesign,
		StatusApproved, StatusImplement, StatusFix, StatusVerify, StatusDone,
	}
}

// Rank returns the status order, or -1 for an unknown status.
func (s Status) Rank() int {
	if info, ok := statuses[s]; ok {
		return info.rank
	}
	return -1
}

// Code returns the short bracket code, e.g. "[im]".
func (s Status) Code() string {
	return statuses[s].code
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statuses[s]
	return ok
}

// AtLeast reports whether s is at or beyond other in status order.
func (s Status) AtLeast(other Status) bool {
	return s.Valid() && s.Rank() >= other.Rank()
}

// ParseStatus accepts a status name or its bracket code.
func ParseStatus(raw string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return StatusTodo, nil
	}
	if st := Status(v); st.Valid() {
		return st, nil
	}
	for st, info := range statuses {
		if info.code == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Category selects the workflow a task follows.
type Category string

const (
	CategoryDevelopment     Category = "development"
	CategoryDevelopmentFull Category = "development-full"
	CategoryDefect          Category = "defect"
	CategoryInfrastructure  Category = "infrastructure"
	CategorySimpleDev       Category = "simple-dev"
)

// Priority orders runnable tasks. Lower rank runs first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the sort rank; unknown priorities sort with medium.
func (p Priority) Rank() int {
	switch Priority(strings.ToLower(string(p))) {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Task is one work-breakdown item.
type Task struct {
	ID        string
	Title     string
	Category  Category
	Status    Status
	Priority  Priority
	Depends   []string
	BlockedBy string
	Project   string

	// AssignedWorker is the worker holding the task, 0 when unassigned.
	// Runtime only; never written back to the source.
	AssignedWorker int
}

// Assigned reports whether a worker holds the task.
func (t *Task) Assigned() bool {
	return t.AssignedWorker != 0
}

// Ref returns "<project>/<id>", or just the id without a project.
func (t *Task) Ref() string {
	if t.Project == "" {
		return t.ID
	}
	return t.Project + "/" + t.ID
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	c.Depends = append([]string(nil), t.Depends...)
	return &c
}
