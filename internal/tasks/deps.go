package tasks

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gammazero/toposort"
)

// ErrDependencyCycle is returned by DependencyReport.Err when dependencies loop.
var ErrDependencyCycle = errors.New("dependency cycle")

// DependencyReport describes problems in the depends graph. Neither problem
// blocks scheduling: missing ids are treated as satisfied.
type DependencyReport struct {
	Missing map[string][]string // task id -> unknown dependency ids
	Cycle   error
	Order   []string // topological order when acyclic
}

// OK reports whether the graph is complete and acyclic.
func (r DependencyReport) OK() bool {
	return len(r.Missing) == 0 && r.Cycle == nil
}

// Err summarizes the report as an error, or nil when OK.
func (r DependencyReport) Err() error {
	if r.Cycle != nil {
		return r.Cycle
	}
	if len(r.Missing) > 0 {
		ids := make([]string, 0, len(r.Missing))
		for id := range r.Missing {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return fmt.Errorf("task %s depends on unknown %v", ids[0], r.Missing[ids[0]])
	}
	return nil
}

// CheckDependencies validates the depends graph of list.
func CheckDependencies(list []*Task) DependencyReport {
	known := make(map[string]bool, len(list))
	for _, t := range list {
		known[t.ID] = true
	}

	report := DependencyReport{Missing: make(map[string][]string)}
	var edges []toposort.Edge
	for _, t := range list {
		edges = append(edges, toposort.Edge{nil, t.ID})
		for _, dep := range t.Depends {
			if !known[dep] {
				report.Missing[t.ID] = append(report.Missing[t.ID], dep)
				continue
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		report.Cycle = fmt.Errorf("%w: %v", ErrDependencyCycle, err)
		return report
	}
	for _, id := range sorted {
		if id != nil {
			report.Order = append(report.Order, id.(string))
		}
	}
	return report
}

// CheckDependencies validates the set's current snapshot.
func (s *Set) CheckDependencies() DependencyReport {
	return CheckDependencies(s.All())
}
