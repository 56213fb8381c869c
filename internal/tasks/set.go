package tasks

import (
	"sort"
	"sync"
)

// Set holds the current task snapshot keyed by id, in source order.
// Runtime fields survive a Merge; ids missing from a new parse are dropped.
type Set struct {
	mu    sync.RWMutex
	byID  map[string]*Task
	order []string
}

// NewSet creates a set from tasks.
func NewSet(list []*Task) *Set {
	s := &Set{byID: make(map[string]*Task)}
	s.Merge(list)
	return s
}

// Merge replaces the snapshot with parsed, keeping AssignedWorker for ids
// present in both. Merging the same input twice leaves the set unchanged.
func (s *Set) Merge(parsed []*Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]*Task, len(parsed))
	order := make([]string, 0, len(parsed))
	for _, p := range parsed {
		if p == nil || p.ID == "" {
			continue
		}
		if _, dup := next[p.ID]; dup {
			continue
		}
		t := p.Clone()
		if old, ok := s.byID[t.ID]; ok {
			t.AssignedWorker = old.AssignedWorker
		} else {
			t.AssignedWorker = 0
		}
		next[t.ID] = t
		order = append(order, t.ID)
	}
	s.byID = next
	s.order = order
}

// Get returns a copy of the task with id.
func (s *Set) Get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Has reports whether id is in the set.
func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// All returns copies of every task in source order.
func (s *Set) All() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out
}

// Len returns the number of tasks.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Assign records that worker holds id. It fails if the task is missing or
// already held by another worker.
func (s *Set) Assign(id string, worker int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	if t.AssignedWorker != 0 && t.AssignedWorker != worker {
		return false
	}
	t.AssignedWorker = worker
	return true
}

// Release clears the assignment of id. A nonzero worker only releases its own hold.
func (s *Set) Release(id string, worker int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return
	}
	if worker != 0 && t.AssignedWorker != worker {
		return
	}
	t.AssignedWorker = 0
}

// SetStatus updates the in-memory status of id.
func (s *Set) SetStatus(id string, st Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	t.Status = st
	return true
}

// Assignments maps task id to worker id for every assigned task.
func (s *Set) Assignments() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for id, t := range s.byID {
		if t.AssignedWorker != 0 {
			out[id] = t.AssignedWorker
		}
	}
	return out
}

// CountByStatus tallies tasks per status.
func (s *Set) CountByStatus() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Status]int)
	for _, t := range s.byID {
		out[t.Status]++
	}
	return out
}

// SortByPriority stably sorts list by priority rank.
func SortByPriority(list []*Task) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority.Rank() < list[j].Priority.Rank()
	})
}
