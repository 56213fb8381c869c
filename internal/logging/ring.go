package logging

import (
	"strings"
	"sync"
)

// Ring is an io.Writer that keeps the last N log lines in memory.
// The monitor UI reads it to render its log panel.
type Ring struct {
	mu    sync.Mutex
	lines []string
	max   int
	part  string
	seq   uint64 // lines written since creation
}

// NewRing creates a Ring holding at most max lines.
func NewRing(max int) *Ring {
	if max <= 0 {
		max = 200
	}
	return &Ring{max: max}
}

// Write implements io.Writer. Partial lines are buffered until a newline.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.part + string(p)
	parts := strings.Split(data, "\n")
	r.part = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		if line == "" {
			continue
		}
		r.lines = append(r.lines, line)
		r.seq++
	}
	if over := len(r.lines) - r.max; over > 0 {
		r.lines = append([]string(nil), r.lines[over:]...)
	}
	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Since returns the retained lines written after seq, and the sequence
// number to pass on the next call.
func (r *Ring) Since(seq uint64) ([]string, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seq >= r.seq {
		return nil, r.seq
	}
	n := int(r.seq - seq)
	if n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out, r.seq
}
