// Package worker tracks the scheduler's handle on each terminal session:
// its inferred state, the task it holds, and dispatch timing.
package worker

import (
	"time"

	"github.com/marcus/paneshift/internal/detect"
)

// Worker is the scheduler's record of one session.
type Worker struct {
	ID        int
	SessionID string
	Workspace string

	State       detect.State
	CurrentTask string
	CurrentStep string
	// LastAction is the command most recently dispatched for CurrentTask.
	LastAction   string
	DispatchTime time.Time
	RetryCount   int

	ManuallyPaused bool
	// Exhausted is set when recovery gave up; the worker stays in error
	// until an operator reset.
	Exhausted bool

	// FallbackSeen counts prose completion lines in the last capture.
	// FallbackBaseline is the count already accounted for when the current
	// step was dispatched; only lines beyond it complete the step.
	FallbackSeen     int
	FallbackBaseline int

	ResumeNotBefore time.Time
	PauseReason     detect.PauseReason
	LastDone        *detect.DoneSignal
	LastPaused      *detect.PausedInfo
	LastError       string
	StateSince      time.Time
}

// Reset returns the worker to idle, keeping its identity and manual pause.
func (w *Worker) Reset() {
	w.State = detect.StateIdle
	w.CurrentTask = ""
	w.CurrentStep = ""
	w.LastAction = ""
	w.DispatchTime = time.Time{}
	w.FallbackBaseline = w.FallbackSeen
	w.RetryCount = 0
	w.Exhausted = false
	w.ResumeNotBefore = time.Time{}
	w.PauseReason = ""
	w.LastPaused = nil
}

// HasTask reports whether the worker holds a task.
func (w *Worker) HasTask() bool {
	return w.CurrentTask != ""
}

// Available reports whether the worker can take a new task.
func (w *Worker) Available() bool {
	return w.State == detect.StateIdle && !w.ManuallyPaused && !w.HasTask()
}

// Clone returns a copy safe to hand to other goroutines.
func (w *Worker) Clone() *Worker {
	c := *w
	if w.LastDone != nil {
		d := *w.LastDone
		c.LastDone = &d
	}
	if w.LastPaused != nil {
		p := *w.LastPaused
		c.LastPaused = &p
	}
	return &c
}

func (w *Worker) setState(s detect.State, now time.Time) {
	if w.State != s {
		w.StateSince = now
	}
	w.State = s
}

// MarkDispatched starts a new step: completion lines already on screen no
// longer count.
func (w *Worker) MarkDispatched(cmd string, now time.Time) {
	w.setState(detect.StateBusy, now)
	w.LastAction = cmd
	w.DispatchTime = now
	w.FallbackBaseline = w.FallbackSeen
	w.RetryCount = 0
	w.LastDone = nil
	w.LastError = ""
}
