package orchestrator

import (
	"context"
	"fmt"

	"github.com/marcus/paneshift/internal/detect"
	"github.com/marcus/paneshift/internal/state"
	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/worker"
)

// PauseScheduler stops new dispatches. Running work continues to be tracked.
func (o *Orchestrator) PauseScheduler() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
	o.persist()
	o.publish()
	o.log("info", "scheduler paused", nil)
}

// ResumeScheduler re-enables dispatch.
func (o *Orchestrator) ResumeScheduler() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	o.persist()
	o.publish()
	o.log("info", "scheduler resumed", nil)
}

// Paused reports whether dispatch is paused.
func (o *Orchestrator) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// PauseWorker excludes a worker from dispatch.
func (o *Orchestrator) PauseWorker(id int) error {
	return o.setWorkerPause(id, true)
}

// ResumeWorker makes a worker eligible for dispatch again.
func (o *Orchestrator) ResumeWorker(id int) error {
	return o.setWorkerPause(id, false)
}

func (o *Orchestrator) setWorkerPause(id int, paused bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.pool.SetManualPause(id, paused); err != nil {
		return err
	}
	o.persist()
	o.publish()
	o.log("info", "worker pause changed", map[string]any{"worker": id, "paused": paused})
	return nil
}

// ResetWorker releases the worker's task and clears its runtime state,
// including recovery exhaustion. A manual pause survives.
func (o *Orchestrator) ResetWorker(id int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.pool.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", worker.ErrUnknownWorker, id)
	}
	if w.HasTask() {
		o.releaseTask(w.CurrentTask, "worker reset")
	}
	w.Reset()
	o.publish()
	o.log("info", "worker reset", map[string]any{"worker": id})
	return nil
}

// DispatchCommand sends cmd for taskID to a specific worker, bypassing the
// eligibility filter but not the assignment rules. An empty cmd uses the
// task's next workflow command.
func (o *Orchestrator) DispatchCommand(ctx context.Context, workerID int, taskID, cmd string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.pool.Get(workerID)
	if !ok {
		return fmt.Errorf("%w: %d", worker.ErrUnknownWorker, workerID)
	}
	task, ok := o.set.Get(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", tasks.ErrTaskNotFound, taskID)
	}
	if w.State == detect.StateBusy || w.State == detect.StatePaused {
		return fmt.Errorf("%w: worker %d is %s", ErrWorkerNotReady, w.ID, w.State)
	}
	if cmd == "" {
		cmd = o.engine.NextCommand(task, o.config.Mode, "")
	}
	if cmd == "" {
		return ErrNoCommand
	}

	a, err := o.tryAssign(w, task)
	if err != nil {
		return err
	}
	if err := o.deliver(ctx, w, task, cmd); err != nil {
		a.Rollback(nil)
		o.dispatchFailed(w, task, cmd, err)
		o.publish()
		return err
	}
	a.Commit(cmd)
	o.publish()
	return nil
}

// Shutdown records the scheduler as stopped.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.saveActive(state.StateStopped)
	o.log("info", "orchestrator stopped", nil)
}
