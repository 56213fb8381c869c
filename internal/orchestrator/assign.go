package orchestrator

import (
	"errors"
	"fmt"

	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/worker"
)

// assignment is a tentative task hold. Exactly one of Commit or Rollback
// finishes it.
type assignment struct {
	o      *Orchestrator
	worker *worker.Worker
	task   *tasks.Task
	done   bool
}

// tryAssign reserves task for w on both sides. It fails if the worker already
// holds a task or the task is held by another worker.
func (o *Orchestrator) tryAssign(w *worker.Worker, task *tasks.Task) (*assignment, error) {
	if w.HasTask() && w.CurrentTask != task.ID {
		return nil, fmt.Errorf("%w: worker %d has %s", ErrWorkerBusy, w.ID, w.CurrentTask)
	}
	if !o.set.Assign(task.ID, w.ID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAssigned, task.ID)
	}
	w.CurrentTask = task.ID
	return &assignment{o: o, worker: w, task: task}, nil
}

// Commit marks cmd as dispatched.
func (a *assignment) Commit(cmd string) {
	if a.done {
		return
	}
	a.done = true
	a.o.markDispatched(a.worker, a.task, cmd)
}

// Rollback undoes the hold. A non-nil err is recorded as a failed dispatch.
func (a *assignment) Rollback(err error) {
	if a.done {
		return
	}
	a.done = true
	a.o.set.Release(a.task.ID, a.worker.ID)
	clearTask(a.worker)
	if err != nil && !isSoftRefusal(err) {
		a.o.dispatchFailed(a.worker, a.task, "", err)
	}
}

func isSoftRefusal(err error) bool {
	return errors.Is(err, ErrNoCommand) || errors.Is(err, ErrWorkerNotReady)
}
