package audit

import (
	"context"

	"github.com/marcus/paneshift/internal/logging"
	"github.com/marcus/paneshift/internal/orchestrator"
)

// Operator is the set of operator actions that are audited.
type Operator interface {
	Snapshot() orchestrator.Snapshot
	PauseScheduler()
	ResumeScheduler()
	PauseWorker(id int) error
	ResumeWorker(id int) error
	ResetWorker(id int) error
	DispatchCommand(ctx context.Context, workerID int, taskID, cmd string) error
}

// Controller records every action it forwards to the wrapped Operator.
// Audit write failures are logged and never fail the action.
type Controller struct {
	op     Operator
	log    *Logger
	source string
	logger *logging.Logger
}

// Wrap returns a Controller forwarding to op. A nil log disables recording.
func Wrap(op Operator, log *Logger, source string) *Controller {
	return &Controller{op: op, log: log, source: source, logger: logging.Component("audit")}
}

func (c *Controller) Snapshot() orchestrator.Snapshot {
	return c.op.Snapshot()
}

func (c *Controller) PauseScheduler() {
	c.op.PauseScheduler()
	c.record(Event{EventType: EventSchedulerPause}, nil)
}

func (c *Controller) ResumeScheduler() {
	c.op.ResumeScheduler()
	c.record(Event{EventType: EventSchedulerResume}, nil)
}

func (c *Controller) PauseWorker(id int) error {
	err := c.op.PauseWorker(id)
	c.record(Event{EventType: EventWorkerPause, WorkerID: id}, err)
	return err
}

func (c *Controller) ResumeWorker(id int) error {
	err := c.op.ResumeWorker(id)
	c.record(Event{EventType: EventWorkerResume, WorkerID: id}, err)
	return err
}

func (c *Controller) ResetWorker(id int) error {
	err := c.op.ResetWorker(id)
	c.record(Event{EventType: EventWorkerReset, WorkerID: id}, err)
	return err
}

func (c *Controller) DispatchCommand(ctx context.Context, workerID int, taskID, cmd string) error {
	err := c.op.DispatchCommand(ctx, workerID, taskID, cmd)
	c.record(Event{EventType: EventManualDispatch, WorkerID: workerID, TaskID: taskID, Command: cmd}, err)
	return err
}

func (c *Controller) record(e Event, err error) {
	if c.log == nil {
		return
	}
	e.Source = c.source
	e.Result = ResultOK
	if err != nil {
		e.Result = ResultError
		e.Error = err.Error()
	}
	if werr := c.log.Log(e); werr != nil {
		c.logger.WarnCtx("audit write failed", map[string]any{"event": string(e.EventType), "error": werr.Error()})
	}
}
