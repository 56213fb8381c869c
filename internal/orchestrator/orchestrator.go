// Package orchestrator runs the dispatch loop: it reconciles worker and task
// state each tick, continues finished workflow steps, drives recovery, and
// hands eligible tasks to idle workers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcus/paneshift/internal/config"
	"github.com/marcus/paneshift/internal/detect"
	"github.com/marcus/paneshift/internal/logging"
	"github.com/marcus/paneshift/internal/mode"
	"github.com/marcus/paneshift/internal/policy"
	"github.com/marcus/paneshift/internal/recovery"
	"github.com/marcus/paneshift/internal/state"
	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/tmux"
	"github.com/marcus/paneshift/internal/worker"
	"github.com/marcus/paneshift/internal/workflow"
)

var (
	ErrMissingDependency = errors.New("orchestrator: missing dependency")
	ErrTickInProgress    = errors.New("tick already in progress")
	ErrTickPanic         = errors.New("tick panicked")
	ErrWorkerNotReady    = errors.New("worker not ready")
	ErrWorkerBusy        = errors.New("worker holds another task")
	ErrAlreadyAssigned   = errors.New("task already assigned")
	ErrNoCommand         = errors.New("no command to dispatch")
)

// outputLines is how much captured text is kept in history records.
const outputLines = 20

// Config holds orchestrator configuration.
type Config struct {
	Mode          mode.Mode
	Project       string
	CommandPrefix string
	Dispatch      config.DispatchConfig
	DryRun        bool
}

// DefaultConfig returns the configuration for the default mode.
func DefaultConfig() Config {
	c, _ := ConfigFrom(config.Default())
	return c
}

// ConfigFrom derives orchestrator settings from the loaded config.
func ConfigFrom(cfg *config.Config) (Config, error) {
	m, err := mode.Parse(cfg.Mode)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Mode:          m,
		Project:       cfg.Project,
		CommandPrefix: cfg.CommandPrefix,
		Dispatch:      cfg.Dispatch,
	}, nil
}

// Store persists active state and history.
type Store interface {
	SaveActive(state.Active) error
	LoadActive() (state.Active, error)
	AppendHistory(state.Record) (state.Record, error)
}

// Snapshot is a point-in-time copy of the orchestrator's view.
type Snapshot struct {
	Mode     mode.Mode
	Paused   bool
	Workers  []*worker.Worker
	Tasks    []*tasks.Task
	Eligible []policy.Candidate
	Ticks    int
	LastTick time.Time
}

// Orchestrator coordinates workers and tasks.
type Orchestrator struct {
	mu      sync.Mutex
	ticking atomic.Bool

	config       Config
	source       tasks.Source
	set          *tasks.Set
	engine       *workflow.Engine
	filter       *policy.Filter
	pool         *worker.Pool
	recovery     *recovery.Engine
	backend      tmux.Backend
	store        Store
	logger       *logging.Logger
	eventHandler EventHandler
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	paused         bool
	eligible       []policy.Candidate
	ticks          int
	lastTick       time.Time
	lastDepProblem string

	snapMu sync.RWMutex
	snap   Snapshot
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets orchestrator configuration.
func WithConfig(c Config) Option {
	return func(o *Orchestrator) { o.config = c }
}

// WithSource sets the task source.
func WithSource(s tasks.Source) Option {
	return func(o *Orchestrator) { o.source = s }
}

// WithEngine sets the workflow engine.
func WithEngine(e *workflow.Engine) Option {
	return func(o *Orchestrator) { o.engine = e }
}

// WithPool sets the worker pool.
func WithPool(p *worker.Pool) Option {
	return func(o *Orchestrator) { o.pool = p }
}

// WithBackend sets the terminal backend used for delivery.
func WithBackend(b tmux.Backend) Option {
	return func(o *Orchestrator) { o.backend = b }
}

// WithRecovery sets the recovery engine.
func WithRecovery(r *recovery.Engine) Option {
	return func(o *Orchestrator) { o.recovery = r }
}

// WithFilter sets the task filter.
func WithFilter(f *policy.Filter) Option {
	return func(o *Orchestrator) { o.filter = f }
}

// WithStore sets the state store.
func WithStore(s Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithEventHandler sets an optional callback for orchestrator events.
func WithEventHandler(h EventHandler) Option {
	return func(o *Orchestrator) { o.eventHandler = h }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep replaces the delay used between keystrokes.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// New creates an orchestrator. Source, engine, pool and backend are required.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config: DefaultConfig(),
		set:    tasks.NewSet(nil),
		logger: logging.Component("orchestrator"),
		now:    time.Now,
		sleep:  ctxSleep,
	}
	for _, opt := range opts {
		opt(o)
	}

	var missing []string
	if o.source == nil {
		missing = append(missing, "source")
	}
	if o.engine == nil {
		missing = append(missing, "engine")
	}
	if o.pool == nil {
		missing = append(missing, "pool")
	}
	if o.backend == nil {
		missing = append(missing, "backend")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingDependency, strings.Join(missing, ", "))
	}

	if o.filter == nil {
		o.filter = policy.New(o.engine)
	}
	if o.recovery == nil {
		o.recovery = recovery.New(o.backend, nil, config.Default().Recovery, recovery.WithClock(o.now))
	}
	return o, nil
}

// emit sends an event to the registered handler, if any.
func (o *Orchestrator) emit(e Event) {
	if o.eventHandler != nil {
		e.Time = o.now()
		o.eventHandler(e)
	}
}

// Init registers workers, loads tasks and restores persisted state. Any
// failure here is fatal to the run.
func (o *Orchestrator) Init(ctx context.Context, ownSession string, maxWorkers int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.pool.Initialize(ctx, ownSession, maxWorkers); err != nil {
		return err
	}

	parsed, err := o.source.Parse(ctx)
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}
	o.set.Merge(parsed)
	o.checkDependencies()

	if o.store != nil {
		active, err := o.store.LoadActive()
		if err != nil {
			o.log("warn", "could not load scheduler state", map[string]any{"error": err.Error()})
		} else {
			for _, id := range active.PausedWorkers {
				_ = o.pool.SetManualPause(id, true)
			}
			o.paused = active.SchedulerState == state.StatePaused
		}
	}
	o.persist()
	o.publish()

	o.log("info", "orchestrator ready", map[string]any{
		"mode":    o.config.Mode.String(),
		"workers": len(o.pool.Workers()),
		"tasks":   o.set.Len(),
		"paused":  o.paused,
	})
	return nil
}

// Tick runs one reload, cleanup, reconcile, sync, dispatch and report cycle.
// Overlapping calls return ErrTickInProgress. Failures inside the tick are
// logged and never abort the caller's loop.
func (o *Orchestrator) Tick(ctx context.Context) (err error) {
	if !o.ticking.CompareAndSwap(false, true) {
		o.logger.Debug("tick already running, skipping")
		return ErrTickInProgress
	}
	defer o.ticking.Store(false)

	o.mu.Lock()
	defer o.mu.Unlock()

	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTickPanic, r)
			o.log("error", "tick panicked", map[string]any{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
		}
		o.ticks++
		o.lastTick = start
		o.publish()
		o.emit(Event{Type: EventTick, Duration: o.now().Sub(start)})
	}()

	o.reload(ctx)
	o.cleanup()
	o.reconcile(ctx)
	o.syncSteps()
	if !o.paused {
		o.dispatchIdle(ctx)
	}
	return nil
}

func (o *Orchestrator) settings() mode.Settings {
	return o.engine.Settings(o.config.Mode)
}

// reload refreshes the workflow definition and the task snapshot.
func (o *Orchestrator) reload(ctx context.Context) {
	if changed, err := o.engine.ReloadIfStale(); err == nil && changed {
		o.log("info", "workflow definition reloaded", map[string]any{"path": o.engine.Config().Path()})
	}
	o.refreshTasks(ctx)
}

// refreshTasks re-parses the source. On failure the last snapshot is kept.
func (o *Orchestrator) refreshTasks(ctx context.Context) {
	parsed, err := o.source.Parse(ctx)
	if err != nil {
		o.log("warn", "task source parse failed, keeping last snapshot", map[string]any{"error": err.Error()})
		return
	}
	o.set.Merge(parsed)
	o.checkDependencies()
}

func (o *Orchestrator) checkDependencies() {
	var problem string
	if err := o.set.CheckDependencies().Err(); err != nil {
		problem = err.Error()
	}
	if problem != "" && problem != o.lastDepProblem {
		o.log("warn", "dependency problem", map[string]any{"error": problem})
	}
	o.lastDepProblem = problem
}

// cleanup releases tasks that reached one of the mode's stop-states. A task
// whose worker is still busy stays held until that worker reports back.
func (o *Orchestrator) cleanup() {
	settings := o.settings()
	for _, t := range o.set.All() {
		if !t.Assigned() || !settings.IsStopState(t.Status) {
			continue
		}
		if w, ok := o.pool.Get(t.AssignedWorker); ok && w.CurrentTask == t.ID && w.State == detect.StateBusy {
			continue
		}
		o.releaseTask(t.ID, "reached stop state "+string(t.Status))
	}
}

// reconcile updates worker states and reacts to them.
func (o *Orchestrator) reconcile(ctx context.Context) {
	for _, ch := range o.pool.UpdateStates(ctx, o.set) {
		o.emit(Event{
			Type:     EventWorkerState,
			WorkerID: ch.WorkerID,
			From:     ch.From,
			To:       ch.To,
			Message:  fmt.Sprintf("worker %d %s -> %s", ch.WorkerID, ch.From, ch.To),
		})
	}
	o.reconcileAssignments()

	refreshed := false
	for _, w := range o.pool.Workers() {
		if ctx.Err() != nil {
			return
		}
		switch w.State {
		case detect.StateDone:
			if !w.HasTask() {
				continue
			}
			if !refreshed {
				o.refreshTasks(ctx)
				refreshed = true
			}
			o.continueWorker(ctx, w)
		case detect.StatePaused:
			if w.HasTask() {
				o.resumePaused(ctx, w)
			}
		case detect.StateIdle, detect.StateDead:
			if w.HasTask() {
				o.releaseTask(w.CurrentTask, "worker "+string(w.State))
			}
		}
	}
}

// reconcileAssignments makes worker and task assignments agree.
func (o *Orchestrator) reconcileAssignments() {
	for taskID, wid := range o.set.Assignments() {
		w, ok := o.pool.Get(wid)
		if !ok || w.CurrentTask != taskID {
			o.set.Release(taskID, wid)
			o.log("warn", "released orphaned assignment", map[string]any{"task": taskID, "worker": wid})
		}
	}
	for _, w := range o.pool.Workers() {
		if w.HasTask() && !o.set.Assign(w.CurrentTask, w.ID) {
			o.log("warn", "worker task held elsewhere, clearing", map[string]any{"task": w.CurrentTask, "worker": w.ID})
			clearTask(w)
		}
	}
}

// continueWorker handles a worker that reported completion: it records the
// result and either dispatches the next step to the same worker or releases
// the task.
func (o *Orchestrator) continueWorker(ctx context.Context, w *worker.Worker) {
	taskID := w.CurrentTask
	task, ok := o.set.Get(taskID)
	if !ok {
		clearTask(w)
		return
	}
	cmd := w.LastAction
	done := w.LastDone

	result := state.ResultSuccess
	msg := ""
	if done != nil {
		msg = done.Message
		if !done.Success {
			result = state.ResultError
		}
	}
	o.record(ctx, w, task, cmd, result)
	o.emit(Event{Type: EventTaskComplete, WorkerID: w.ID, TaskID: task.ID, TaskTitle: task.Title, Command: cmd, Message: result})

	if result == state.ResultError {
		w.LastError = fmt.Sprintf("%s failed: %s", cmd, msg)
		o.log("warn", "step reported error", map[string]any{"worker": w.ID, "task": task.ID, "command": cmd, "message": msg})
		o.releaseTask(taskID, "step reported error")
		return
	}

	if target := o.engine.TargetStatus(task, cmd); target != "" {
		o.advanceStatus(ctx, task, target)
	}

	settings := o.settings()
	if settings.StopAfterCommand != "" && cmd == settings.StopAfterCommand {
		o.filter.MarkFinished(taskID)
		o.releaseTask(taskID, "finished "+cmd)
		return
	}
	if settings.IsStopState(task.Status) {
		o.releaseTask(taskID, "reached stop state "+string(task.Status))
		return
	}

	next := o.engine.NextCommand(task, o.config.Mode, cmd)
	if next == "" {
		o.releaseTask(taskID, "no further command")
		return
	}
	if o.engine.IsManual(next, o.config.Mode) {
		o.releaseTask(taskID, "next command "+next+" is manual")
		return
	}

	if err := o.deliver(ctx, w, task, next); err != nil {
		o.dispatchFailed(w, task, next, err)
		o.releaseTask(taskID, "continuation failed")
		return
	}
	o.markDispatched(w, task, next)
}

// advanceStatus writes a transition's target status when the source has not
// already moved the task.
func (o *Orchestrator) advanceStatus(ctx context.Context, task *tasks.Task, target tasks.Status) {
	if err := o.source.UpdateStatus(ctx, task.ID, target); err != nil {
		o.log("warn", "could not update task status", map[string]any{
			"task":   task.ID,
			"status": string(target),
			"error":  err.Error(),
		})
	}
	o.set.SetStatus(task.ID, target)
	task.Status = target
}

// resumePaused drives one recovery attempt for a paused worker.
func (o *Orchestrator) resumePaused(ctx context.Context, w *worker.Worker) {
	ok, err := o.recovery.AttemptResume(ctx, w)
	switch {
	case errors.Is(err, recovery.ErrRetriesExhausted):
		o.emit(Event{Type: EventWorkerError, WorkerID: w.ID, TaskID: w.CurrentTask, Error: err.Error(), Level: "error"})
	case err != nil:
		o.log("warn", "recovery attempt failed", map[string]any{"worker": w.ID, "error": err.Error()})
	case ok:
		o.emit(Event{Type: EventWorkerResumed, WorkerID: w.ID, TaskID: w.CurrentTask})
	}
}

// syncSteps refreshes the step label of busy workers from task status.
func (o *Orchestrator) syncSteps() {
	for _, w := range o.pool.Workers() {
		if w.State != detect.StateBusy || !w.HasTask() {
			continue
		}
		if t, ok := o.set.Get(w.CurrentTask); ok {
			w.CurrentStep = stepLabel(t, w.LastAction)
		}
	}
}

func stepLabel(t *tasks.Task, cmd string) string {
	if cmd == "" {
		return string(t.Status)
	}
	return string(t.Status) + ":" + cmd
}

// dispatchIdle hands eligible tasks to idle workers in id order.
func (o *Orchestrator) dispatchIdle(ctx context.Context) {
	o.eligible = o.filter.Candidates(o.set.All(), o.config.Mode)
	running := o.pool.RunningTaskIDs()
	queue := append([]policy.Candidate(nil), o.eligible...)

	for _, w := range o.pool.IdleWorkers() {
		if ctx.Err() != nil {
			return
		}
		idx := -1
		for i, c := range queue {
			if !running[c.Task.ID] {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		c := queue[idx]
		queue = append(queue[:idx:idx], queue[idx+1:]...)

		err := o.handOff(ctx, w, c.Task)
		if errors.Is(err, ErrWorkerNotReady) {
			queue = append([]policy.Candidate{c}, queue...)
			continue
		}
		running[c.Task.ID] = true
	}
}

// handOff assigns task to w and delivers its next command. Any failure rolls
// the assignment back and leaves other workers unaffected.
func (o *Orchestrator) handOff(ctx context.Context, w *worker.Worker, task *tasks.Task) error {
	a, err := o.tryAssign(w, task)
	if err != nil {
		o.log("debug", "assignment refused", map[string]any{"worker": w.ID, "task": task.ID, "error": err.Error()})
		return err
	}

	obs, err := o.pool.Observe(ctx, w)
	if err != nil {
		a.Rollback(err)
		return err
	}
	if obs.State != detect.StateIdle && obs.State != detect.StateDone {
		err := fmt.Errorf("%w: worker %d is %s", ErrWorkerNotReady, w.ID, obs.State)
		a.Rollback(err)
		w.State = obs.State
		return err
	}

	current, ok := o.set.Get(task.ID)
	if !ok {
		current = task
	}
	cmd := o.engine.NextCommand(current, o.config.Mode, "")
	if cmd == "" {
		a.Rollback(ErrNoCommand)
		return ErrNoCommand
	}

	if o.config.DryRun {
		a.Rollback(nil)
		o.log("info", "dry run: would dispatch", map[string]any{
			"worker":  w.ID,
			"task":    task.ID,
			"command": o.commandLine(cmd, current),
		})
		return nil
	}

	if err := o.deliver(ctx, w, current, cmd); err != nil {
		a.Rollback(nil)
		o.dispatchFailed(w, current, cmd, err)
		return err
	}
	a.Commit(cmd)
	return nil
}

// commandLine formats "<prefix><command> <project>/<id>".
func (o *Orchestrator) commandLine(cmd string, task *tasks.Task) string {
	ref := task.Ref()
	if task.Project == "" && o.config.Project != "" {
		ref = o.config.Project + "/" + task.ID
	}
	return o.config.CommandPrefix + cmd + " " + ref
}

// deliver types the command into the worker's session.
func (o *Orchestrator) deliver(ctx context.Context, w *worker.Worker, task *tasks.Task, cmd string) error {
	d := o.config.Dispatch
	sid := w.SessionID

	if d.ClearBeforeDispatch || o.settings().ClearBeforeDispatch {
		if err := o.backend.SendText(ctx, sid, d.ClearCommand); err != nil {
			return fmt.Errorf("clearing session: %w", err)
		}
		if err := o.sleep(ctx, d.ClearDelay); err != nil {
			return err
		}
		if err := o.backend.SendKey(ctx, sid, "Enter"); err != nil {
			return fmt.Errorf("clearing session: %w", err)
		}
		if err := o.sleep(ctx, d.ClearDelay); err != nil {
			return err
		}
	}

	if err := o.backend.SendText(ctx, sid, o.commandLine(cmd, task)); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	if err := o.sleep(ctx, d.KeyDelay); err != nil {
		return err
	}
	if err := o.backend.SendKey(ctx, sid, "Enter"); err != nil {
		return fmt.Errorf("sending enter: %w", err)
	}
	if err := o.sleep(ctx, d.KeyDelay); err != nil {
		return err
	}
	if d.DismissKey != "" {
		if err := o.backend.SendKey(ctx, sid, d.DismissKey); err != nil {
			return fmt.Errorf("sending dismiss key: %w", err)
		}
	}
	return nil
}

// markDispatched records a delivered command on the worker.
func (o *Orchestrator) markDispatched(w *worker.Worker, task *tasks.Task, cmd string) {
	w.CurrentTask = task.ID
	w.MarkDispatched(cmd, o.now())
	w.CurrentStep = stepLabel(task, cmd)

	o.record(context.Background(), w, task, cmd, state.ResultDispatched)
	o.emit(Event{Type: EventDispatch, WorkerID: w.ID, TaskID: task.ID, TaskTitle: task.Title, Command: cmd})
	o.log("info", "dispatched", map[string]any{"worker": w.ID, "task": task.ID, "command": cmd})
}

func (o *Orchestrator) dispatchFailed(w *worker.Worker, task *tasks.Task, cmd string, err error) {
	w.LastError = err.Error()
	o.record(context.Background(), w, task, cmd, state.ResultDispatchFailed)
	o.emit(Event{Type: EventDispatchFailed, WorkerID: w.ID, TaskID: task.ID, Command: cmd, Error: err.Error(), Level: "warn"})
	o.log("warn", "dispatch failed", map[string]any{"worker": w.ID, "task": task.ID, "command": cmd, "error": err.Error()})
}

// releaseTask clears the assignment of taskID on both sides.
func (o *Orchestrator) releaseTask(taskID, reason string) {
	holder := 0
	if t, ok := o.set.Get(taskID); ok {
		holder = t.AssignedWorker
	}
	o.set.Release(taskID, 0)
	for _, w := range o.pool.Workers() {
		if w.CurrentTask == taskID {
			holder = w.ID
			clearTask(w)
		}
	}
	o.emit(Event{Type: EventTaskReleased, WorkerID: holder, TaskID: taskID, Message: reason})
	o.log("info", "task released", map[string]any{"task": taskID, "worker": holder, "reason": reason})
}

func clearTask(w *worker.Worker) {
	w.CurrentTask = ""
	w.CurrentStep = ""
	w.LastAction = ""
	w.DispatchTime = time.Time{}
}

// record appends a history entry with the tail of the worker's screen.
func (o *Orchestrator) record(ctx context.Context, w *worker.Worker, task *tasks.Task, cmd, result string) {
	if o.store == nil {
		return
	}
	var output string
	if result != state.ResultDispatched {
		if text, err := o.pool.Capture(ctx, w); err == nil {
			output = strings.Join(detect.LastLines(text, outputLines), "\n")
		}
	}
	_, err := o.store.AppendHistory(state.Record{
		TaskID:         task.ID,
		Project:        task.Project,
		Command:        cmd,
		Result:         result,
		WorkerID:       w.ID,
		Timestamp:      o.now(),
		CapturedOutput: output,
	})
	if err != nil {
		o.log("warn", "could not record history", map[string]any{"error": err.Error()})
	}
}

// persist saves the active state.
func (o *Orchestrator) persist() {
	o.saveActive(state.StateRunning)
}

func (o *Orchestrator) saveActive(running state.SchedulerState) {
	if o.store == nil {
		return
	}
	st := running
	if st == state.StateRunning && o.paused {
		st = state.StatePaused
	}
	var paused []int
	for _, w := range o.pool.Workers() {
		if w.ManuallyPaused {
			paused = append(paused, w.ID)
		}
	}
	if err := o.store.SaveActive(state.Active{PausedWorkers: paused, SchedulerState: st}); err != nil {
		o.log("warn", "could not save scheduler state", map[string]any{"error": err.Error()})
	}
}

// publish refreshes the snapshot read by Snapshot.
func (o *Orchestrator) publish() {
	snap := Snapshot{
		Mode:     o.config.Mode,
		Paused:   o.paused,
		Workers:  o.pool.Snapshot(),
		Tasks:    o.set.All(),
		Eligible: make([]policy.Candidate, len(o.eligible)),
		Ticks:    o.ticks,
		LastTick: o.lastTick,
	}
	for i, c := range o.eligible {
		snap.Eligible[i] = policy.Candidate{Task: c.Task.Clone(), Command: c.Command}
	}
	o.snapMu.Lock()
	o.snap = snap
	o.snapMu.Unlock()
}

// Snapshot returns the state as of the last tick or operator action. It
// never waits for a running tick.
func (o *Orchestrator) Snapshot() Snapshot {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snap
}

// log writes to the structured logger and emits an EventLog.
func (o *Orchestrator) log(level, msg string, fields map[string]any) {
	switch level {
	case "debug":
		o.logger.DebugCtx(msg, fields)
	case "info":
		o.logger.InfoCtx(msg, fields)
	case "warn":
		o.logger.WarnCtx(msg, fields)
	case "error":
		o.logger.ErrorCtx(msg, fields)
	}

	o.emit(Event{
		Type:    EventLog,
		Level:   level,
		Message: msg,
		Fields:  fields,
	})
}

// ctxSleep sleeps for d or until ctx is cancelled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
