package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/marcus/paneshift/internal/config"
	"github.com/marcus/paneshift/internal/detect"
	"github.com/marcus/paneshift/internal/logging"
	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/tmux"
)

// OwnSessionEnv names the session the scheduler runs in.
const OwnSessionEnv = "TMUX_PANE"

var (
	ErrNoWorkers     = errors.New("no worker sessions found")
	ErrUnknownWorker = errors.New("unknown worker")
)

// Transition is a worker state change observed by UpdateStates.
type Transition struct {
	WorkerID int
	From     detect.State
	To       detect.State
}

// Pool owns the worker records. It is not safe for concurrent use; the
// orchestrator serializes access.
type Pool struct {
	backend  tmux.Backend
	detector *detect.Detector
	cfg      config.WorkersConfig
	now      func() time.Time
	logger   *logging.Logger
	workers  []*Worker
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates an empty pool. Call Initialize to register sessions.
func NewPool(backend tmux.Backend, detector *detect.Detector, cfg config.WorkersConfig, opts ...Option) *Pool {
	p := &Pool{
		backend:  backend,
		detector: detector,
		cfg:      cfg,
		now:      time.Now,
		logger:   logging.Component("pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.detector == nil {
		p.detector = detect.New(detect.WithClock(p.now))
	}
	if p.cfg.CaptureLines <= 0 {
		p.cfg.CaptureLines = config.DefaultCaptureLines
	}
	return p
}

// Initialize registers every backend session except the scheduler's own as
// a worker, with ids from 1. max caps the pool; 0 means unlimited.
func (p *Pool) Initialize(ctx context.Context, ownSessionID string, max int) ([]*Worker, error) {
	sessions, err := p.backend.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	own := p.resolveOwnSession(ctx, ownSessionID)
	now := p.now()
	p.workers = nil
	for _, s := range sessions {
		if own != "" && s.ID == own {
			continue
		}
		if max > 0 && len(p.workers) >= max {
			break
		}
		p.workers = append(p.workers, &Worker{
			ID:         len(p.workers) + 1,
			SessionID:  s.ID,
			Workspace:  s.Workspace,
			State:      detect.StateIdle,
			StateSince: now,
		})
	}
	if len(p.workers) == 0 {
		return nil, ErrNoWorkers
	}

	p.logger.InfoCtx("workers registered", map[string]any{
		"count":       len(p.workers),
		"own_session": own,
	})
	return p.workers, nil
}

// resolveOwnSession tries the hint, the environment, then the backend. An
// empty result registers every session.
func (p *Pool) resolveOwnSession(ctx context.Context, hint string) string {
	if hint != "" {
		return hint
	}
	if env := os.Getenv(OwnSessionEnv); env != "" {
		return env
	}
	id, err := p.backend.ActiveSessionID(ctx)
	if err == nil && id != "" {
		return id
	}
	p.logger.Warn("own session unknown, registering all sessions as workers")
	return ""
}

// UpdateStates reclassifies every worker. Failures are per worker: they are
// logged and recorded on the worker, and never stop the others.
func (p *Pool) UpdateStates(ctx context.Context, set *tasks.Set) []Transition {
	var changes []Transition
	for _, w := range p.workers {
		if ctx.Err() != nil {
			break
		}
		from := w.State
		p.updateOne(ctx, w)
		if set != nil && w.HasTask() && !set.Has(w.CurrentTask) {
			p.logger.WarnCtx("task vanished from source, releasing worker", map[string]any{
				"worker": w.ID,
				"task":   w.CurrentTask,
			})
			w.CurrentTask = ""
			w.CurrentStep = ""
			w.LastAction = ""
		}
		if w.State != from {
			changes = append(changes, Transition{WorkerID: w.ID, From: from, To: w.State})
		}
	}
	return changes
}

func (p *Pool) updateOne(ctx context.Context, w *Worker) {
	now := p.now()
	if w.Exhausted {
		return
	}
	if w.HasTask() && !w.DispatchTime.IsZero() && now.Sub(w.DispatchTime) < p.cfg.GracePeriod {
		return
	}
	if w.State == detect.StatePaused && now.Before(w.ResumeNotBefore) {
		return
	}

	alive, err := p.backend.SessionExists(ctx, w.SessionID)
	if err != nil {
		p.recordError(w, "session check", err)
		return
	}
	var text string
	if alive {
		text, err = p.backend.CaptureText(ctx, w.SessionID, p.cfg.CaptureLines)
		if err != nil {
			p.recordError(w, "capture", err)
			return
		}
		p.trackFallback(w, text)
	}

	p.apply(w, p.detector.DetectSession(alive, text, w.HasTask()), now)
}

func (p *Pool) recordError(w *Worker, op string, err error) {
	w.LastError = fmt.Sprintf("%s: %v", op, err)
	p.logger.WarnCtx("worker update failed", map[string]any{
		"worker": w.ID,
		"op":     op,
		"error":  err.Error(),
	})
}

// apply folds one classification into the worker.
func (p *Pool) apply(w *Worker, res detect.Result, now time.Time) {
	switch res.State {
	case detect.StateDone:
		p.applyDone(w, res.Done, now)
	case detect.StateIdle:
		if w.State == detect.StateBusy && w.HasTask() && !w.DispatchTime.IsZero() &&
			now.Sub(w.DispatchTime) < p.cfg.MinTaskDuration {
			p.logger.DebugCtx("idle before minimum task duration, keeping busy", map[string]any{
				"worker": w.ID,
				"task":   w.CurrentTask,
			})
			return
		}
		w.setState(detect.StateIdle, now)
	case detect.StatePaused:
		w.LastPaused = res.Paused
		if res.Paused != nil {
			w.PauseReason = res.Paused.Reason
		}
		w.setState(detect.StatePaused, now)
	default:
		w.setState(res.State, now)
	}
}

// applyDone holds a done worker for the orchestrator. A worker without a
// task falls to idle on the second done observation.
func (p *Pool) applyDone(w *Worker, done *detect.DoneSignal, now time.Time) {
	if !w.HasTask() {
		if w.State == detect.StateDone || w.State == detect.StateIdle {
			w.setState(detect.StateIdle, now)
		} else {
			w.setState(detect.StateDone, now)
		}
		return
	}

	if staleDone(w, done) {
		p.logger.DebugCtx("stale completion marker ignored", map[string]any{
			"worker":      w.ID,
			"task":        w.CurrentTask,
			"last_action": w.LastAction,
			"marker_task": done.TaskID,
			"marker_act":  done.Action,
		})
		w.setState(detect.StateBusy, now)
		return
	}
	if done.Fallback {
		p.logger.WarnCtx("completion inferred from fallback pattern", map[string]any{
			"worker": w.ID,
			"task":   w.CurrentTask,
		})
	}
	w.LastDone = done
	w.setState(detect.StateDone, now)
}

// staleDone reports whether a marker belongs to an earlier step. Structured
// markers carry their action; prose lines only count when a new one has
// appeared since the step was dispatched.
func staleDone(w *Worker, done *detect.DoneSignal) bool {
	if !done.MatchesTask(w.CurrentTask) {
		return true
	}
	if done.Fallback {
		return w.FallbackSeen <= w.FallbackBaseline
	}
	return w.LastAction != "" && done.Action != w.LastAction
}

func (p *Pool) trackFallback(w *Worker, text string) {
	w.FallbackSeen = detect.FallbackCount(text)
	if w.FallbackSeen < w.FallbackBaseline {
		w.FallbackBaseline = w.FallbackSeen
	}
}

// Workers returns the live worker records in id order.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Snapshot returns copies of the worker records.
func (p *Pool) Snapshot() []*Worker {
	out := make([]*Worker, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.Clone()
	}
	return out
}

// Get returns the worker with id.
func (p *Pool) Get(id int) (*Worker, bool) {
	for _, w := range p.workers {
		if w.ID == id {
			return w, true
		}
	}
	return nil, false
}

// IdleWorkers returns idle workers that are free to take work, in id order.
// Manually paused workers are excluded.
func (p *Pool) IdleWorkers() []*Worker {
	var out []*Worker
	for _, w := range p.workers {
		if w.Available() {
			out = append(out, w)
		}
	}
	return out
}

// RunningTaskIDs returns the ids of tasks held by any worker.
func (p *Pool) RunningTaskIDs() map[string]bool {
	out := make(map[string]bool)
	for _, w := range p.workers {
		if w.HasTask() {
			out[w.CurrentTask] = true
		}
	}
	return out
}

// SetManualPause pauses or resumes dispatch to a worker.
func (p *Pool) SetManualPause(id int, paused bool) error {
	w, ok := p.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownWorker, id)
	}
	w.ManuallyPaused = paused
	return nil
}

// Capture returns the worker's current screen text.
func (p *Pool) Capture(ctx context.Context, w *Worker) (string, error) {
	return p.backend.CaptureText(ctx, w.SessionID, p.cfg.CaptureLines)
}

// Observe classifies a worker's session as if it held no task, without
// changing the worker. Used to confirm a worker is free before a hand-off.
func (p *Pool) Observe(ctx context.Context, w *Worker) (detect.Result, error) {
	alive, err := p.backend.SessionExists(ctx, w.SessionID)
	if err != nil {
		return detect.Result{}, fmt.Errorf("checking session %s: %w", w.SessionID, err)
	}
	var text string
	if alive {
		if text, err = p.backend.CaptureText(ctx, w.SessionID, p.cfg.CaptureLines); err != nil {
			return detect.Result{}, fmt.Errorf("capturing session %s: %w", w.SessionID, err)
		}
	}
	return p.detector.DetectSession(alive, text, false), nil
}
