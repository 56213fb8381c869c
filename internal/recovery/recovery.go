// Package recovery resumes workers paused by rate, usage or context limits.
//
// Short waits are slept inline; longer ones are recorded on the worker as
// ResumeNotBefore and the engine is called again on a later tick.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/paneshift/internal/config"
	"github.com/marcus/paneshift/internal/detect"
	"github.com/marcus/paneshift/internal/logging"
	"github.com/marcus/paneshift/internal/tmux"
	"github.com/marcus/paneshift/internal/worker"
)

// ErrRetriesExhausted is returned when a worker reaches the retry ceiling.
var ErrRetriesExhausted = errors.New("recovery retries exhausted")

// minimumWait is used when a reset time has already passed.
const minimumWait = time.Minute

// Engine performs resume attempts.
type Engine struct {
	backend      tmux.Backend
	detector     *detect.Detector
	cfg          config.RecoveryConfig
	captureLines int
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep replaces the cancellable sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithCaptureLines sets how much text is read for classification.
func WithCaptureLines(n int) Option {
	return func(e *Engine) { e.captureLines = n }
}

// New creates a recovery engine.
func New(backend tmux.Backend, detector *detect.Detector, cfg config.RecoveryConfig, opts ...Option) *Engine {
	e := &Engine{
		backend:      backend,
		detector:     detector,
		cfg:          cfg,
		captureLines: config.DefaultCaptureLines,
		now:          time.Now,
		sleep:        ctxSleep,
		logger:       logging.Component("recovery"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.detector == nil {
		e.detector = detect.New(detect.WithClock(e.now))
	}
	return e
}

// Classify returns the pause sub-reason for captured text.
func (e *Engine) Classify(text string) detect.PauseReason {
	return e.detector.ClassifyPause(text)
}

// WaitFor computes how long to wait before resuming.
func (e *Engine) WaitFor(reason detect.PauseReason, text string, now time.Time) time.Duration {
	switch reason {
	case detect.ReasonWeeklyLimit:
		rc, ok := ParseResetClock(text, now.Location())
		if !ok {
			return e.cfg.WeeklyFallback
		}
		wait := rc.Target(now, e.cfg.RoundBuffer).Sub(now)
		if wait <= 0 {
			return minimumWait
		}
		return wait
	case detect.ReasonContextLimit:
		return e.cfg.ContextWait
	default:
		return e.cfg.DefaultWait
	}
}

// AttemptResume tries to bring a paused worker back to busy. It reports true
// when the worker resumed. When the wait is too long to sleep inline it
// schedules the worker through ResumeNotBefore and returns false; call again
// on a later tick.
func (e *Engine) AttemptResume(ctx context.Context, w *worker.Worker) (bool, error) {
	if w.Exhausted {
		return false, nil
	}
	now := e.now()
	if now.Before(w.ResumeNotBefore) {
		return false, nil
	}

	if w.ResumeNotBefore.IsZero() {
		text, err := e.backend.CaptureText(ctx, w.SessionID, e.captureLines)
		if err != nil {
			return false, fmt.Errorf("capturing worker %d: %w", w.ID, err)
		}
		reason := e.Classify(text)
		wait := e.WaitFor(reason, text, now)
		w.PauseReason = reason

		if wait > e.cfg.InlineWaitMax {
			w.ResumeNotBefore = now.Add(wait)
			e.logger.InfoCtx("resume scheduled", map[string]any{
				"worker":    w.ID,
				"reason":    string(reason),
				"resume_at": w.ResumeNotBefore.Format(time.RFC3339),
			})
			return false, nil
		}
		if err := e.sleep(ctx, wait); err != nil {
			return false, err
		}
	}
	w.ResumeNotBefore = time.Time{}

	if err := e.inject(ctx, w); err != nil {
		return false, err
	}
	if err := e.sleep(ctx, e.cfg.SettleDelay); err != nil {
		return false, err
	}

	text, err := e.backend.CaptureText(ctx, w.SessionID, e.captureLines)
	if err != nil {
		return false, fmt.Errorf("capturing worker %d: %w", w.ID, err)
	}
	res := e.detector.Detect(text, w.HasTask())
	if res.State == detect.StateBusy {
		w.RetryCount = 0
		w.State = detect.StateBusy
		w.StateSince = e.now()
		w.PauseReason = ""
		w.LastPaused = nil
		e.logger.InfoCtx("worker resumed", map[string]any{"worker": w.ID})
		return true, nil
	}

	w.RetryCount++
	fields := map[string]any{
		"worker":   w.ID,
		"attempt":  w.RetryCount,
		"max":      e.cfg.MaxRetries,
		"observed": string(res.State),
	}
	if w.RetryCount >= e.cfg.MaxRetries {
		w.State = detect.StateError
		w.StateSince = e.now()
		w.Exhausted = true
		w.LastError = ErrRetriesExhausted.Error()
		e.logger.ErrorCtx("resume failed, worker needs operator reset", fields)
		return false, fmt.Errorf("worker %d: %w", w.ID, ErrRetriesExhausted)
	}
	e.logger.WarnCtx("resume attempt failed", fields)
	return false, nil
}

func (e *Engine) inject(ctx context.Context, w *worker.Worker) error {
	text := e.cfg.ResumeText
	if w.PauseReason == detect.ReasonContextLimit && e.cfg.ContextResumeText != "" {
		text = e.cfg.ContextResumeText
	}
	if err := e.backend.SendText(ctx, w.SessionID, text); err != nil {
		return fmt.Errorf("sending resume to worker %d: %w", w.ID, err)
	}
	if err := e.backend.SendKey(ctx, w.SessionID, "Enter"); err != nil {
		return fmt.Errorf("sending resume to worker %d: %w", w.ID, err)
	}
	return nil
}

// ctxSleep sleeps for d or until ctx is cancelled.
func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
