package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/paneshift/internal/config"
	"github.com/marcus/paneshift/internal/detect"
	"github.com/marcus/paneshift/internal/tmux/tmuxtest"
	"github.com/marcus/paneshift/internal/worker"
)

func testConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		DefaultWait:    60 * time.Second,
		ContextWait:    5 * time.Second,
		WeeklyFallback: time.Hour,
		RoundBuffer:    10 * time.Minute,
		MaxRetries:     3,
		ResumeText:     "continue",
		SettleDelay:    3 * time.Second,
		InlineWaitMax:  10 * time.Second,
	}
}

func TestParseResetClock(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}
	tests := []struct {
		text   string
		hour   int
		minute int
		month  time.Month
		day    int
		loc    *time.Location
	}{
		{"You've hit your limit · resets 9pm (America/Los_Angeles)", 21, 0, 0, 0, la},
		{"Resets 8:59pm (America/Los_Angeles)", 20, 59, 0, 0, la},
		{"Resets Feb 8 at 10am (America/Los_Angeles)", 10, 0, time.February, 8, la},
		{"Resets 12am", 0, 0, 0, 0, time.UTC},
		{"Weekly limit: 0% left (resets 20:08 on 9 Feb)", 20, 8, time.February, 9, time.UTC},
	}
	for _, tt := range tests {
		rc, ok := ParseResetClock(tt.text, time.UTC)
		if !ok {
			t.Errorf("ParseResetClock(%q) failed", tt.text)
			continue
		}
		if rc.Hour != tt.hour || rc.Minute != tt.minute || rc.Month != tt.month || rc.Day != tt.day {
			t.Errorf("ParseResetClock(%q) = %+v", tt.text, rc)
		}
		if rc.Location.String() != tt.loc.String() {
			t.Errorf("ParseResetClock(%q) location = %s, want %s", tt.text, rc.Location, tt.loc)
		}
	}

	for _, text := range []string{"reset 3 files", "limit reached", ""} {
		if _, ok := ParseResetClock(text, time.UTC); ok {
			t.Errorf("ParseResetClock(%q) should fail", text)
		}
	}
}

func TestWaitFor(t *testing.T) {
	e := New(tmuxtest.New(), nil, testConfig())
	now := time.Date(2025, 2, 7, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		reason detect.PauseReason
		text   string
		want   time.Duration
	}{
		{"rate limit default", detect.ReasonRateLimit, "rate limit exceeded, please wait", 60 * time.Second},
		{"unknown default", detect.ReasonUnknown, "overloaded", 60 * time.Second},
		{"context limit", detect.ReasonContextLimit, "prompt is too long", 5 * time.Second},
		{"weekly whole hour", detect.ReasonWeeklyLimit, "limit reached · resets 9pm", 3 * time.Hour},
		{"weekly minute rounds up with buffer", detect.ReasonWeeklyLimit, "resets 8:59pm", 3*time.Hour + 10*time.Minute},
		{"weekly with date", detect.ReasonWeeklyLimit, "Resets Feb 8 at 10am", 16 * time.Hour},
		{"weekly past target retries soon", detect.ReasonWeeklyLimit, "resets 9am", time.Minute},
		{"weekly unparsable uses fallback", detect.ReasonWeeklyLimit, "weekly limit reached", time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.WaitFor(tt.reason, tt.text, now); got != tt.want {
				t.Errorf("WaitFor() = %v, want %v", got, tt.want)
			}
		})
	}
}

type harness struct {
	fake   *tmuxtest.Backend
	engine *Engine
	now    time.Time
	slept  []time.Duration
}

func newHarness(t *testing.T, cfg config.RecoveryConfig) *harness {
	t.Helper()
	h := &harness{
		fake: tmuxtest.New("%1"),
		now:  time.Date(2025, 2, 7, 18, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }
	det := detect.New(detect.WithClock(clock), detect.WithStartupGrace(0))
	h.engine = New(h.fake, det, cfg,
		WithClock(clock),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			h.slept = append(h.slept, d)
			h.now = h.now.Add(d)
			return nil
		}))
	return h
}

func pausedWorker() *worker.Worker {
	return &worker.Worker{ID: 1, SessionID: "%1", State: detect.StatePaused, CurrentTask: "T1"}
}

func TestAttemptResumeInline(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fake.SetScreen("%1", "Prompt is too long")
	h.fake.OnInput = func(b *tmuxtest.Backend, in tmuxtest.Input) {
		if in.Key {
			b.SetScreen("%1", "✻ Thinking…")
		}
	}
	w := pausedWorker()
	w.RetryCount = 2

	ok, err := h.engine.AttemptResume(context.Background(), w)
	if err != nil || !ok {
		t.Fatalf("AttemptResume() = %v, %v", ok, err)
	}
	if w.State != detect.StateBusy || w.RetryCount != 0 {
		t.Errorf("worker = %s retry %d", w.State, w.RetryCount)
	}
	if len(h.slept) != 2 || h.slept[0] != 5*time.Second || h.slept[1] != 3*time.Second {
		t.Errorf("slept = %v", h.slept)
	}
	if texts := h.fake.Texts("%1"); len(texts) != 1 || texts[0] != "continue" {
		t.Errorf("sent = %v", texts)
	}
}

func TestAttemptResumeSchedulesLongWait(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fake.SetScreen("%1", "rate limit exceeded, please wait")
	w := pausedWorker()

	ok, err := h.engine.AttemptResume(context.Background(), w)
	if err != nil || ok {
		t.Fatalf("AttemptResume() = %v, %v", ok, err)
	}
	want := h.now.Add(60 * time.Second)
	if !w.ResumeNotBefore.Equal(want) {
		t.Errorf("ResumeNotBefore = %v, want %v", w.ResumeNotBefore, want)
	}
	if len(h.slept) != 0 || len(h.fake.Inputs()) != 0 {
		t.Error("long wait should not sleep or inject")
	}

	// Not yet due.
	h.now = h.now.Add(30 * time.Second)
	if ok, _ := h.engine.AttemptResume(context.Background(), w); ok || len(h.fake.Inputs()) != 0 {
		t.Error("resume attempted before ResumeNotBefore")
	}

	// Due: resume is injected without another wait.
	h.now = h.now.Add(31 * time.Second)
	h.fake.OnInput = func(b *tmuxtest.Backend, in tmuxtest.Input) {
		if in.Key {
			b.SetScreen("%1", "Reading... main.go")
		}
	}
	ok, err = h.engine.AttemptResume(context.Background(), w)
	if err != nil || !ok {
		t.Fatalf("AttemptResume() when due = %v, %v", ok, err)
	}
	if !w.ResumeNotBefore.IsZero() {
		t.Error("ResumeNotBefore not cleared")
	}
}

func TestAttemptResumeRetryCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultWait = time.Second
	h := newHarness(t, cfg)
	h.fake.SetScreen("%1", "API overloaded")
	w := pausedWorker()

	for i := 1; i < cfg.MaxRetries; i++ {
		ok, err := h.engine.AttemptResume(context.Background(), w)
		if err != nil || ok {
			t.Fatalf("attempt %d = %v, %v", i, ok, err)
		}
		if w.RetryCount != i || w.State != detect.StatePaused {
			t.Fatalf("attempt %d: retry %d state %s", i, w.RetryCount, w.State)
		}
	}

	ok, err := h.engine.AttemptResume(context.Background(), w)
	if ok || !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("final attempt = %v, %v", ok, err)
	}
	if w.State != detect.StateError || !w.Exhausted {
		t.Errorf("worker = %s exhausted=%v", w.State, w.Exhausted)
	}

	// Stays in error until reset.
	sent := len(h.fake.Inputs())
	if ok, err := h.engine.AttemptResume(context.Background(), w); ok || err != nil {
		t.Errorf("attempt after exhaustion = %v, %v", ok, err)
	}
	if len(h.fake.Inputs()) != sent {
		t.Error("exhausted worker received input")
	}
}

func TestAttemptResumeSendFailure(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fake.SetScreen("%1", "Prompt is too long")
	h.fake.SendErr = errors.New("no server running")
	w := pausedWorker()

	if _, err := h.engine.AttemptResume(context.Background(), w); err == nil {
		t.Fatal("AttemptResume() should fail")
	}
	if w.RetryCount != 0 {
		t.Errorf("RetryCount = %d after transport failure", w.RetryCount)
	}
}

func TestCtxSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ctxSleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("ctxSleep() = %v", err)
	}
}
