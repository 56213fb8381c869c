package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/paneshift/internal/config"
	"github.com/marcus/paneshift/internal/detect"
	"github.com/marcus/paneshift/internal/tasks"
	"github.com/marcus/paneshift/internal/tmux/tmuxtest"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPool(t *testing.T, fake *tmuxtest.Backend, cfg config.WorkersConfig) (*Pool, *clock) {
	t.Helper()
	t.Setenv(OwnSessionEnv, "")
	c := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	det := detect.New(detect.WithClock(c.now))
	c.advance(time.Minute)
	return NewPool(fake, det, cfg, WithClock(c.now)), c
}

func TestInitializeExcludesOwnSession(t *testing.T) {
	fake := tmuxtest.New("%0", "%1", "%2")
	p, _ := newTestPool(t, fake, config.WorkersConfig{})

	workers, err := p.Initialize(context.Background(), "%0", 0)
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if len(workers) != 2 {
		t.Fatalf("got %d workers, want 2", len(workers))
	}
	for i, w := range workers {
		if w.ID != i+1 {
			t.Errorf("worker %d has id %d", i, w.ID)
		}
		if w.SessionID == "%0" {
			t.Error("own session registered as worker")
		}
	}
}

func TestInitializeOwnSessionResolution(t *testing.T) {
	tests := []struct {
		name   string
		hint   string
		env    string
		active string
		max    int
		want   int
	}{
		{"env hint", "", "%1", "", 0, 2},
		{"active session", "", "", "%2", 0, 2},
		{"sentinel registers all", "", "", "", 0, 3},
		{"max caps pool", "%0", "", "", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := tmuxtest.New("%0", "%1", "%2")
			fake.SetActive(tt.active)
			p, _ := newTestPool(t, fake, config.WorkersConfig{})
			t.Setenv(OwnSessionEnv, tt.env)

			workers, err := p.Initialize(context.Background(), tt.hint, tt.max)
			if err != nil {
				t.Fatalf("Initialize() error: %v", err)
			}
			if len(workers) != tt.want {
				t.Errorf("got %d workers, want %d", len(workers), tt.want)
			}
		})
	}
}

func TestInitializeNoWorkers(t *testing.T) {
	fake := tmuxtest.New("%0")
	p, _ := newTestPool(t, fake, config.WorkersConfig{})
	if _, err := p.Initialize(context.Background(), "%0", 0); !errors.Is(err, ErrNoWorkers) {
		t.Errorf("Initialize() error = %v, want ErrNoWorkers", err)
	}
}

func dispatched(p *Pool, c *clock, ago time.Duration) *Worker {
	w := p.Workers()[0]
	w.State = detect.StateBusy
	w.CurrentTask = "T1"
	w.LastAction = "build"
	w.DispatchTime = c.now().Add(-ago)
	return w
}

func TestUpdateStatesGracePeriod(t *testing.T) {
	fake := tmuxtest.New("%1")
	p, c := newTestPool(t, fake, config.WorkersConfig{GracePeriod: 20 * time.Second})
	if _, err := p.Initialize(context.Background(), "%0", 0); err != nil {
		t.Fatal(err)
	}
	w := dispatched(p, c, 5*time.Second)
	fake.SetScreen("%1", "error: boom\n>")

	p.UpdateStates(context.Background(), nil)
	if w.State != detect.StateBusy {
		t.Errorf("State = %s within grace period, want busy", w.State)
	}
}

func TestUpdateStatesMinTaskDuration(t *testing.T) {
	fake := tmuxtest.New("%1")
	p, c := newTestPool(t, fake, config.WorkersConfig{MinTaskDuration: 30 * time.Second})
	if _, err := p.Initialize(context.Background(), "%0", 0); err != nil {
		t.Fatal(err)
	}
	w := dispatched(p, c, 10*time.Second)
	fake.SetScreen("%1", "output\n> ")

	p.UpdateStates(context.Background(), nil)
	if w.State != detect.StateBusy {
		t.Fatalf("State = %s before min duration, want busy", w.State)
	}

	c.advance(30 * time.Second)
	changes := p.UpdateStates(context.Background(), nil)
	if w.State != detect.StateIdle {
		t.Fatalf("State = %s after min duration, want idle", w.State)
	}
	if len(changes) != 1 || changes[0].From != detect.StateBusy || changes[0].To != detect.StateIdle {
		t.Errorf("changes = %+v", changes)
	}
}

func TestUpdateStatesDone(t *testing.T) {
	fake := tmuxtest.New("%1")
	p, c := newTestPool(t, fake, config.WorkersConfig{})
	if _, err := p.Initialize(context.Background(), "%0", 0); err != nil {
		t.Fatal(err)
	}
	w := dispatched(p, c, time.Minute)
	fake.SetScreen("%1", "DONE:T1:build:success\n> ")

	p.UpdateStates(context.Background(), nil)
	if w.State != detect.StateDone || w.LastDone == nil || w.LastDone.Action != "build" {
		t.Fatalf("worker = %+v, want done with signal", w)
	}

	// Released by the orchestrator: the marker is still on screen.
	w.CurrentTask = ""
	p.UpdateStates(context.Background(), nil)
	if w.State != detect.StateIdle {
		t.Errorf("State = %s on second done observation, want idle", w.State)
	}
	p.UpdateStates(context.Background(), nil)
	if w.State != detect.StateIdle {
		t.Errorf("State = %s on third observation, want idle", w.State)
	}
}

func TestUpdateStatesStaleDone(t *testing.T) {
	tests := []struct {
		name   string
		screen string
	}{
		{"other task", "DONE:T9:build:success\n> "},
		{"previous action", "DONE:T1:start:success\n> "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := tmuxtest.New("%1")
			p, c := newTestPool(t, fake, config.WorkersConfig{})
			if _, err := p.Initialize(context.Background(), "%0", 0); err != nil {
				t.Fatal(err)
			}
			w := dispatched(p, c, time.Minute)
			fake.SetScreen("%1", tt.screen)

			p.UpdateStates(context.Background(), nil)
			if w.State != detect.StateBusy {
				t.Errorf("State = %s, want busy for stale marker", w.State)
			}
		})
	}
}

func TestUpdateStatesDeadAndPaused(t *testing.T) {
	fake := tmuxtest.New("%1", "%2")
	p, c := newTestPool(t, fake, config.WorkersConfig{})
	if _, err := p.Initialize(context.Background(), "%0", 0); err != nil {
		t.Fatal(err)
	}
	fake.Kill("%1")
	fake.SetScreen("%2", "Rate limit exceeded, please wait")

	p.UpdateStates(context.Background(), nil)
	w1, _ := p.Get(1)
	w2, _ := p.Get(2)
	if w1.State != detect.StateDead {
		t.Errorf("w1 = %s, want dead", w1.State)
	}
	if w2.State != detect.StatePaused || w2.PauseReason != detect.ReasonRateLimit {
		t.Errorf("w2 = %s/%s, want paused rate-limit", w2.State, w2.PauseReason)
	}

	// A scheduled resume is not reclassified early.
	w2.ResumeNotBefore = c.now().Add(time.Hour)
	fake.SetScreen("%2", "> ")
	p.UpdateStates(context.Background(), nil)
	if w2.State != detect.StatePaused {
		t.Errorf("w2 = %s before resume time, want paused", w2.State)
	}
}

func TestUpdateStatesDropsVanishedTask(t *testing.T) {
	fake := tmuxtest.New("%1")
	p, c := newTestPool(t, fake, config.WorkersConfig{})
	if _, err := p.Initialize(context.Background(), "%0", 0); err != nil {
		t.Fatal(err)
	}
	w := dispatched(p, c, time.Minute)
	set := tasks.NewSet([]*tasks.Task{{ID: "T2"}})

	p.UpdateStates(context.Background(), set)
	if w.HasTask() {
		t.Errorf("CurrentTask = %q, want released", w.CurrentTask)
	}
}

func TestIdleWorkersAndRunning(t *testing.T) {
	fake := tmuxtest.New("%1", "%2", "%3")
	p, _ := newTestPool(t, fake, config.WorkersConfig{})
	if _, err := p.Initialize(context.Background(), "%0", 0); err != nil {
		t.Fatal(err)
	}
	if err := p.SetManualPause(2, true); err != nil {
		t.Fatal(err)
	}
	w3, _ := p.Get(3)
	w3.State = detect.StateBusy
	w3.CurrentTask = "T5"

	idle := p.IdleWorkers()
	if len(idle) != 1 || idle[0].ID != 1 {
		t.Errorf("IdleWorkers() = %v, want [1]", idle)
	}
	running := p.RunningTaskIDs()
	if len(running) != 1 || !running["T5"] {
		t.Errorf("RunningTaskIDs() = %v", running)
	}
	if err := p.SetManualPause(9, true); !errors.Is(err, ErrUnknownWorker) {
		t.Errorf("SetManualPause(9) error = %v", err)
	}
}

func TestResetKeepsManualPause(t *testing.T) {
	w := &Worker{ID: 1, State: detect.StateError, CurrentTask: "T1", RetryCount: 3, ManuallyPaused: true, Exhausted: true}
	w.Reset()
	if w.State != detect.StateIdle || w.HasTask() || w.RetryCount != 0 || w.Exhausted {
		t.Errorf("Reset() left %+v", w)
	}
	if !w.ManuallyPaused {
		t.Error("Reset() cleared ManuallyPaused")
	}
}

func TestUpdateStatesFallbackCountsOncePerStep(t *testing.T) {
	fake := tmuxtest.New("%1")
	p, c := newTestPool(t, fake, config.WorkersConfig{})
	if _, err := p.Initialize(context.Background(), "%0", 0); err != nil {
		t.Fatal(err)
	}
	w := dispatched(p, c, time.Minute)

	fake.SetScreen("%1", "Task T1 completed\n> ")
	p.UpdateStates(context.Background(), nil)
	if w.State != detect.StateDone || w.LastDone == nil || !w.LastDone.Fallback {
		t.Fatalf("worker = %+v, want done from prose line", w)
	}

	w.MarkDispatched("draft", c.now())
	c.advance(45 * time.Second)
	fake.SetScreen("%1", "Task T1 completed\n✻ Drafting…\nesc to interrupt")
	p.UpdateStates(context.Background(), nil)
	if w.State != detect.StateBusy || w.LastDone != nil {
		t.Errorf("worker = %+v, want busy: the prose line belongs to the previous step", w)
	}

	fake.SetScreen("%1", "Task T1 completed\ndrafted\nTask T1 completed\n> ")
	p.UpdateStates(context.Background(), nil)
	if w.State != detect.StateDone {
		t.Errorf("State = %s, want done after a new prose line", w.State)
	}
}

func TestUpdateStatesFallbackBaselineFollowsScroll(t *testing.T) {
	fake := tmuxtest.New("%1")
	p, c := newTestPool(t, fake, config.WorkersConfig{})
	if _, err := p.Initialize(context.Background(), "%0", 0); err != nil {
		t.Fatal(err)
	}
	w := dispatched(p, c, time.Minute)
	w.FallbackSeen = 2
	w.FallbackBaseline = 2

	fake.SetScreen("%1", "✻ Drafting…\nesc to interrupt")
	p.UpdateStates(context.Background(), nil)
	if w.FallbackBaseline != 0 {
		t.Fatalf("FallbackBaseline = %d after lines scrolled away, want 0", w.FallbackBaseline)
	}

	fake.SetScreen("%1", "Task T1 completed\n> ")
	p.UpdateStates(context.Background(), nil)
	if w.State != detect.StateDone {
		t.Errorf("State = %s, want done", w.State)
	}
}
