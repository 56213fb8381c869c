package detect

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newSettled() *Detector {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	d := New(WithClock(clock.now))
	clock.t = clock.t.Add(time.Minute)
	return d
}

func TestDetectPrecedence(t *testing.T) {
	d := newSettled()

	tests := []struct {
		name   string
		text   string
		active bool
		want   State
	}{
		{"empty defaults to busy", "", true, StateBusy},
		{"done marker beats idle prompt", "working on it\nDONE:TSK-1:build:success\n> ", true, StateDone},
		{"done beats paused", "rate limit exceeded\nDONE:TSK-1:build:error:tests failed", true, StateDone},
		{"paused beats idle", "Rate limit exceeded, please wait\n>", false, StatePaused},
		{"idle prompt", "all set\n\n❯ ", false, StateIdle},
		{"idle shortcut hint", "summary\n? for shortcuts", false, StateIdle},
		{"idle nothing pending", "Nothing pending.", false, StateIdle},
		{"prompt scrolled out of last five lines", ">\none\ntwo\nthree\nfour\nfive\nsix", false, StateBusy},
		{"prompt with spinner is busy", "✻ Thinking…\n>\nesc to interrupt", false, StateBusy},
		{"busy marker", "Reading... main.go", true, StateBusy},
		{"error marker", "Error: session expired", true, StateError},
		{"blocked trailing question", "Which database should I use?", true, StateBlocked},
		{"blocked yes/no", "Overwrite file [Y/n]\nwaiting", true, StateBlocked},
		{"no signal defaults to busy", "compiling stuff\nmore output", true, StateBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.text, tt.active)
			if got.State != tt.want {
				t.Errorf("Detect() = %s, want %s", got.State, tt.want)
			}
		})
	}
}

func TestDetectDead(t *testing.T) {
	d := newSettled()
	if got := d.DetectSession(false, "DONE:T1:start:success", true); got.State != StateDead {
		t.Errorf("DetectSession(dead) = %s", got.State)
	}
	if got := d.DetectSession(true, "DONE:T1:start:success", true); got.State != StateDone {
		t.Errorf("DetectSession(alive) = %s", got.State)
	}
}

func TestDetectDoneSignal(t *testing.T) {
	d := newSettled()
	got := d.Detect("...\nDONE:TSK-1:build:success\n> ", true)
	if got.State != StateDone || got.Done == nil {
		t.Fatalf("Detect() = %+v", got)
	}
	if got.Done.TaskID != "TSK-1" || got.Done.Action != "build" || !got.Done.Success || got.Done.Fallback {
		t.Errorf("DoneSignal = %+v", got.Done)
	}
}

func TestParseDoneLastWins(t *testing.T) {
	text := "DONE:shop/T1:start:success\nmore\nDONE:shop/T1:draft:error:lint failed badly\n"
	done := ParseDone(text)
	if done == nil {
		t.Fatal("no done signal")
	}
	if done.TaskID != "shop/T1" || done.Action != "draft" || done.Success {
		t.Errorf("DoneSignal = %+v", done)
	}
	if done.Message != "lint failed badly" {
		t.Errorf("Message = %q", done.Message)
	}
	if done.Status() != "error" {
		t.Errorf("Status() = %q", done.Status())
	}
	if !done.MatchesTask("T1") || !done.MatchesTask("shop/T1") || done.MatchesTask("T2") {
		t.Error("MatchesTask mismatch")
	}
}

func TestParseDoneFallback(t *testing.T) {
	tests := []struct {
		text string
		id   string
	}{
		{"Task TSK-12 completed", "TSK-12"},
		{"task shop/T3 완료", "shop/T3"},
	}
	for _, tt := range tests {
		done := ParseDone(tt.text)
		if done == nil {
			t.Errorf("ParseDone(%q) = nil", tt.text)
			continue
		}
		if !done.Fallback || done.Message != FallbackMessage || !done.Success {
			t.Errorf("ParseDone(%q) = %+v, want flagged fallback", tt.text, done)
		}
		if done.TaskID != tt.id {
			t.Errorf("ParseDone(%q).TaskID = %q, want %q", tt.text, done.TaskID, tt.id)
		}
	}
	if ParseDone("The task was completed by someone") != nil {
		t.Error("prose without an id should not match")
	}
}

func TestStructuredMarkerBeatsFallback(t *testing.T) {
	done := ParseDone("DONE:T1:build:success\nTask T9 completed")
	if done == nil || done.Fallback || done.TaskID != "T1" {
		t.Errorf("ParseDone = %+v, want structured T1", done)
	}
}

func TestStartupGrace(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	d := New(WithClock(clock.now), WithStartupGrace(3*time.Second))

	clock.t = clock.t.Add(time.Second)
	if got := d.Detect(">", true); got.State == StateIdle {
		t.Error("idle should be suppressed for active task during start-up grace")
	}
	if got := d.Detect(">", false); got.State != StateIdle {
		t.Errorf("idle without active task = %s", got.State)
	}

	clock.t = clock.t.Add(3 * time.Second)
	if got := d.Detect(">", true); got.State != StateIdle {
		t.Errorf("idle after grace = %s", got.State)
	}
}

func TestClassifyPause(t *testing.T) {
	d := New()
	tests := []struct {
		text string
		want PauseReason
	}{
		{"You've hit your weekly limit · resets 9pm (America/Los_Angeles)", ReasonWeeklyLimit},
		{"rate limit exceeded, please wait", ReasonRateLimit},
		{"rate limited. Limit reached, resets Feb 8 at 10am", ReasonWeeklyLimit},
		{"Prompt is too long", ReasonContextLimit},
		{"API overloaded", ReasonUnknown},
	}
	for _, tt := range tests {
		if got := d.ClassifyPause(tt.text); got != tt.want {
			t.Errorf("ClassifyPause(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestDetectPausedInfo(t *testing.T) {
	d := newSettled()
	got := d.Detect("\x1b[31mContext window exceeded\x1b[0m\n>", true)
	if got.State != StatePaused || got.Paused == nil {
		t.Fatalf("Detect() = %+v", got)
	}
	if got.Paused.Reason != ReasonContextLimit {
		t.Errorf("Reason = %s", got.Paused.Reason)
	}
	if got.Paused.Message != "Context window exceeded" {
		t.Errorf("Message = %q", got.Paused.Message)
	}
}

func TestLastLines(t *testing.T) {
	got := LastLines("a\n\nb\nc\n", 2)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("LastLines() = %v", got)
	}
}
