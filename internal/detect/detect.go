// Package detect classifies a worker's captured terminal text into a worker
// state, and extracts completion and pause details.
//
// Classification precedence, first match wins:
//
//	dead > done > paused > idle > busy > error > blocked > busy (default)
//
// A false "busy" only delays work; a false "idle" double-dispatches, so the
// default is busy.
package detect

import (
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// State is a worker state.
type State string

const (
	StateIdle    State = "idle"
	StateBusy    State = "busy"
	StatePaused  State = "paused"
	StateError   State = "error"
	StateBlocked State = "blocked"
	StateDead    State = "dead"
	StateDone    State = "done"
)

// PauseReason is the sub-reason of a paused state.
type PauseReason string

const (
	ReasonWeeklyLimit  PauseReason = "weekly-limit"
	ReasonRateLimit    PauseReason = "rate-limit"
	ReasonContextLimit PauseReason = "context-limit"
	ReasonUnknown      PauseReason = "unknown"
)

// FallbackMessage marks a DoneSignal produced by the prose fallback pattern.
const FallbackMessage = "fallback-match"

// DoneSignal is a parsed completion marker.
type DoneSignal struct {
	TaskID   string
	Action   string
	Success  bool
	Message  string
	Fallback bool
}

// Status returns "success" or "error".
func (d DoneSignal) Status() string {
	if d.Success {
		return "success"
	}
	return "error"
}

// PausedInfo describes a paused worker.
type PausedInfo struct {
	Reason   PauseReason
	ResumeAt time.Time // zero when unknown; recovery computes the wait
	Message  string
}

// Result is a classification.
type Result struct {
	State  State
	Done   *DoneSignal
	Paused *PausedInfo
}

const (
	// DefaultStartupGrace suppresses idle for active tasks right after start.
	DefaultStartupGrace = 3 * time.Second
	idleWindow          = 5
	recentWindow        = 15
)

// Detector classifies captured text. It is safe for concurrent use.
type Detector struct {
	weekly   []*regexp.Regexp
	rate     []*regexp.Regexp
	context  []*regexp.Regexp
	capacity []*regexp.Regexp
	idle     []*regexp.Regexp
	busy     []*regexp.Regexp
	errs     []*regexp.Regexp
	blocked  []*regexp.Regexp

	started      time.Time
	startupGrace time.Duration
	now          func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithStartupGrace sets how long idle is suppressed for active tasks after start.
func WithStartupGrace(grace time.Duration) Option {
	return func(d *Detector) { d.startupGrace = grace }
}

// New creates a Detector. The start-up grace is measured from this call.
func New(opts ...Option) *Detector {
	d := &Detector{
		weekly:       compilePatterns(WeeklyLimitPatterns),
		rate:         compilePatterns(RateLimitPatterns),
		context:      compilePatterns(ContextLimitPatterns),
		capacity:     compilePatterns(CapacityPatterns),
		idle:         compilePatterns(IdlePatterns),
		busy:         compilePatterns(BusyPatterns),
		errs:         compilePatterns(ErrorPatterns),
		blocked:      compilePatterns(BlockedPatterns),
		startupGrace: DefaultStartupGrace,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.started = d.now()
	return d
}

// DetectSession classifies a session, reporting dead when it no longer exists.
func (d *Detector) DetectSession(alive bool, text string, hasActiveTask bool) Result {
	if !alive {
		return Result{State: StateDead}
	}
	return d.Detect(text, hasActiveTask)
}

// Detect classifies captured text.
func (d *Detector) Detect(text string, hasActiveTask bool) Result {
	text = ansi.Strip(text)
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return Result{State: StateBusy}
	}

	if done := ParseDone(text); done != nil {
		return Result{State: StateDone, Done: done}
	}

	recent := tail(lines, recentWindow)
	if line, ok := d.pausedLine(recent); ok {
		return Result{State: StatePaused, Paused: &PausedInfo{
			Reason:  d.ClassifyPause(strings.Join(recent, "\n")),
			Message: line,
		}}
	}

	last := tail(lines, idleWindow)
	if d.idleAllowed(hasActiveTask) {
		if _, ok := anyLine(last, d.idle); ok {
			if _, working := anyLine(last, d.busy); !working {
				return Result{State: StateIdle}
			}
		}
	}

	if _, ok := anyLine(recent, d.busy); ok {
		return Result{State: StateBusy}
	}
	if _, ok := anyLine(recent, d.errs); ok {
		return Result{State: StateError}
	}
	if trailingQuestion.MatchString(lines[len(lines)-1]) {
		return Result{State: StateBlocked}
	}
	if _, ok := anyLine(last, d.blocked); ok {
		return Result{State: StateBlocked}
	}
	return Result{State: StateBusy}
}

func (d *Detector) idleAllowed(hasActiveTask bool) bool {
	if !hasActiveTask {
		return true
	}
	return d.now().Sub(d.started) >= d.startupGrace
}

func (d *Detector) pausedLine(lines []string) (string, bool) {
	for _, set := range [][]*regexp.Regexp{d.weekly, d.rate, d.context, d.capacity} {
		if line, ok := anyLine(lines, set); ok {
			return line, true
		}
	}
	return "", false
}

// ClassifyPause picks the pause sub-reason. Weekly limits are checked first
// because their reset clause is the diagnostic part.
func (d *Detector) ClassifyPause(text string) PauseReason {
	lines := nonEmptyLines(ansi.Strip(text))
	switch {
	case hasMatch(lines, d.weekly):
		return ReasonWeeklyLimit
	case hasMatch(lines, d.rate):
		return ReasonRateLimit
	case hasMatch(lines, d.context):
		return ReasonContextLimit
	default:
		return ReasonUnknown
	}
}

func hasMatch(lines []string, patterns []*regexp.Regexp) bool {
	_, ok := anyLine(lines, patterns)
	return ok
}

// ParseDone returns the last completion marker in text. Without a structured
// marker it tries the prose fallback, flagged as such.
func ParseDone(text string) *DoneSignal {
	if all := doneMarker.FindAllStringSubmatch(text, -1); len(all) > 0 {
		m := all[len(all)-1]
		return &DoneSignal{
			TaskID:  m[1],
			Action:  m[2],
			Success: m[3] == "success",
			Message: strings.TrimSpace(m[4]),
		}
	}
	if all := fallbackDone.FindAllStringSubmatch(text, -1); len(all) > 0 {
		m := all[len(all)-1]
		return &DoneSignal{
			TaskID:   m[1],
			Success:  true,
			Message:  FallbackMessage,
			Fallback: true,
		}
	}
	return nil
}

// FallbackCount returns how many prose completion lines text contains.
func FallbackCount(text string) int {
	return len(fallbackDone.FindAllStringIndex(ansi.Strip(text), -1))
}

// MatchesTask reports whether the signal's task id refers to id, allowing
// a "<project>/" prefix on either side.
func (d DoneSignal) MatchesTask(id string) bool {
	return stripProject(d.TaskID) == stripProject(id)
}

func stripProject(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func nonEmptyLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			out = append(out, strings.TrimRight(l, " \t\r"))
		}
	}
	return out
}

func tail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// LastLines returns the last n non-empty lines of text, ANSI stripped.
func LastLines(text string, n int) []string {
	return tail(nonEmptyLines(ansi.Strip(text)), n)
}
