package detect

import "regexp"

// Pattern sets used by the Detector. Each set is matched against a specific
// slice of the captured window; see Detect for which.
var (
	// doneMarker is the structured completion marker:
	// DONE:<taskId>:<action>:<success|error>[:<message>]
	doneMarker = regexp.MustCompile(`DONE:([^\s:]+):([^\s:]+):(success|error)(?::([^\r\n]*))?`)

	// fallbackDone accepts "Task [project/]ID completed" prose as an implicit success.
	fallbackDone = regexp.MustCompile(`(?i)\btask\s+((?:[\w.-]+/)?[\w.-]*\d[\w.-]*)\s+(?:completed|complete|finished|완료)`)

	WeeklyLimitPatterns = []string{
		`(?i)weekly\s+(?:usage\s+)?limit`,
		`(?i)(?:usage|session|5-hour|opus)\s+limit\s+(?:reached|hit|exceeded)`,
		`(?i)limit\s+(?:reached|hit)\b.*\bresets?\b`,
		`(?i)out of (?:extra )?usage`,
		`(?i)\bresets?\s+(?:at\s+|on\s+)?(?:[a-z]{3,9}\s+\d{1,2}\s+(?:at\s+)?)?\d{1,2}(?::\d{2}\s*(?:am|pm)?|\s*(?:am|pm))`,
	}

	RateLimitPatterns = []string{
		`(?i)rate[ -]?limit(?:ed)?`,
		`(?i)too many requests`,
		`(?i)\b429\b`,
		`(?i)please (?:wait|try again later)`,
	}

	ContextLimitPatterns = []string{
		`(?i)context (?:window|length|limit)`,
		`(?i)conversation (?:is )?too long`,
		`(?i)prompt is too long`,
		`(?i)maximum context`,
		`(?i)context left until auto-compact:\s*0%`,
	}

	CapacityPatterns = []string{
		`(?i)overloaded`,
		`(?i)at capacity`,
		`(?i)\b529\b`,
	}

	// IdlePatterns are checked on the last five lines only.
	IdlePatterns = []string{
		`^[│|\s]*[>❯›]\s*[│|]?\s*$`,
		`^\s*\$\s*$`,
		`\?\s+for shortcuts`,
		`(?i)nothing (?:pending|to do|left to do)`,
		`(?i)no (?:pending|remaining) (?:tasks|work)`,
		`(?i)waiting for (?:the )?next (?:command|task|instruction)`,
	}

	BusyPatterns = []string{
		`⠋|⠙|⠹|⠸|⠼|⠴|⠦|⠧|⠇|⠏`,
		`[✻✽✶✳✢·]\s+\w+(?:…|\.{3})`,
		`(?i)esc to interrupt`,
		`(?i)(?:thinking|working|running|reading|writing|editing|analyzing|building|compiling|testing|searching)(?:…|\.{3})`,
		`(?i)\bin progress\b`,
	}

	ErrorPatterns = []string{
		`(?i)^\s*error:`,
		`(?i)\b(?:fatal|panic):`,
		`(?i)command failed`,
		`(?i)traceback \(most recent call last\)`,
		`(?i)(?:api|request) error`,
		`(?i)(?:crashed|exited) unexpectedly`,
	}

	BlockedPatterns = []string{
		`(?i)\[Y(?:es)?/[Nn](?:o)?\]`,
		`(?i)\(y(?:es)?/n(?:o)?\)`,
		`(?i)do you want to (?:proceed|continue|make this edit|create)`,
		`(?i)(?:select|choose|pick) (?:one|an option|from)`,
		`(?i)enter to (?:select|confirm)`,
		`^\s*[❯>]\s*1\.\s+\S`,
	}

	trailingQuestion = regexp.MustCompile(`\?\s*$`)
)

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// anyLine reports whether any line matches any pattern. Used for
// line-anchored patterns.
func anyLine(lines []string, patterns []*regexp.Regexp) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if matchesAny(lines[i], patterns) {
			return lines[i], true
		}
	}
	return "", false
}
