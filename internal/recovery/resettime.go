package recovery

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// resetClause matches the reset clauses printed by usage-limit banners:
//
//	resets 9pm (America/Los_Angeles)
//	Resets Feb 8 at 9:59am (America/Los_Angeles)
//	(resets 20:08 on 9 Feb)
var resetClause = regexp.MustCompile(`(?i)\bresets?\s+(?:at\s+)?` +
	`(?:([a-z]{3,9})\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(?:at\s+)?)?` +
	`(\d{1,2})(?::(\d{2}))?\s*(am|pm)?` +
	`(?:\s+on\s+(\d{1,2})\s+([a-z]{3,9}))?` +
	`(?:\s*\(([^)]+)\))?`)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// ResetClock is a parsed reset clause.
type ResetClock struct {
	Hour     int
	Minute   int
	Month    time.Month // 0 when absent
	Day      int
	Location *time.Location
}

// ParseResetClock finds the last reset clause in text. A bare number
// without am/pm or minutes is not accepted.
func ParseResetClock(text string, fallback *time.Location) (ResetClock, bool) {
	all := resetClause.FindAllStringSubmatch(text, -1)
	for i := len(all) - 1; i >= 0; i-- {
		if rc, ok := clockFromMatch(all[i], fallback); ok {
			return rc, true
		}
	}
	return ResetClock{}, false
}

func clockFromMatch(m []string, fallback *time.Location) (ResetClock, bool) {
	monthA, dayA, hourS, minS, ampm, dayB, monthB, zone := m[1], m[2], m[3], m[4], strings.ToLower(m[5]), m[6], m[7], m[8]
	if minS == "" && ampm == "" {
		return ResetClock{}, false
	}

	rc := ResetClock{Location: fallback}
	rc.Hour, _ = strconv.Atoi(hourS)
	if minS != "" {
		rc.Minute, _ = strconv.Atoi(minS)
	}
	switch ampm {
	case "am":
		if rc.Hour == 12 {
			rc.Hour = 0
		}
	case "pm":
		if rc.Hour < 12 {
			rc.Hour += 12
		}
	}
	if rc.Hour > 23 || rc.Minute > 59 {
		return ResetClock{}, false
	}

	monthName, dayS := monthA, dayA
	if monthName == "" {
		monthName, dayS = monthB, dayB
	}
	if monthName != "" {
		mon, ok := months[strings.ToLower(monthName[:3])]
		if !ok {
			return ResetClock{}, false
		}
		rc.Month = mon
		rc.Day, _ = strconv.Atoi(dayS)
	}

	if zone != "" {
		if loc, err := time.LoadLocation(strings.TrimSpace(zone)); err == nil {
			rc.Location = loc
		}
	}
	if rc.Location == nil {
		rc.Location = time.Local
	}
	return rc, true
}

// Target returns the wall-clock instant of the reset on or after now's date.
// A nonzero minute is rounded up to the next hour plus buffer so the resume
// does not race the reset boundary.
func (rc ResetClock) Target(now time.Time, buffer time.Duration) time.Time {
	local := now.In(rc.Location)
	year, month, day := local.Date()
	if rc.Month != 0 {
		month, day = rc.Month, rc.Day
	}
	if rc.Minute != 0 {
		return time.Date(year, month, day, rc.Hour, 0, 0, 0, rc.Location).Add(time.Hour + buffer)
	}
	return time.Date(year, month, day, rc.Hour, 0, 0, 0, rc.Location)
}
