package schedule

import (
	"fmt"
	"strings"
	"time"
)

var clockLayouts = []string{"3:04 PM", "3:04PM", "15:04", "15:04:05"}

// ParseClock converts a time of day such as "08:30 AM", "8:30PM" or "14:00"
// into minutes since midnight. The boolean is false when s is not a time.
func ParseClock(s string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*60 + t.Minute(), true
		}
	}
	return 0, false
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Interval is a half-open [start, end) span of minutes since midnight. An
// interval whose bounds could not be parsed is unknown and never overlaps
// anything.
type Interval struct {
	start int
	end   int
	known bool
}

// NewInterval builds a known interval.
func NewInterval(start, end int) Interval {
	return Interval{start: start, end: end, known: true}
}

// UnknownInterval is the sentinel for unparseable meeting times.
var UnknownInterval = Interval{}

// ParseInterval parses both bounds; if either fails the result is unknown.
func ParseInterval(start, end string) Interval {
	s, ok := ParseClock(start)
	if !ok {
		return UnknownInterval
	}
	e, ok := ParseClock(end)
	if !ok {
		return UnknownInterval
	}
	return NewInterval(s, e)
}

func (i Interval) Start() int  { return i.start }
func (i Interval) End() int    { return i.end }
func (i Interval) Known() bool { return i.known }

// Duration is the interval length in minutes, 0 when unknown.
func (i Interval) Duration() int {
	if !i.known || i.end < i.start {
		return 0
	}
	return i.end - i.start
}

// Overlaps reports whether max(s1,s2) < min(e1,e2). Unknown intervals never
// overlap.
func (i Interval) Overlaps(o Interval) bool {
	if !i.known || !o.known {
		return false
	}
	return max(i.start, o.start) < min(i.end, o.end)
}

func (i Interval) String() string {
	if !i.known {
		return "unknown"
	}
	return FormatClock(i.start) + "-" + FormatClock(i.end)
}
