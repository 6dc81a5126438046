package schedule

import (
	"sort"
	"strings"
)

// Weekday is one of the seven days a session may meet on.
type Weekday uint8

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayNames = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Compact catalog symbols. Thursday is R and Saturday is A so every day has
// a distinct single letter.
var weekdaySymbols = [...]string{"S", "M", "T", "W", "R", "F", "A"}

func (d Weekday) String() string {
	if int(d) < len(weekdayNames) {
		return weekdayNames[d]
	}
	return "Weekday(?)"
}

// Symbol returns the compact one-letter code for d.
func (d Weekday) Symbol() string {
	if int(d) < len(weekdaySymbols) {
		return weekdaySymbols[d]
	}
	return "?"
}

// DaySet is a subset of the seven weekdays stored as a bit set.
type DaySet uint8

// NewDaySet builds a set from the given days.
func NewDaySet(days ...Weekday) DaySet {
	var s DaySet
	for _, d := range days {
		s |= 1 << d
	}
	return s
}

// Has reports whether d is in the set.
func (s DaySet) Has(d Weekday) bool { return s&(1<<d) != 0 }

// Intersects reports whether the two sets share at least one day.
func (s DaySet) Intersects(o DaySet) bool { return s&o != 0 }

// Empty reports whether the set has no days.
func (s DaySet) Empty() bool { return s == 0 }

// Union returns the days in either set.
func (s DaySet) Union(o DaySet) DaySet { return s | o }

// Days returns the members of the set in week order starting on Sunday.
func (s DaySet) Days() []Weekday {
	days := make([]Weekday, 0, 7)
	for d := Sunday; d <= Saturday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// String renders the set in compact catalog form, e.g. "MW". Adjacent
// symbols that would read back as a single longer token ("SA") are separated
// by a space so the result always parses to the same set.
func (s DaySet) String() string {
	var b strings.Builder
	prev := ""
	for _, d := range s.Days() {
		sym := d.Symbol()
		if tok, ok := matchDayToken(prev + sym); ok && len(tok.text) > 1 {
			b.WriteByte(' ')
		}
		b.WriteString(sym)
		prev = sym
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (s DaySet) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *DaySet) UnmarshalText(b []byte) error {
	parsed, err := ParseDays(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type dayToken struct {
	text string
	day  Weekday
}

// dayTokens holds every accepted spelling, longest first, so a scan always
// prefers "THU" over "T" followed by "HU".
var dayTokens = func() []dayToken {
	spellings := map[Weekday][]string{
		Sunday:    {"SUNDAY", "SUN", "SU", "S"},
		Monday:    {"MONDAY", "MON", "MO", "M"},
		Tuesday:   {"TUESDAY", "TUES", "TUE", "TU", "T"},
		Wednesday: {"WEDNESDAY", "WED", "WE", "W"},
		Thursday:  {"THURSDAY", "THURS", "THU", "TH", "R"},
		Friday:    {"FRIDAY", "FRI", "FR", "F"},
		Saturday:  {"SATURDAY", "SAT", "SA", "A"},
	}
	var toks []dayToken
	for d, ss := range spellings {
		for _, s := range ss {
			toks = append(toks, dayToken{text: s, day: d})
		}
	}
	sort.Slice(toks, func(i, j int) bool {
		if len(toks[i].text) != len(toks[j].text) {
			return len(toks[i].text) > len(toks[j].text)
		}
		return toks[i].text < toks[j].text
	})
	return toks
}()

// ParseDays parses a meeting day string. It accepts compact symbols ("MW",
// "SMTWRFA"), separated forms ("T R", "Mon,Wed") and abbreviated or full
// names, case-insensitively. The empty string and "TBA" yield the empty set.
// Unrecognised characters are an input error.
func ParseDays(s string) (DaySet, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if upper == "" || upper == "TBA" {
		return 0, nil
	}

	var set DaySet
	for _, field := range strings.FieldsFunc(upper, isDaySeparator) {
		for i := 0; i < len(field); {
			tok, ok := matchDayToken(field[i:])
			if !ok {
				return 0, NewInputError("unrecognised day %q in %q", field[i:], s)
			}
			set |= 1 << tok.day
			i += len(tok.text)
		}
	}
	return set, nil
}

func matchDayToken(s string) (dayToken, bool) {
	for _, tok := range dayTokens {
		if strings.HasPrefix(s, tok.text) {
			return tok, true
		}
	}
	return dayToken{}, false
}

func isDaySeparator(r rune) bool {
	switch r {
	case ' ', '\t', ',', '/', ';', '-':
		return true
	}
	return false
}
