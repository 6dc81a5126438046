package schedule

import (
	"strconv"
	"strings"
)

// Capacity is a section's "enrolled/total" seat count as published by the
// catalog. A malformed value is kept so it can be reported, but it never has
// a free seat.
type Capacity struct {
	raw        string
	enrolled   int
	total      int
	wellFormed bool
}

// ParseCapacity parses an "enrolled/total" string. Whitespace around either
// number is ignored.
func ParseCapacity(raw string) Capacity {
	c := Capacity{raw: raw}
	enr, tot, ok := strings.Cut(raw, "/")
	if !ok {
		return c
	}
	e, err := strconv.Atoi(strings.TrimSpace(enr))
	if err != nil {
		return c
	}
	t, err := strconv.Atoi(strings.TrimSpace(tot))
	if err != nil {
		return c
	}
	c.enrolled, c.total, c.wellFormed = e, t, true
	return c
}

func (c Capacity) Enrolled() int    { return c.enrolled }
func (c Capacity) Total() int       { return c.total }
func (c Capacity) WellFormed() bool { return c.wellFormed }
func (c Capacity) String() string   { return c.raw }

// HasSeat reports whether the section can take another student. Malformed
// values, sections with no seats at all (0/0) and full sections have none.
func (c Capacity) HasSeat() bool {
	return c.wellFormed && c.total > 0 && c.enrolled < c.total
}
