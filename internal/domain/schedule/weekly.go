package schedule

import (
	"encoding/json"
	"sort"
)

// Meeting is one entry of a weekly template.
type Meeting struct {
	CourseCode string      `json:"courseCode"`
	Title      string      `json:"title,omitempty"`
	Section    string      `json:"section"`
	StartTime  string      `json:"startTime"`
	EndTime    string      `json:"endTime"`
	Room       string      `json:"room"`
	Kind       SessionKind `json:"kind"`
	Faculty    string      `json:"faculty,omitempty"`

	start int
}

// Week lists a combination's meetings per weekday, each day sorted by start
// time. Meetings with unknown times sort first.
type Week [7][]Meeting

// WeeklyTemplate lays the sessions of c out over the week.
func WeeklyTemplate(c Combination) Week {
	var w Week
	for _, sec := range c {
		for _, sess := range sec.sessions {
			room := sess.room
			if room == "" {
				room = "TBA"
			}
			m := Meeting{
				CourseCode: sec.course,
				Title:      sec.title,
				Section:    sec.label,
				StartTime:  sess.rawStart,
				EndTime:    sess.rawEnd,
				Room:       room,
				Kind:       sess.kind,
				Faculty:    sess.faculty,
			}
			if sess.interval.Known() {
				m.start = sess.interval.Start()
			}
			for _, d := range sess.days.Days() {
				w[d] = append(w[d], m)
			}
		}
	}
	for d := range w {
		sort.SliceStable(w[d], func(i, j int) bool { return w[d][i].start < w[d][j].start })
	}
	return w
}

// Day returns the meetings on d.
func (w Week) Day(d Weekday) []Meeting { return w[d] }

// MarshalJSON renders the week keyed by day name with every day present.
func (w Week) MarshalJSON() ([]byte, error) {
	out := make(map[string][]Meeting, len(w))
	for d := Sunday; d <= Saturday; d++ {
		meetings := w[d]
		if meetings == nil {
			meetings = []Meeting{}
		}
		out[d.String()] = meetings
	}
	return json.Marshal(out)
}
