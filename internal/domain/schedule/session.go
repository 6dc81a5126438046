package schedule

import (
	"encoding/json"
	"strings"
)

// SessionKind distinguishes lectures from labs.
type SessionKind string

const (
	SessionTheory SessionKind = "Theory"
	SessionLab    SessionKind = "Lab"
)

// labMinDuration is the meeting length at which an untyped session is
// assumed to be a lab.
const labMinDuration = 110

// Session is one weekly meeting of a section. It is immutable.
type Session struct {
	days     DaySet
	interval Interval
	rawStart string
	rawEnd   string
	room     string
	faculty  string
	kind     SessionKind
}

// SessionSpec is the catalog representation of a session.
type SessionSpec struct {
	Days      string `json:"days" yaml:"days"`
	StartTime string `json:"startTime" yaml:"startTime"`
	EndTime   string `json:"endTime" yaml:"endTime"`
	Room      string `json:"room,omitempty" yaml:"room"`
	Faculty   string `json:"faculty,omitempty" yaml:"faculty"`
	Kind      string `json:"kind,omitempty" yaml:"kind"`
}

// NewSession validates spec and builds a Session. Unparseable times produce
// an unknown interval rather than an error; unparseable days are rejected.
func NewSession(spec SessionSpec) (Session, error) {
	days, err := ParseDays(spec.Days)
	if err != nil {
		return Session{}, err
	}

	s := Session{
		days:     days,
		interval: ParseInterval(spec.StartTime, spec.EndTime),
		rawStart: strings.TrimSpace(spec.StartTime),
		rawEnd:   strings.TrimSpace(spec.EndTime),
		room:     strings.TrimSpace(spec.Room),
		faculty:  strings.TrimSpace(spec.Faculty),
	}

	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case "lab":
		s.kind = SessionLab
	case "theory", "lecture":
		s.kind = SessionTheory
	case "":
		s.kind = SessionTheory
		if s.interval.Duration() >= labMinDuration {
			s.kind = SessionLab
		}
	default:
		return Session{}, NewInputError("unknown session kind %q", spec.Kind)
	}

	return s, nil
}

func (s Session) Days() DaySet       { return s.days }
func (s Session) Interval() Interval { return s.interval }
func (s Session) Room() string       { return s.room }
func (s Session) Faculty() string    { return s.faculty }
func (s Session) Kind() SessionKind  { return s.kind }

// StartTime returns the start time as published by the catalog.
func (s Session) StartTime() string { return s.rawStart }

// EndTime returns the end time as published by the catalog.
func (s Session) EndTime() string { return s.rawEnd }

// ConflictsWith reports whether the two sessions share a day and overlap in
// time.
func (s Session) ConflictsWith(o Session) bool {
	return s.days.Intersects(o.days) && s.interval.Overlaps(o.interval)
}

// Spec returns the catalog representation of s.
func (s Session) Spec() SessionSpec {
	return SessionSpec{
		Days:      s.days.String(),
		StartTime: s.rawStart,
		EndTime:   s.rawEnd,
		Room:      s.room,
		Faculty:   s.faculty,
		Kind:      string(s.kind),
	}
}

// MarshalJSON serializes the session in its catalog form.
func (s Session) MarshalJSON() ([]byte, error) { return json.Marshal(s.Spec()) }

// UnmarshalJSON rebuilds a session from its catalog form.
func (s *Session) UnmarshalJSON(data []byte) error {
	var spec SessionSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return err
	}
	parsed, err := NewSession(spec)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
