package schedule

import (
	"encoding/json"
	"strings"
)

// Section is one offered instance of a course. Sections are owned by the
// catalog and treated as read-only values by the engine.
type Section struct {
	id       string
	course   string
	label    string
	title    string
	credits  float64
	capacity Capacity
	faculty  string
	sessions []Session
}

// SectionSpec is the catalog representation of a section.
type SectionSpec struct {
	ID       string        `json:"id,omitempty" yaml:"id"`
	Course   string        `json:"course" yaml:"course"`
	Label    string        `json:"section" yaml:"section"`
	Title    string        `json:"title,omitempty" yaml:"title"`
	Credits  float64       `json:"credits,omitempty" yaml:"credits"`
	Capacity string        `json:"capacity" yaml:"capacity"`
	Faculty  string        `json:"faculty,omitempty" yaml:"faculty"`
	Sessions []SessionSpec `json:"sessions" yaml:"sessions"`
}

// NewSection validates spec and builds a Section. The ID defaults to
// "COURSE-LABEL" when the catalog does not assign one.
func NewSection(spec SectionSpec) (Section, error) {
	course := NormalizeCourseCode(spec.Course)
	if course == "" {
		return Section{}, NewInputError("section is missing a course code")
	}
	label := strings.TrimSpace(spec.Label)
	if label == "" {
		return Section{}, NewInputError("section of %s is missing a label", course)
	}

	sessions := make([]Session, 0, len(spec.Sessions))
	for _, ss := range spec.Sessions {
		sess, err := NewSession(ss)
		if err != nil {
			return Section{}, &Error{kind: KindInput, course: course, msg: "section " + course + "-" + label, err: err}
		}
		sessions = append(sessions, sess)
	}

	id := strings.TrimSpace(spec.ID)
	if id == "" {
		id = course + "-" + label
	}

	return Section{
		id:       id,
		course:   course,
		label:    label,
		title:    strings.TrimSpace(spec.Title),
		credits:  spec.Credits,
		capacity: ParseCapacity(spec.Capacity),
		faculty:  strings.TrimSpace(spec.Faculty),
		sessions: sessions,
	}, nil
}

// MustSection is NewSection for fixtures; it panics on invalid input.
func MustSection(spec SectionSpec) Section {
	s, err := NewSection(spec)
	if err != nil {
		panic(err)
	}
	return s
}

// NormalizeCourseCode upper-cases a course code and strips all whitespace so
// "cse 101" and "CSE101" name the same course.
func NormalizeCourseCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

func (s Section) ID() string         { return s.id }
func (s Section) Course() string     { return s.course }
func (s Section) Label() string      { return s.label }
func (s Section) Title() string      { return s.title }
func (s Section) Credits() float64   { return s.credits }
func (s Section) Capacity() Capacity { return s.capacity }
func (s Section) Faculty() string    { return s.faculty }

// Sessions returns a copy of the section's meetings in catalog order.
func (s Section) Sessions() []Session {
	out := make([]Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// ConflictsWith reports whether any session of s conflicts with any session
// of o.
func (s Section) ConflictsWith(o Section) bool {
	for _, a := range s.sessions {
		for _, b := range o.sessions {
			if a.ConflictsWith(b) {
				return true
			}
		}
	}
	return false
}

// Spec returns the catalog representation of s.
func (s Section) Spec() SectionSpec {
	sessions := make([]SessionSpec, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess.Spec())
	}
	return SectionSpec{
		ID:       s.id,
		Course:   s.course,
		Label:    s.label,
		Title:    s.title,
		Credits:  s.credits,
		Capacity: s.capacity.String(),
		Faculty:  s.faculty,
		Sessions: sessions,
	}
}

// MarshalJSON serializes the section in its catalog form.
func (s Section) MarshalJSON() ([]byte, error) { return json.Marshal(s.Spec()) }

// UnmarshalJSON rebuilds a section from its catalog form.
func (s *Section) UnmarshalJSON(data []byte) error {
	var spec SectionSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return err
	}
	parsed, err := NewSection(spec)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
