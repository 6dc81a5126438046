package schedule

import "strings"

// Filters are the per-request exclusion criteria applied to every section
// before search begins.
type Filters struct {
	excludeDays    DaySet
	excludeFaculty []string
}

// FilterSpec is the request representation of Filters.
type FilterSpec struct {
	ExcludeDays    []string `json:"excludeDays,omitempty"`
	ExcludeFaculty []string `json:"excludeFaculty,omitempty"`
}

// NewFilters parses spec. Each excluded day may be any spelling ParseDays
// accepts. Blank faculty entries are dropped and the rest are matched
// case-insensitively as substrings.
func NewFilters(spec FilterSpec) (Filters, error) {
	var f Filters
	for _, d := range spec.ExcludeDays {
		if strings.TrimSpace(d) == "" {
			continue
		}
		days, err := ParseDays(d)
		if err != nil {
			return Filters{}, err
		}
		f.excludeDays |= days
	}
	for _, name := range spec.ExcludeFaculty {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			f.excludeFaculty = append(f.excludeFaculty, name)
		}
	}
	return f, nil
}

func (f Filters) ExcludeDays() DaySet { return f.excludeDays }

// ExcludeFaculty returns the normalized faculty substrings.
func (f Filters) ExcludeFaculty() []string {
	out := make([]string, len(f.excludeFaculty))
	copy(out, f.excludeFaculty)
	return out
}

// IsZero reports whether no exclusion is configured.
func (f Filters) IsZero() bool { return f.excludeDays.Empty() && len(f.excludeFaculty) == 0 }

// IsValid reports whether section may appear in any combination under f. A
// section needs a free seat, must not meet on an excluded day, and must not
// be taught by excluded faculty. Capacity alone decides when f is empty.
func IsValid(section Section, f Filters) bool {
	if !section.capacity.HasSeat() {
		return false
	}
	if f.IsZero() {
		return true
	}

	if !f.excludeDays.Empty() {
		for _, sess := range section.sessions {
			if sess.days.Intersects(f.excludeDays) {
				return false
			}
		}
	}

	if len(f.excludeFaculty) > 0 {
		if f.excludesFaculty(section.faculty) {
			return false
		}
		for _, sess := range section.sessions {
			if f.excludesFaculty(sess.faculty) {
				return false
			}
		}
	}

	return true
}

func (f Filters) excludesFaculty(name string) bool {
	if name == "" {
		return false
	}
	name = strings.ToLower(name)
	for _, ex := range f.excludeFaculty {
		if strings.Contains(name, ex) {
			return true
		}
	}
	return false
}
