package schedule

import "sort"

// Course is one requested course code together with the sections the search
// may choose from.
type Course struct {
	Code     string    `json:"code"`
	Sections []Section `json:"sections"`
}

// Prune applies IsValid to every section of every course, preserving the
// catalog order of sections. The first course (in request order) left with no
// valid section fails the whole request with an unsatisfiable error.
func Prune(courses []Course, f Filters) ([]Course, error) {
	pruned := make([]Course, 0, len(courses))
	for _, c := range courses {
		valid := make([]Section, 0, len(c.Sections))
		for _, s := range c.Sections {
			if IsValid(s, f) {
				valid = append(valid, s)
			}
		}
		if len(valid) == 0 {
			return nil, NewUnsatisfiableError(c.Code)
		}
		pruned = append(pruned, Course{Code: c.Code, Sections: valid})
	}
	return pruned, nil
}

// OrderFailFirst sorts courses by ascending section count so the most
// constrained course is branched on first. Ties keep their request order.
// The input slice is not modified.
func OrderFailFirst(courses []Course) []Course {
	ordered := make([]Course, len(courses))
	copy(ordered, courses)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Sections) < len(ordered[j].Sections)
	})
	return ordered
}

// Prepare prunes courses under f and orders the survivors fail-first. The
// result is the search input for both the enumerator and the fan-out driver.
func Prepare(courses []Course, f Filters) ([]Course, error) {
	pruned, err := Prune(courses, f)
	if err != nil {
		return nil, err
	}
	return OrderFailFirst(pruned), nil
}

// SearchSpace is the product of per-course section counts, saturating at
// maxInt so callers can compare it against a threshold safely.
func SearchSpace(courses []Course) int {
	const maxInt = int(^uint(0) >> 1)
	if len(courses) == 0 {
		return 0
	}
	space := 1
	for _, c := range courses {
		n := len(c.Sections)
		if n == 0 {
			return 0
		}
		if space > maxInt/n {
			return maxInt
		}
		space *= n
	}
	return space
}
