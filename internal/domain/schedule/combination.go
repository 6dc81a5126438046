package schedule

import (
	"sort"
	"strings"
)

// Combination holds exactly one section per requested course with no two
// sections in conflict.
type Combination []Section

// keySeparator cannot appear in a catalog section ID.
const keySeparator = "|"

// Admits reports whether s conflicts with none of the sections already in c.
func (c Combination) Admits(s Section) bool {
	for _, existing := range c {
		if existing.ConflictsWith(s) {
			return false
		}
	}
	return true
}

// Clone returns a copy of c that shares no backing storage with it.
func (c Combination) Clone() Combination {
	out := make(Combination, len(c))
	copy(out, c)
	return out
}

// SectionIDs returns the section IDs in combination order.
func (c Combination) SectionIDs() []string {
	ids := make([]string, len(c))
	for i, s := range c {
		ids[i] = s.id
	}
	return ids
}

// Courses returns the course codes in combination order.
func (c Combination) Courses() []string {
	codes := make([]string, len(c))
	for i, s := range c {
		codes[i] = s.course
	}
	return codes
}

// Key identifies the combination independent of section order. Two
// combinations with the same sections always share a key.
func (c Combination) Key() string {
	return CombinationKey(c.SectionIDs())
}

// CombinationKey is Key computed directly from section IDs.
func CombinationKey(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return strings.Join(sorted, keySeparator)
}

// Validate checks that c covers exactly the given course codes once each and
// that no pair of its sections conflicts.
func (c Combination) Validate(courses []string) error {
	want := make(map[string]struct{}, len(courses))
	for _, code := range courses {
		want[code] = struct{}{}
	}
	if len(c) != len(want) {
		return NewInternalError("combination size", nil)
	}
	seen := make(map[string]struct{}, len(c))
	for i, s := range c {
		if _, ok := want[s.course]; !ok {
			return NewInternalError("combination contains unrequested course "+s.course, nil)
		}
		if _, dup := seen[s.course]; dup {
			return NewInternalError("combination repeats course "+s.course, nil)
		}
		seen[s.course] = struct{}{}
		for _, o := range c[i+1:] {
			if s.ConflictsWith(o) {
				return NewInternalError("combination has conflicting sections "+s.id+" and "+o.id, nil)
			}
		}
	}
	return nil
}
