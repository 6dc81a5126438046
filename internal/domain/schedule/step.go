package schedule

// Frame is one point in the depth-first search: the courses still to be
// assigned, in search order, and the sections chosen so far.
type Frame struct {
	Remaining []Course
	Partial   Combination
}

// Complete reports whether every course has been assigned.
func (f Frame) Complete() bool { return len(f.Remaining) == 0 }

// Step expands f by its head course. visit is called once per section of the
// head course that fits alongside f.Partial, in catalog order, with the frame
// that results from choosing it. Returning false from visit stops the
// expansion and Step returns false.
//
// The Partial handed to visit extends f.Partial in place when capacity allows,
// so siblings reuse the same slot. Callers that keep a frame beyond the visit
// call must Clone its Partial.
func Step(f Frame, visit func(next Frame) bool) bool {
	if f.Complete() {
		return true
	}
	head, rest := f.Remaining[0], f.Remaining[1:]
	for _, s := range head.Sections {
		if !f.Partial.Admits(s) {
			continue
		}
		if !visit(Frame{Remaining: rest, Partial: append(f.Partial, s)}) {
			return false
		}
	}
	return true
}
