package generation

import (
	"strings"

	"github.com/ahrav/schedule-armada/internal/domain/schedule"
)

// MaxCourses bounds the number of course codes a single request may name.
const MaxCourses = 12

// Request is a validated generation request.
type Request struct {
	Term        string              `json:"term"`
	CourseCodes []string            `json:"courseCodes"`
	Filters     schedule.FilterSpec `json:"filters"`
	UserID      string              `json:"userId,omitempty"`
}

// NewRequest validates and normalizes a request. Course codes are
// upper-cased with whitespace removed; blank and duplicate codes, an empty
// term, and unparseable filters are input errors.
func NewRequest(term string, courseCodes []string, filters schedule.FilterSpec, userID string) (Request, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return Request{}, schedule.NewInputError("term is required")
	}
	if len(courseCodes) == 0 {
		return Request{}, schedule.NewInputError("at least one course code is required")
	}
	if len(courseCodes) > MaxCourses {
		return Request{}, schedule.NewInputError("at most %d course codes may be requested", MaxCourses)
	}

	codes := make([]string, 0, len(courseCodes))
	seen := make(map[string]struct{}, len(courseCodes))
	for _, raw := range courseCodes {
		code := schedule.NormalizeCourseCode(raw)
		if code == "" {
			return Request{}, schedule.NewInputError("course codes must not be blank")
		}
		if _, dup := seen[code]; dup {
			return Request{}, schedule.NewInputError("course %s requested more than once", code)
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	if _, err := schedule.NewFilters(filters); err != nil {
		return Request{}, err
	}

	return Request{
		Term:        term,
		CourseCodes: codes,
		Filters:     filters,
		UserID:      strings.TrimSpace(userID),
	}, nil
}

// ParsedFilters returns the request's filters in domain form. The request
// was validated on construction so the error is only possible for values
// built by hand.
func (r Request) ParsedFilters() (schedule.Filters, error) {
	return schedule.NewFilters(r.Filters)
}
