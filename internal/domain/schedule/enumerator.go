package schedule

import (
	"context"
	"errors"
)

// DefaultLimit caps the number of combinations a single generation returns.
const DefaultLimit = 100

// Outcome summarises how an enumeration ended.
type Outcome string

const (
	// OutcomeOK means the search finished or stopped at the limit.
	OutcomeOK Outcome = "OK"
	// OutcomePartial means the caller's deadline or cancellation interrupted
	// the search and the combinations are those found so far.
	OutcomePartial Outcome = "PARTIAL"
)

// Result is the output of a synchronous enumeration.
type Result struct {
	Outcome      Outcome
	Combinations []Combination
	// Frames counts search frames entered, for diagnostics.
	Frames int
	// Interrupted holds the context error when Outcome is PARTIAL.
	Interrupted error
}

// Count is the number of combinations found.
func (r Result) Count() int { return len(r.Combinations) }

// LimitReached reports whether the search stopped because it hit limit.
func (r Result) LimitReached(limit int) bool { return len(r.Combinations) >= limit }

// Enumerator performs a bounded depth-first search over prepared courses.
// It holds no per-search state and is safe for concurrent use.
type Enumerator struct {
	limit int
}

// Option configures an Enumerator.
type Option func(*Enumerator)

// WithLimit sets the result cap. Non-positive values keep the default.
func WithLimit(n int) Option {
	return func(e *Enumerator) {
		if n > 0 {
			e.limit = n
		}
	}
}

// NewEnumerator creates an Enumerator with DefaultLimit unless overridden.
func NewEnumerator(opts ...Option) *Enumerator {
	e := &Enumerator{limit: DefaultLimit}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limit returns the configured result cap.
func (e *Enumerator) Limit() int { return e.limit }

// Enumerate returns combinations of courses in deterministic discovery
// order. courses must already be pruned and ordered (see Prepare). Search
// stops once the limit is reached. If ctx is done mid-search the combinations
// found so far are returned with OutcomePartial.
func (e *Enumerator) Enumerate(ctx context.Context, courses []Course) Result {
	s := &search{ctx: ctx, limit: e.limit}
	if len(courses) > 0 {
		root := Frame{Remaining: courses, Partial: make(Combination, 0, len(courses))}
		s.descend(root)
	}

	res := Result{Outcome: OutcomeOK, Combinations: s.results, Frames: s.frames}
	if s.interrupted != nil {
		res.Outcome = OutcomePartial
		res.Interrupted = s.interrupted
	}
	return res
}

type search struct {
	ctx         context.Context
	limit       int
	results     []Combination
	frames      int
	interrupted error
}

// descend returns false when the search must unwind: the limit was reached
// or the context is done.
func (s *search) descend(f Frame) bool {
	s.frames++
	if err := s.ctx.Err(); err != nil {
		s.interrupted = err
		return false
	}
	if f.Complete() {
		s.results = append(s.results, f.Partial.Clone())
		return len(s.results) < s.limit
	}
	return Step(f, s.descend)
}

// IsDeadline reports whether err came from a deadline rather than an explicit
// cancellation.
func IsDeadline(err error) bool { return errors.Is(err, context.DeadlineExceeded) }
