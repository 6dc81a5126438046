package schedule

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the category of a schedule error so callers can map it
// to a response without inspecting messages.
type ErrorKind int

const (
	// KindInput indicates a missing or malformed request field.
	KindInput ErrorKind = iota + 1

	// KindUnsatisfiable indicates a requested course has zero valid sections
	// once filters are applied.
	KindUnsatisfiable

	// KindNotFound indicates a course code has no sections at all for the term.
	KindNotFound

	// KindTransient indicates the catalog or a store is temporarily unavailable.
	// Operations failing with this kind may be retried.
	KindTransient

	// KindInternal indicates an unexpected failure.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindInput:
		return "INPUT"
	case KindUnsatisfiable:
		return "UNSATISFIABLE"
	case KindNotFound:
		return "NOT_FOUND"
	case KindTransient:
		return "TRANSIENT"
	case KindInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error is the error type returned by the schedule engine and its
// collaborators. It carries the offending course code when one is known.
type Error struct {
	kind   ErrorKind
	course string
	msg    string
	err    error
}

// Sentinels for errors.Is comparisons. Matching is by kind only.
var (
	ErrInput         = &Error{kind: KindInput}
	ErrUnsatisfiable = &Error{kind: KindUnsatisfiable}
	ErrNotFound      = &Error{kind: KindNotFound}
	ErrTransient     = &Error{kind: KindTransient}
	ErrInternal      = &Error{kind: KindInternal}
)

func (e *Error) Error() string {
	msg := e.msg
	if msg == "" {
		msg = e.kind.String()
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is a schedule error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

// Kind returns the error category.
func (e *Error) Kind() ErrorKind { return e.kind }

// Course returns the course code the error refers to, or "".
func (e *Error) Course() string { return e.course }

// NewInputError reports a malformed request.
func NewInputError(format string, args ...any) error {
	return &Error{kind: KindInput, msg: fmt.Sprintf(format, args...)}
}

// NewUnsatisfiableError reports that course has no valid section left.
func NewUnsatisfiableError(course string) error {
	return &Error{
		kind:   KindUnsatisfiable,
		course: course,
		msg:    fmt.Sprintf("course %s has no valid sections", course),
	}
}

// NewNotFoundError reports that course has no sections for term.
func NewNotFoundError(term, course string) error {
	return &Error{
		kind:   KindNotFound,
		course: course,
		msg:    fmt.Sprintf("no sections found for %s in term %s", course, term),
	}
}

// NewTransientError wraps a retryable backend failure.
func NewTransientError(op string, err error) error {
	return &Error{kind: KindTransient, msg: op, err: err}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(op string, err error) error {
	return &Error{kind: KindInternal, msg: op, err: err}
}

// KindOf returns the kind of the first schedule error in err's chain, or
// KindInternal when err carries none.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.kind
	}
	return KindInternal
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
