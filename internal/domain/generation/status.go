package generation

import (
	"errors"
	"fmt"
)

// Status represents the lifecycle state of a generation.
type Status string

const (
	// StatusPending indicates the record exists but no work has started.
	StatusPending Status = "PENDING"

	// StatusProcessing indicates enumeration is underway.
	StatusProcessing Status = "PROCESSING"

	// StatusCompleted indicates the search space was exhausted or the cap
	// was reached.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed indicates an unrecoverable error; the reason is recorded.
	StatusFailed Status = "FAILED"

	// StatusCancelled indicates the caller cancelled the generation.
	StatusCancelled Status = "CANCELLED"
)

func (s Status) String() string { return string(s) }

// ParseStatus converts a string to a Status, returning "" when unknown.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s)
	default:
		return ""
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrInvalidTransition is matched by every transition error.
var ErrInvalidTransition = errors.New("invalid generation status transition")

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s Status) ValidateTransition(target Status) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, s, target)
	}
	return nil
}

// isValidTransition enforces the generation lifecycle.
func (s Status) isValidTransition(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusProcessing || target == StatusFailed || target == StatusCancelled
	case StatusProcessing:
		return target == StatusCompleted || target == StatusFailed || target == StatusCancelled
	case StatusCompleted, StatusFailed, StatusCancelled:
		// Terminal states - no further transitions allowed.
		return false
	default:
		return false
	}
}

// SourcesOf lists the statuses from which target may be entered. Stores use
// it to guard transitions atomically.
func SourcesOf(target Status) []Status {
	var out []Status
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled} {
		if s.isValidTransition(target) {
			out = append(out, s)
		}
	}
	return out
}

// Mode distinguishes generations computed in one bounded call from those
// computed by the fan-out driver.
type Mode string

const (
	ModeSync  Mode = "SYNC"
	ModeAsync Mode = "ASYNC"
)
