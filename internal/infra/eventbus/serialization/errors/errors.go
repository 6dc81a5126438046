// Package serializationerrors holds the typed decode failures of bus
// payloads, so callers can tell a missing payload from a malformed field.
package serializationerrors

import "fmt"

// ErrNilEvent reports a payload Struct that was absent.
type ErrNilEvent struct{ EventType string }

func (e ErrNilEvent) Error() string { return "missing " + e.EventType + " payload" }

// ErrInvalidUUID reports an identifier field that is not a UUID.
type ErrInvalidUUID struct {
	Field string
	Err   error
}

func (e ErrInvalidUUID) Error() string { return fmt.Sprintf("field %s is not a uuid: %v", e.Field, e.Err) }
func (e ErrInvalidUUID) Unwrap() error { return e.Err }

// ErrInvalidField reports a field that is missing or malformed.
type ErrInvalidField struct {
	Field string
	Err   error
}

func (e ErrInvalidField) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("field %s: %v", e.Field, e.Err)
	}
	return "field " + e.Field + " missing or malformed"
}

func (e ErrInvalidField) Unwrap() error { return e.Err }
