// Package errs provides types and support related to web error functionality.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/ahrav/schedule-armada/internal/app/guard"
	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
)

// ErrCode represents an error code in the system.
type ErrCode struct {
	value int
}

// Value returns the integer value of the error code.
func (ec ErrCode) Value() int {
	return ec.value
}

// String returns the string representation of the error code.
func (ec ErrCode) String() string {
	return codeNames[ec]
}

// Error codes the API can return.
var (
	OK                 = ErrCode{value: 0}
	InvalidArgument    = ErrCode{value: 1}
	NotFound           = ErrCode{value: 2}
	Unsatisfiable      = ErrCode{value: 3}
	FailedPrecondition = ErrCode{value: 4}
	ResourceExhausted  = ErrCode{value: 5}
	Unavailable        = ErrCode{value: 6}
	Internal           = ErrCode{value: 7}
)

var codeNames = map[ErrCode]string{
	OK:                 "ok",
	InvalidArgument:    "invalid_argument",
	NotFound:           "not_found",
	Unsatisfiable:      "unsatisfiable",
	FailedPrecondition: "failed_precondition",
	ResourceExhausted:  "resource_exhausted",
	Unavailable:        "unavailable",
	Internal:           "internal",
}

var httpStatus = map[ErrCode]int{
	OK:                 http.StatusOK,
	InvalidArgument:    http.StatusBadRequest,
	NotFound:           http.StatusNotFound,
	Unsatisfiable:      http.StatusUnprocessableEntity,
	FailedPrecondition: http.StatusConflict,
	ResourceExhausted:  http.StatusTooManyRequests,
	Unavailable:        http.StatusServiceUnavailable,
	Internal:           http.StatusInternalServerError,
}

// Error represents an error in the system.
type Error struct {
	Code     ErrCode `json:"code"`
	Message  string  `json:"message"`
	Course   string  `json:"course,omitempty"`
	FuncName string  `json:"-"`
	FileName string  `json:"-"`
}

// New constructs an error based on an app error.
func New(code ErrCode, err error) *Error {
	pc, filename, line, _ := runtime.Caller(1)

	e := Error{
		Code:     code,
		Message:  err.Error(),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
	}

	var se *schedule.Error
	if errors.As(err, &se) {
		e.Course = se.Course()
	}

	return &e
}

// Newf constructs an error based on a error message.
func Newf(code ErrCode, format string, v ...any) *Error {
	pc, filename, line, _ := runtime.Caller(1)

	return &Error{
		Code:     code,
		Message:  fmt.Sprintf(format, v...),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Encode implements the web.Encoder interface.
func (e *Error) Encode() ([]byte, string, error) {
	data, err := json.Marshal(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Course  string `json:"course,omitempty"`
	}{
		Code:    e.Code.String(),
		Message: e.Message,
		Course:  e.Course,
	})
	return data, "application/json", err
}

// HTTPStatus implements the web package httpStatus interface so the
// web framework can use the correct http status.
func (e *Error) HTTPStatus() int {
	return httpStatus[e.Code]
}

// Equal provides support for the go-cmp package and testing.
func (e *Error) Equal(e2 *Error) bool {
	return e.Code == e2.Code && e.Message == e2.Message
}

// IsError tests the concrete error is of the Error type.
func IsError(err error) bool {
	var er *Error
	return errors.As(err, &er)
}

// GetError returns a copy of the Error pointer.
func GetError(err error) *Error {
	var er *Error
	if !errors.As(err, &er) {
		return nil
	}
	return er
}

// FromApp maps an error returned by the application layer to its API error.
func FromApp(err error) *Error {
	switch {
	case errors.Is(err, generation.ErrGenerationNotFound):
		return New(NotFound, err)
	case errors.Is(err, guard.ErrRateLimited):
		return New(ResourceExhausted, err)
	case errors.Is(err, guard.ErrSystemDisabled):
		return New(Unavailable, err)
	}

	switch schedule.KindOf(err) {
	case schedule.KindInput:
		return New(InvalidArgument, err)
	case schedule.KindUnsatisfiable:
		return New(Unsatisfiable, err)
	case schedule.KindNotFound:
		return New(NotFound, err)
	case schedule.KindTransient:
		return New(Unavailable, err)
	default:
		return New(Internal, err)
	}
}
