package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// Request validation.
	ErrBadRequest = "E_BAD_REQUEST"

	// Account/session.
	ErrUnauthorized = "E_UNAUTHORIZED"
	ErrRateLimit    = "E_RATE_LIMIT"

	// Rule/transaction layer.
	ErrNotFound   = "E_NOT_FOUND"
	ErrNoResource = "E_NO_RESOURCE"
	ErrConflict   = "E_CONFLICT"

	// Store/infrastructure.
	ErrUpstream = "E_UPSTREAM"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]int{
	ErrBadRequest:   http.StatusBadRequest,
	ErrUnauthorized: http.StatusUnauthorized,
	ErrRateLimit:    http.StatusTooManyRequests,
	ErrNotFound:     http.StatusNotFound,
	ErrNoResource:   http.StatusBadRequest,
	ErrConflict:     http.StatusConflict,
	ErrUpstream:     http.StatusBadGateway,
	ErrInternal:     http.StatusInternalServerError,
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// HTTPStatus maps a code to the status the API answers with.
func HTTPStatus(code string) int {
	if st, ok := knownCodes[code]; ok {
		return st
	}
	return http.StatusInternalServerError
}

// Error is a coded, user-presentable failure. Two Errors match under
// errors.Is when their codes are equal and the target has no message,
// so sentinels like ErrListingGone can be wrapped freely.
type Error struct {
	Code    string
	Message string
}

func NewError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// CodeOf returns the code of the first *Error in err's chain, E_INTERNAL
// for any other non-nil error and "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrInternal
}
